package settlement

import "math/big"

// bps denominator: 10000 basis points = 100%
const bpsDenominator = 10000

// Payout is the three-way split of a sale price.
type Payout struct {
	SellerAmount  int64 `json:"seller_amount"`
	FeeAmount     int64 `json:"fee_amount"`
	RoyaltyAmount int64 `json:"royalty_amount"`
}

// Split converts a sale price into seller payout, marketplace fee and creator
// royalty. Fee and royalty are computed with truncating integer division;
// the seller receives the remainder, so the three legs always sum to price
// exactly. The multiply is widened through math/big so no intermediate
// overflow is possible for any in-range price.
func Split(price int64, feeBps, royaltyBps uint32) Payout {
	fee := bpsShare(price, feeBps)
	royalty := bpsShare(price, royaltyBps)

	return Payout{
		SellerAmount:  price - fee - royalty,
		FeeAmount:     fee,
		RoyaltyAmount: royalty,
	}
}

// bpsShare returns price*bps/10000, truncated toward zero.
func bpsShare(price int64, bps uint32) int64 {
	share := new(big.Int).Mul(big.NewInt(price), big.NewInt(int64(bps)))
	share.Quo(share, big.NewInt(bpsDenominator))
	return share.Int64()
}
