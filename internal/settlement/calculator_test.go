package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit_ExactScenario(t *testing.T) {
	// price 1000, fee 2.5%, royalty 5%
	payout := Split(1000, 250, 500)

	assert.Equal(t, int64(925), payout.SellerAmount)
	assert.Equal(t, int64(25), payout.FeeAmount)
	assert.Equal(t, int64(50), payout.RoyaltyAmount)
}

func TestSplit_Conservation(t *testing.T) {
	prices := []int64{1, 3, 7, 99, 1000, 12345, 999999999, 1<<62 - 1}
	bps := []uint32{0, 1, 250, 333, 500, 9999, 10000}

	for _, price := range prices {
		for _, fee := range bps {
			for _, royalty := range bps {
				payout := Split(price, fee, royalty)
				sum := payout.SellerAmount + payout.FeeAmount + payout.RoyaltyAmount
				assert.Equal(t, price, sum,
					"price=%d fee=%d royalty=%d must split without leakage", price, fee, royalty)
			}
		}
	}
}

func TestSplit_TruncatesTowardZero(t *testing.T) {
	// 99 * 250 / 10000 = 2.475 -> 2
	payout := Split(99, 250, 0)

	assert.Equal(t, int64(2), payout.FeeAmount)
	assert.Equal(t, int64(97), payout.SellerAmount)
	assert.Equal(t, int64(0), payout.RoyaltyAmount)
}

func TestSplit_ZeroRates(t *testing.T) {
	payout := Split(1000, 0, 0)

	assert.Equal(t, int64(1000), payout.SellerAmount)
	assert.Equal(t, int64(0), payout.FeeAmount)
	assert.Equal(t, int64(0), payout.RoyaltyAmount)
}

func TestSplit_FullFee(t *testing.T) {
	// 100% fee leaves the seller with nothing
	payout := Split(1000, 10000, 0)

	assert.Equal(t, int64(0), payout.SellerAmount)
	assert.Equal(t, int64(1000), payout.FeeAmount)
}

func TestSplit_LargePriceNoOverflow(t *testing.T) {
	// price*bps would overflow int64 without the widening multiply
	price := int64(1<<62 - 1)
	payout := Split(price, 10000, 0)

	assert.Equal(t, price, payout.FeeAmount)
	assert.Equal(t, int64(0), payout.SellerAmount)
}
