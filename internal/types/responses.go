package types

import "time"

// SaleResponse describes a finalized sale and its payout split
type SaleResponse struct {
	ListingID     uint64    `json:"listing_id"`
	Buyer         string    `json:"buyer"`
	Price         int64     `json:"price"`
	SellerAmount  int64     `json:"seller_amount"`
	FeeAmount     int64     `json:"fee_amount"`
	RoyaltyAmount int64     `json:"royalty_amount"`
	Timestamp     time.Time `json:"timestamp"`
}

// PriceStatsResponse summarises the recorded price history for an asset
type PriceStatsResponse struct {
	RegistryRef string `json:"registry_ref"`
	AssetID     uint32 `json:"asset_id"`
	Count       int    `json:"count"`
	Average     int64  `json:"average"`
	Min         int64  `json:"min"`
	Max         int64  `json:"max"`
}
