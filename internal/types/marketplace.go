package types

import (
	"time"

	"gorm.io/gorm"
)

// Asset kinds tradeable on the marketplace
const (
	AssetKindNFT  = "NFT"
	AssetKindItem = "ITEM"
	AssetKindHint = "HINT"
)

// Listing statuses
const (
	ListingStatusActive    = "ACTIVE"
	ListingStatusSold      = "SOLD"
	ListingStatusCancelled = "CANCELLED"
)

// Offer statuses
const (
	OfferStatusOpen      = "OPEN"
	OfferStatusAccepted  = "ACCEPTED"
	OfferStatusRejected  = "REJECTED"
	OfferStatusCancelled = "CANCELLED"
	OfferStatusCountered = "COUNTERED"
)

// Counter names for entity ID allocation
const (
	CounterListings      = "listings"
	CounterOffers        = "offers"
	CounterCounterOffers = "counter_offers"
)

// MaxBps is the basis-point ceiling (10000 = 100%)
const MaxBps = 10000

// Asset identifies what is being traded. The marketplace treats it as opaque
// beyond ownership and transfer calls against its registry.
type Asset struct {
	Kind        string `gorm:"index" json:"kind"` // NFT, ITEM or HINT
	RegistryRef string `gorm:"index" json:"registry_ref"`
	AssetID     uint32 `gorm:"index" json:"asset_id"`
}

// ValidKind reports whether the asset kind is one the marketplace accepts.
func (a Asset) ValidKind() bool {
	switch a.Kind {
	case AssetKindNFT, AssetKindItem, AssetKindHint:
		return true
	}
	return false
}

type Listing struct {
	gorm.Model   `json:"-"`
	ListingID    uint64     `gorm:"uniqueIndex" json:"listing_id"`
	Seller       string     `gorm:"index" json:"seller"`
	Asset        Asset      `gorm:"embedded;embeddedPrefix:asset_" json:"asset"`
	PaymentToken string     `json:"payment_token"`
	Price        int64      `json:"price"`
	Status       string     `gorm:"index" json:"status"` // ACTIVE, SOLD, CANCELLED
	Creator      *string    `json:"creator,omitempty"`
	RoyaltyBps   uint32     `json:"royalty_bps"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Offer struct {
	gorm.Model `json:"-"`
	OfferID    uint64     `gorm:"uniqueIndex" json:"offer_id"`
	ListingID  uint64     `gorm:"index" json:"listing_id"`
	Buyer      string     `gorm:"index" json:"buyer"`
	Price      int64      `json:"price"`
	Status     string     `gorm:"index" json:"status"` // OPEN, ACCEPTED, REJECTED, CANCELLED, COUNTERED
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type CounterOffer struct {
	gorm.Model     `json:"-"`
	CounterOfferID uint64     `gorm:"uniqueIndex" json:"counter_offer_id"`
	OfferID        uint64     `gorm:"index" json:"offer_id"`
	Seller         string     `json:"seller"`
	Price          int64      `json:"price"`
	Resolved       bool       `json:"resolved"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// MarketplaceConfig is a singleton row holding the marketplace parameters.
// Only the stored admin may mutate it.
type MarketplaceConfig struct {
	gorm.Model         `json:"-"`
	Admin              string    `json:"admin"`
	FeeRecipient       string    `json:"fee_recipient"`
	FeeBps             uint32    `json:"fee_bps"`
	MinListingDuration int64     `json:"min_listing_duration"` // seconds
	MaxListingDuration int64     `json:"max_listing_duration"` // seconds
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Counter holds a monotonically increasing entity ID sequence. IDs start at 1
// and are never reused, even after a record is logically removed.
type Counter struct {
	gorm.Model `json:"-"`
	Name       string `gorm:"uniqueIndex" json:"name"`
	Value      uint64 `json:"value"`
}

// PricePoint is one settled sale price for an asset. Only the latest 100
// points per asset are retained.
type PricePoint struct {
	gorm.Model  `json:"-"`
	RegistryRef string    `gorm:"index:idx_price_asset" json:"registry_ref"`
	AssetID     uint32    `gorm:"index:idx_price_asset" json:"asset_id"`
	Price       int64     `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}
