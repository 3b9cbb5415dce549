package types

import "errors"

// Marketplace error taxonomy. Every validation failure aborts the whole
// operation; callers decide whether to resubmit.
var (
	ErrNotInitialized       = errors.New("marketplace not initialized")
	ErrAlreadyInitialized   = errors.New("marketplace already initialized")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrListingNotFound      = errors.New("listing not found")
	ErrListingNotActive     = errors.New("listing is not active")
	ErrOfferNotFound        = errors.New("offer not found")
	ErrOfferNotOpen         = errors.New("offer is not open")
	ErrCounterOfferNotFound = errors.New("counter offer not found")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInvalidFee           = errors.New("fee cannot exceed 100%")
	ErrInvalidRoyalty       = errors.New("royalty cannot exceed 100%")
	ErrInvalidDuration      = errors.New("invalid listing duration")
	ErrInvalidExpiration    = errors.New("expiration time must be in the future")
	ErrAssetNotOwned        = errors.New("asset not owned by seller")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrOfferExpired         = errors.New("offer has expired")
	ErrInvalidAssetType     = errors.New("invalid asset type")
	ErrOwnListing           = errors.New("cannot trade against your own listing")
	ErrNoPriceHistory       = errors.New("no price history for asset")
)
