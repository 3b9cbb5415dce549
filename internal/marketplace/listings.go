package marketplace

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Samuel1505/quest-marketplace/internal/notify"
	"github.com/Samuel1505/quest-marketplace/internal/types"
)

// CreateListingRequest carries the parameters for a new listing.
type CreateListingRequest struct {
	Asset        types.Asset `json:"asset" binding:"required"`
	PaymentToken string      `json:"payment_token" binding:"required"`
	Price        int64       `json:"price"`
	Creator      *string     `json:"creator"`
	RoyaltyBps   uint32      `json:"royalty_bps"`
	Duration     *int64      `json:"duration"` // seconds; bounded by config when set
}

// CreateListing escrows the seller's asset and records a new active listing.
// The caller must own the asset according to its registry.
func (s *Service) CreateListing(seller string, req CreateListingRequest) (*types.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().
		Str("seller", seller).
		Str("registry_ref", req.Asset.RegistryRef).
		Uint32("asset_id", req.Asset.AssetID).
		Str("service", "marketplace").
		Logger()

	config, err := s.GetConfig()
	if err != nil {
		return nil, err
	}

	if !req.Asset.ValidKind() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidAssetType, req.Asset.Kind)
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidPrice, req.Price)
	}
	if req.RoyaltyBps > types.MaxBps {
		return nil, fmt.Errorf("%w: %d bps", types.ErrInvalidRoyalty, req.RoyaltyBps)
	}

	var expiresAt *time.Time
	if req.Duration != nil {
		if *req.Duration < config.MinListingDuration || *req.Duration > config.MaxListingDuration {
			return nil, fmt.Errorf("%w: %d seconds outside [%d, %d]",
				types.ErrInvalidDuration, *req.Duration, config.MinListingDuration, config.MaxListingDuration)
		}
		deadline := time.Now().Add(time.Duration(*req.Duration) * time.Second)
		expiresAt = &deadline
	}

	owner, err := s.assets.OwnerOf(req.Asset.RegistryRef, req.Asset.AssetID)
	if err != nil {
		return nil, err
	}
	if owner != seller {
		return nil, fmt.Errorf("%w: held by %s", types.ErrAssetNotOwned, owner)
	}

	// Move the asset into custody before the listing exists; a failed escrow
	// aborts the whole operation.
	if err := s.assets.Transfer(req.Asset.RegistryRef, req.Asset.AssetID, seller, EscrowAccount); err != nil {
		return nil, fmt.Errorf("failed to escrow asset: %w", err)
	}

	listing := &types.Listing{
		Seller:       seller,
		Asset:        req.Asset,
		PaymentToken: req.PaymentToken,
		Price:        req.Price,
		Status:       types.ListingStatusActive,
		Creator:      req.Creator,
		RoyaltyBps:   req.RoyaltyBps,
		ExpiresAt:    expiresAt,
	}

	if err := s.db.CreateListing(listing); err != nil {
		return nil, err
	}

	logger.Info().
		Uint64("listing_id", listing.ListingID).
		Int64("price", listing.Price).
		Msg("listing created")

	s.publish(notify.Event{
		Type:      notify.EventListingCreated,
		ListingID: listing.ListingID,
		Seller:    seller,
		Price:     listing.Price,
	})

	return listing, nil
}

// Buy settles a listing at its asking price: payment moves through escrow to
// the seller, fee recipient and creator, the asset moves to the buyer,
// outstanding bids are refunded, and the sale price is recorded in the
// asset's history.
func (s *Service) Buy(buyer string, listingID uint64) (*types.SaleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().
		Str("buyer", buyer).
		Uint64("listing_id", listingID).
		Str("service", "marketplace").
		Logger()

	listing, err := s.activeListing(listingID)
	if err != nil {
		return nil, err
	}
	if listing.Seller == buyer {
		return nil, fmt.Errorf("%w: cannot buy your own listing", types.ErrOwnListing)
	}

	config, err := s.GetConfig()
	if err != nil {
		return nil, err
	}

	split := payout(listing.Price, config, listing)

	// Payment in, then seller/fee/royalty legs out of escrow in order.
	if err := s.tokens.Transfer(listing.PaymentToken, buyer, EscrowAccount, listing.Price); err != nil {
		return nil, fmt.Errorf("failed to collect payment: %w", err)
	}
	if err := s.disburse(listing, listing.Seller, split, config); err != nil {
		return nil, err
	}

	if err := s.assets.Transfer(listing.Asset.RegistryRef, listing.Asset.AssetID, EscrowAccount, buyer); err != nil {
		return nil, fmt.Errorf("failed to release asset: %w", err)
	}

	refunded, err := s.refundOpenOffers(listing, 0)
	if err != nil {
		return nil, err
	}

	listing.Status = types.ListingStatusSold
	if err := s.db.FinalizeSale(listing, nil, nil, refunded, s.recordSalePrice(listing, listing.Price)); err != nil {
		return nil, err
	}

	logger.Info().
		Str("seller", listing.Seller).
		Int64("price", listing.Price).
		Int64("seller_amount", split.SellerAmount).
		Int64("fee_amount", split.FeeAmount).
		Int64("royalty_amount", split.RoyaltyAmount).
		Int("offers_refunded", len(refunded)).
		Msg("listing sold")

	s.publish(notify.Event{
		Type:      notify.EventListingSold,
		ListingID: listing.ListingID,
		Seller:    listing.Seller,
		Buyer:     buyer,
		Price:     listing.Price,
	})

	return &types.SaleResponse{
		ListingID:     listing.ListingID,
		Buyer:         buyer,
		Price:         listing.Price,
		SellerAmount:  split.SellerAmount,
		FeeAmount:     split.FeeAmount,
		RoyaltyAmount: split.RoyaltyAmount,
		Timestamp:     time.Now(),
	}, nil
}

// CancelListing returns the escrowed asset to the seller, refunds every
// still-open offer and retires the listing.
func (s *Service) CancelListing(caller string, listingID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return err
	}
	if listing == nil {
		return fmt.Errorf("%w: listing %d", types.ErrListingNotFound, listingID)
	}
	if listing.Seller != caller {
		return fmt.Errorf("%w: not the listing seller", types.ErrNotAuthorized)
	}
	if listing.Status != types.ListingStatusActive {
		return fmt.Errorf("%w: listing %d is %s", types.ErrListingNotActive, listingID, listing.Status)
	}

	if err := s.assets.Transfer(listing.Asset.RegistryRef, listing.Asset.AssetID, EscrowAccount, caller); err != nil {
		return fmt.Errorf("failed to return asset: %w", err)
	}

	refunded, err := s.refundOpenOffers(listing, 0)
	if err != nil {
		return err
	}

	listing.Status = types.ListingStatusCancelled
	if err := s.db.CancelListing(listing, refunded); err != nil {
		return err
	}

	log.Info().
		Uint64("listing_id", listingID).
		Str("seller", caller).
		Int("offers_refunded", len(refunded)).
		Str("service", "marketplace").
		Msg("listing cancelled")

	s.publish(notify.Event{
		Type:      notify.EventListingCancelled,
		ListingID: listingID,
		Seller:    caller,
	})

	return nil
}

// GetListing retrieves a listing by its ID.
func (s *Service) GetListing(listingID uint64) (*types.Listing, error) {
	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: listing %d", types.ErrListingNotFound, listingID)
	}
	return listing, nil
}

func (s *Service) GetListingsBySeller(seller string) ([]types.Listing, error) {
	return s.db.GetListingsBySeller(seller)
}

func (s *Service) GetListingsByAsset(registryRef string, assetID uint32) ([]types.Listing, error) {
	return s.db.GetListingsByAsset(registryRef, assetID)
}

func (s *Service) GetActiveListings() ([]types.Listing, error) {
	return s.db.GetActiveListings()
}

// activeListing loads a listing and verifies it can still be traded against.
func (s *Service) activeListing(listingID uint64) (*types.Listing, error) {
	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: listing %d", types.ErrListingNotFound, listingID)
	}
	if listing.Status != types.ListingStatusActive {
		return nil, fmt.Errorf("%w: listing %d is %s", types.ErrListingNotActive, listingID, listing.Status)
	}
	if listing.ExpiresAt != nil && time.Now().After(*listing.ExpiresAt) {
		return nil, fmt.Errorf("%w: listing %d has expired", types.ErrListingNotActive, listingID)
	}
	return listing, nil
}

// recordSalePrice returns the history write to run inside the finalizing
// transaction.
func (s *Service) recordSalePrice(listing *types.Listing, price int64) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		return s.history.WithTx(tx).Record(listing.Asset.RegistryRef, listing.Asset.AssetID, price)
	}
}
