// Package marketplace implements the escrow and negotiation engine: listings,
// offers, counter-offers and the settlement paths between them. Assets and
// bid funds are held in custodial escrow from creation until a deal resolves.
package marketplace

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/Samuel1505/quest-marketplace/internal/history"
	"github.com/Samuel1505/quest-marketplace/internal/notify"
	"github.com/Samuel1505/quest-marketplace/internal/registry"
	"github.com/Samuel1505/quest-marketplace/internal/settlement"
	"github.com/Samuel1505/quest-marketplace/internal/token"
	"github.com/Samuel1505/quest-marketplace/internal/types"
)

// EscrowAccount is the marketplace's own custody account. Payment escrow and
// listed assets are held under this principal between initiation and
// resolution of a trade.
const EscrowAccount = "marketplace-escrow"

const configCacheKey = "marketplace-config"

// Service owns all marketplace state transitions. Mutating operations are
// serialized by mu: each entry point runs to completion before another can
// observe its effects.
type Service struct {
	db      *Database
	tokens  token.Transferor
	assets  registry.Client
	events  *notify.Dispatcher
	history *history.Service
	cache   *gocache.Cache

	mu sync.Mutex
}

func NewService(gormDB *gorm.DB, tokens token.Transferor, assets registry.Client, events *notify.Dispatcher) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		tokens:  tokens,
		assets:  assets,
		events:  events,
		history: history.NewService(gormDB),
		cache:   gocache.New(time.Minute, 5*time.Minute),
	}
}

// History exposes the price-history tracker fed by settled sales.
func (s *Service) History() *history.Service {
	return s.history
}

// Initialize persists the marketplace configuration and resets the entity
// counters. It may only succeed once per deployment.
func (s *Service) Initialize(admin, feeRecipient string, feeBps uint32, minDuration, maxDuration int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.db.HasConfig()
	if err != nil {
		return err
	}
	if exists {
		return types.ErrAlreadyInitialized
	}

	if feeBps > types.MaxBps {
		return types.ErrInvalidFee
	}
	if minDuration < 0 || maxDuration < minDuration {
		return fmt.Errorf("%w: min %d, max %d", types.ErrInvalidDuration, minDuration, maxDuration)
	}

	config := &types.MarketplaceConfig{
		Admin:              admin,
		FeeRecipient:       feeRecipient,
		FeeBps:             feeBps,
		MinListingDuration: minDuration,
		MaxListingDuration: maxDuration,
	}

	if err := s.db.CreateConfig(config); err != nil {
		return err
	}

	s.cache.Delete(configCacheKey)
	return nil
}

// UpdateConfigRequest carries the optional overrides for UpdateConfig. Nil
// fields leave the stored value unchanged.
type UpdateConfigRequest struct {
	FeeRecipient       *string `json:"fee_recipient"`
	FeeBps             *uint32 `json:"fee_bps"`
	MinListingDuration *int64  `json:"min_listing_duration"`
	MaxListingDuration *int64  `json:"max_listing_duration"`
}

// UpdateConfig overwrites the supplied configuration fields. Only the stored
// admin may call it.
func (s *Service) UpdateConfig(caller string, req UpdateConfigRequest) (*types.MarketplaceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	config, err := s.db.GetConfig()
	if err != nil {
		return nil, err
	}

	if caller != config.Admin {
		return nil, fmt.Errorf("%w: only the admin may update configuration", types.ErrNotAuthorized)
	}

	if req.FeeRecipient != nil {
		config.FeeRecipient = *req.FeeRecipient
	}
	if req.FeeBps != nil {
		if *req.FeeBps > types.MaxBps {
			return nil, types.ErrInvalidFee
		}
		config.FeeBps = *req.FeeBps
	}
	if req.MinListingDuration != nil {
		config.MinListingDuration = *req.MinListingDuration
	}
	if req.MaxListingDuration != nil {
		config.MaxListingDuration = *req.MaxListingDuration
	}

	if config.MinListingDuration < 0 || config.MaxListingDuration < config.MinListingDuration {
		return nil, fmt.Errorf("%w: min %d, max %d",
			types.ErrInvalidDuration, config.MinListingDuration, config.MaxListingDuration)
	}

	if err := s.db.UpdateConfig(config); err != nil {
		return nil, err
	}

	s.cache.Delete(configCacheKey)
	return config, nil
}

// GetConfig returns the marketplace configuration, served from a short-lived
// cache since every settlement path reads it.
func (s *Service) GetConfig() (*types.MarketplaceConfig, error) {
	if cached, found := s.cache.Get(configCacheKey); found {
		if config, ok := cached.(*types.MarketplaceConfig); ok {
			return config, nil
		}
	}

	config, err := s.db.GetConfig()
	if err != nil {
		return nil, err
	}

	s.cache.SetDefault(configCacheKey, config)
	return config, nil
}

// payout computes the three-way split for a sale against this listing. When
// the listing recorded no creator the royalty leg is folded back into the
// seller payout rather than left undistributed.
func payout(price int64, config *types.MarketplaceConfig, listing *types.Listing) settlement.Payout {
	royaltyBps := listing.RoyaltyBps
	if listing.Creator == nil {
		royaltyBps = 0
	}
	return settlement.Split(price, config.FeeBps, royaltyBps)
}

// disburse pays the seller, fee and royalty legs out of escrow in that
// order. The seller leg is always paid; zero-value legs are skipped.
func (s *Service) disburse(listing *types.Listing, seller string, split settlement.Payout, config *types.MarketplaceConfig) error {
	if err := s.tokens.Transfer(listing.PaymentToken, EscrowAccount, seller, split.SellerAmount); err != nil {
		return fmt.Errorf("failed to pay seller: %w", err)
	}

	if split.FeeAmount > 0 {
		if err := s.tokens.Transfer(listing.PaymentToken, EscrowAccount, config.FeeRecipient, split.FeeAmount); err != nil {
			return fmt.Errorf("failed to pay marketplace fee: %w", err)
		}
	}

	if split.RoyaltyAmount > 0 && listing.Creator != nil {
		if err := s.tokens.Transfer(listing.PaymentToken, EscrowAccount, *listing.Creator, split.RoyaltyAmount); err != nil {
			return fmt.Errorf("failed to pay creator royalty: %w", err)
		}
	}

	return nil
}

func (s *Service) publish(event notify.Event) {
	if s.events != nil {
		s.events.Publish(event)
	}
}
