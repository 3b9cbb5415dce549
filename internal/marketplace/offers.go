package marketplace

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Samuel1505/quest-marketplace/internal/notify"
	"github.com/Samuel1505/quest-marketplace/internal/types"
)

// CreateOfferRequest carries the parameters for a new offer on a listing.
type CreateOfferRequest struct {
	ListingID uint64     `json:"listing_id" binding:"required"`
	Price     int64      `json:"price"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateOffer escrows the buyer's bid funds and records an open offer.
// Funds are locked at creation so buyers cannot make unfunded offers.
func (s *Service) CreateOffer(buyer string, req CreateOfferRequest) (*types.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, err := s.activeListing(req.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.Seller == buyer {
		return nil, fmt.Errorf("%w: cannot offer on your own listing", types.ErrOwnListing)
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidPrice, req.Price)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, types.ErrInvalidExpiration
	}

	// Escrow the full bid before the offer exists.
	if err := s.tokens.Transfer(listing.PaymentToken, buyer, EscrowAccount, req.Price); err != nil {
		return nil, fmt.Errorf("failed to escrow bid: %w", err)
	}

	offer := &types.Offer{
		ListingID: req.ListingID,
		Buyer:     buyer,
		Price:     req.Price,
		Status:    types.OfferStatusOpen,
		ExpiresAt: req.ExpiresAt,
	}

	if err := s.db.CreateOffer(offer); err != nil {
		return nil, err
	}

	log.Info().
		Uint64("offer_id", offer.OfferID).
		Uint64("listing_id", req.ListingID).
		Str("buyer", buyer).
		Int64("price", req.Price).
		Str("service", "marketplace").
		Msg("offer created")

	s.publish(notify.Event{
		Type:      notify.EventOfferCreated,
		ListingID: req.ListingID,
		OfferID:   offer.OfferID,
		Seller:    listing.Seller,
		Buyer:     buyer,
		Price:     req.Price,
	})

	return offer, nil
}

// AcceptOffer settles the listing at the offer's price from the already
// escrowed funds. Every other still-open offer on the listing is refunded
// and cancelled.
func (s *Service) AcceptOffer(caller string, offerID uint64) (*types.SaleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.openOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.ExpiresAt != nil && time.Now().After(*offer.ExpiresAt) {
		return nil, fmt.Errorf("%w: offer %d", types.ErrOfferExpired, offerID)
	}

	listing, err := s.sellerListing(caller, offer.ListingID)
	if err != nil {
		return nil, err
	}

	config, err := s.GetConfig()
	if err != nil {
		return nil, err
	}

	split := payout(offer.Price, config, listing)

	// Bid funds are already in escrow; pay the legs straight out.
	if err := s.disburse(listing, caller, split, config); err != nil {
		return nil, err
	}

	if err := s.assets.Transfer(listing.Asset.RegistryRef, listing.Asset.AssetID, EscrowAccount, offer.Buyer); err != nil {
		return nil, fmt.Errorf("failed to release asset: %w", err)
	}

	refunded, err := s.refundOpenOffers(listing, offer.OfferID)
	if err != nil {
		return nil, err
	}

	offer.Status = types.OfferStatusAccepted
	listing.Status = types.ListingStatusSold
	if err := s.db.FinalizeSale(listing, offer, nil, refunded, s.recordSalePrice(listing, offer.Price)); err != nil {
		return nil, err
	}

	log.Info().
		Uint64("offer_id", offerID).
		Uint64("listing_id", listing.ListingID).
		Str("buyer", offer.Buyer).
		Int64("price", offer.Price).
		Int("offers_refunded", len(refunded)).
		Str("service", "marketplace").
		Msg("offer accepted")

	s.publish(notify.Event{
		Type:      notify.EventOfferAccepted,
		ListingID: listing.ListingID,
		OfferID:   offerID,
		Seller:    caller,
		Buyer:     offer.Buyer,
		Price:     offer.Price,
	})
	s.publish(notify.Event{
		Type:      notify.EventListingSold,
		ListingID: listing.ListingID,
		Seller:    caller,
		Buyer:     offer.Buyer,
		Price:     offer.Price,
	})

	return &types.SaleResponse{
		ListingID:     listing.ListingID,
		Buyer:         offer.Buyer,
		Price:         offer.Price,
		SellerAmount:  split.SellerAmount,
		FeeAmount:     split.FeeAmount,
		RoyaltyAmount: split.RoyaltyAmount,
		Timestamp:     time.Now(),
	}, nil
}

// RejectOffer refunds the buyer's escrowed bid in full and closes the offer.
// The listing stays active.
func (s *Service) RejectOffer(caller string, offerID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.openOffer(offerID)
	if err != nil {
		return err
	}

	listing, err := s.offerListing(offer)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return fmt.Errorf("%w: not the listing seller", types.ErrNotAuthorized)
	}

	if err := s.tokens.Transfer(listing.PaymentToken, EscrowAccount, offer.Buyer, offer.Price); err != nil {
		return fmt.Errorf("failed to refund bid: %w", err)
	}

	offer.Status = types.OfferStatusRejected
	if err := s.db.UpdateOffer(offer); err != nil {
		return err
	}

	log.Info().
		Uint64("offer_id", offerID).
		Str("buyer", offer.Buyer).
		Int64("refunded", offer.Price).
		Str("service", "marketplace").
		Msg("offer rejected")

	s.publish(notify.Event{
		Type:      notify.EventOfferRejected,
		ListingID: offer.ListingID,
		OfferID:   offerID,
		Seller:    caller,
		Buyer:     offer.Buyer,
		Price:     offer.Price,
	})

	return nil
}

// CancelOffer lets the buyer withdraw an open offer, refunding the escrowed
// bid in full.
func (s *Service) CancelOffer(caller string, offerID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.openOffer(offerID)
	if err != nil {
		return err
	}
	if offer.Buyer != caller {
		return fmt.Errorf("%w: not the offer buyer", types.ErrNotAuthorized)
	}

	listing, err := s.offerListing(offer)
	if err != nil {
		return err
	}

	if err := s.tokens.Transfer(listing.PaymentToken, EscrowAccount, caller, offer.Price); err != nil {
		return fmt.Errorf("failed to refund bid: %w", err)
	}

	offer.Status = types.OfferStatusCancelled
	if err := s.db.UpdateOffer(offer); err != nil {
		return err
	}

	log.Info().
		Uint64("offer_id", offerID).
		Str("buyer", caller).
		Int64("refunded", offer.Price).
		Str("service", "marketplace").
		Msg("offer cancelled")

	s.publish(notify.Event{
		Type:      notify.EventOfferCancelled,
		ListingID: offer.ListingID,
		OfferID:   offerID,
		Buyer:     caller,
		Price:     offer.Price,
	})

	return nil
}

// CreateCounterOfferRequest carries the parameters for a seller's counter.
type CreateCounterOfferRequest struct {
	OfferID   uint64     `json:"offer_id" binding:"required"`
	Price     int64      `json:"price"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateCounterOffer records a counter against an open offer and flips the
// offer to countered, closing it to any action other than the counter path.
func (s *Service) CreateCounterOffer(caller string, req CreateCounterOfferRequest) (*types.CounterOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.openOffer(req.OfferID)
	if err != nil {
		return nil, err
	}

	listing, err := s.offerListing(offer)
	if err != nil {
		return nil, err
	}
	if listing.Seller != caller {
		return nil, fmt.Errorf("%w: not the listing seller", types.ErrNotAuthorized)
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidPrice, req.Price)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, types.ErrInvalidExpiration
	}

	counter := &types.CounterOffer{
		OfferID:   req.OfferID,
		Seller:    caller,
		Price:     req.Price,
		ExpiresAt: req.ExpiresAt,
	}

	// The counter and the parent's status flip commit together.
	offer.Status = types.OfferStatusCountered
	if err := s.db.CreateCounterOffer(counter, offer); err != nil {
		return nil, err
	}

	log.Info().
		Uint64("counter_offer_id", counter.CounterOfferID).
		Uint64("offer_id", req.OfferID).
		Str("seller", caller).
		Int64("price", req.Price).
		Str("service", "marketplace").
		Msg("counter offer created")

	s.publish(notify.Event{
		Type:           notify.EventOfferCountered,
		ListingID:      offer.ListingID,
		OfferID:        offer.OfferID,
		CounterOfferID: counter.CounterOfferID,
		Seller:         caller,
		Buyer:          offer.Buyer,
		Price:          req.Price,
	})
	s.publish(notify.Event{
		Type:           notify.EventCounterOfferCreated,
		ListingID:      offer.ListingID,
		OfferID:        offer.OfferID,
		CounterOfferID: counter.CounterOfferID,
		Seller:         caller,
		Price:          req.Price,
	})

	return counter, nil
}

// AcceptCounterOffer settles at the counter's price. The buyer's original
// escrow is refunded in full and the counter price charged in its place, so
// exactly counter.price moves to settlement regardless of the delta's sign.
func (s *Service) AcceptCounterOffer(caller string, counterOfferID uint64) (*types.SaleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, err := s.db.GetCounterOffer(counterOfferID)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, fmt.Errorf("%w: counter offer %d", types.ErrCounterOfferNotFound, counterOfferID)
	}
	if counter.Resolved {
		return nil, fmt.Errorf("%w: counter offer %d already resolved", types.ErrOfferNotOpen, counterOfferID)
	}
	if counter.ExpiresAt != nil && time.Now().After(*counter.ExpiresAt) {
		return nil, fmt.Errorf("%w: counter offer %d", types.ErrOfferExpired, counterOfferID)
	}

	offer, err := s.db.GetOffer(counter.OfferID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: offer %d", types.ErrOfferNotFound, counter.OfferID)
	}
	if offer.Buyer != caller {
		return nil, fmt.Errorf("%w: not the offer buyer", types.ErrNotAuthorized)
	}
	if offer.Status != types.OfferStatusCountered {
		return nil, fmt.Errorf("%w: offer %d is %s", types.ErrOfferNotOpen, counter.OfferID, offer.Status)
	}

	listing, err := s.db.GetListing(offer.ListingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: listing %d", types.ErrListingNotFound, offer.ListingID)
	}
	if listing.Status != types.ListingStatusActive {
		return nil, fmt.Errorf("%w: listing %d is %s", types.ErrListingNotActive, listing.ListingID, listing.Status)
	}
	if listing.ExpiresAt != nil && time.Now().After(*listing.ExpiresAt) {
		return nil, fmt.Errorf("%w: listing %d has expired", types.ErrListingNotActive, listing.ListingID)
	}

	config, err := s.GetConfig()
	if err != nil {
		return nil, err
	}

	// Settle the difference between the counter price and the escrowed bid.
	// The top-up is collected before anything else moves, so an underfunded
	// buyer aborts with escrow untouched; a lower counter refunds the excess
	// out of funds escrow already holds. Either way escrow ends up holding
	// exactly counter.price.
	if delta := counter.Price - offer.Price; delta > 0 {
		if err := s.tokens.Transfer(listing.PaymentToken, caller, EscrowAccount, delta); err != nil {
			return nil, fmt.Errorf("failed to collect counter payment: %w", err)
		}
	} else if delta < 0 {
		if err := s.tokens.Transfer(listing.PaymentToken, EscrowAccount, caller, -delta); err != nil {
			return nil, fmt.Errorf("failed to refund bid excess: %w", err)
		}
	}

	split := payout(counter.Price, config, listing)
	if err := s.disburse(listing, counter.Seller, split, config); err != nil {
		return nil, err
	}

	if err := s.assets.Transfer(listing.Asset.RegistryRef, listing.Asset.AssetID, EscrowAccount, caller); err != nil {
		return nil, fmt.Errorf("failed to release asset: %w", err)
	}

	refunded, err := s.refundOpenOffers(listing, offer.OfferID)
	if err != nil {
		return nil, err
	}

	// Acceptance resolves the counter and rewrites the parent offer's
	// terminal status, not the counter's own.
	offer.Status = types.OfferStatusAccepted
	listing.Status = types.ListingStatusSold
	counter.Resolved = true
	if err := s.db.FinalizeSale(listing, offer, counter, refunded, s.recordSalePrice(listing, counter.Price)); err != nil {
		return nil, err
	}

	log.Info().
		Uint64("counter_offer_id", counterOfferID).
		Uint64("offer_id", offer.OfferID).
		Uint64("listing_id", listing.ListingID).
		Str("buyer", caller).
		Int64("price", counter.Price).
		Int("offers_refunded", len(refunded)).
		Str("service", "marketplace").
		Msg("counter offer accepted")

	s.publish(notify.Event{
		Type:           notify.EventCounterOfferAccepted,
		ListingID:      listing.ListingID,
		OfferID:        offer.OfferID,
		CounterOfferID: counterOfferID,
		Seller:         counter.Seller,
		Buyer:          caller,
		Price:          counter.Price,
	})
	s.publish(notify.Event{
		Type:      notify.EventListingSold,
		ListingID: listing.ListingID,
		Seller:    counter.Seller,
		Buyer:     caller,
		Price:     counter.Price,
	})

	return &types.SaleResponse{
		ListingID:     listing.ListingID,
		Buyer:         caller,
		Price:         counter.Price,
		SellerAmount:  split.SellerAmount,
		FeeAmount:     split.FeeAmount,
		RoyaltyAmount: split.RoyaltyAmount,
		Timestamp:     time.Now(),
	}, nil
}

// GetOffer retrieves an offer by its ID.
func (s *Service) GetOffer(offerID uint64) (*types.Offer, error) {
	offer, err := s.db.GetOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: offer %d", types.ErrOfferNotFound, offerID)
	}
	return offer, nil
}

// GetCounterOffer retrieves a counter-offer by its ID.
func (s *Service) GetCounterOffer(counterOfferID uint64) (*types.CounterOffer, error) {
	counter, err := s.db.GetCounterOffer(counterOfferID)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, fmt.Errorf("%w: counter offer %d", types.ErrCounterOfferNotFound, counterOfferID)
	}
	return counter, nil
}

func (s *Service) GetOffersByListing(listingID uint64) ([]types.Offer, error) {
	return s.db.GetOffersByListing(listingID)
}

func (s *Service) GetCounterOffersByOffer(offerID uint64) ([]types.CounterOffer, error) {
	return s.db.GetCounterOffersByOffer(offerID)
}

// refundOpenOffers refunds the escrowed bid of every offer on the listing
// that still holds funds, except the one being accepted. Open and countered
// offers both carry live escrow; cancelling a countered offer here also dead
// ends its counter, since acceptance requires the parent to stay countered.
// Returns the refunded offer IDs so their cancellation commits with the rest
// of the operation.
func (s *Service) refundOpenOffers(listing *types.Listing, exceptOfferID uint64) ([]uint64, error) {
	offers, err := s.db.GetOffersByListing(listing.ListingID)
	if err != nil {
		return nil, err
	}

	var refunded []uint64
	for i := range offers {
		offer := &offers[i]
		if offer.OfferID == exceptOfferID {
			continue
		}
		if offer.Status != types.OfferStatusOpen && offer.Status != types.OfferStatusCountered {
			continue
		}

		if err := s.tokens.Transfer(listing.PaymentToken, EscrowAccount, offer.Buyer, offer.Price); err != nil {
			return nil, fmt.Errorf("failed to refund offer %d: %w", offer.OfferID, err)
		}
		refunded = append(refunded, offer.OfferID)
	}

	return refunded, nil
}

// openOffer loads an offer and verifies it is still open.
func (s *Service) openOffer(offerID uint64) (*types.Offer, error) {
	offer, err := s.db.GetOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: offer %d", types.ErrOfferNotFound, offerID)
	}
	if offer.Status != types.OfferStatusOpen {
		return nil, fmt.Errorf("%w: offer %d is %s", types.ErrOfferNotOpen, offerID, offer.Status)
	}
	return offer, nil
}

// offerListing loads the parent listing of an offer.
func (s *Service) offerListing(offer *types.Offer) (*types.Listing, error) {
	listing, err := s.db.GetListing(offer.ListingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: listing %d", types.ErrListingNotFound, offer.ListingID)
	}
	return listing, nil
}

// sellerListing loads a listing that must still be tradeable and owned by
// caller.
func (s *Service) sellerListing(caller string, listingID uint64) (*types.Listing, error) {
	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: listing %d", types.ErrListingNotFound, listingID)
	}
	if listing.Seller != caller {
		return nil, fmt.Errorf("%w: not the listing seller", types.ErrNotAuthorized)
	}
	if listing.Status != types.ListingStatusActive {
		return nil, fmt.Errorf("%w: listing %d is %s", types.ErrListingNotActive, listingID, listing.Status)
	}
	if listing.ExpiresAt != nil && time.Now().After(*listing.ExpiresAt) {
		return nil, fmt.Errorf("%w: listing %d has expired", types.ErrListingNotActive, listingID)
	}
	return listing, nil
}
