package marketplace

import (
	"errors"

	"gorm.io/gorm"

	"github.com/Samuel1505/quest-marketplace/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Configuration

func (d *Database) HasConfig() (bool, error) {
	var count int64
	if err := d.db.Model(&types.MarketplaceConfig{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateConfig persists the singleton configuration and resets the three
// entity counters in one transaction.
func (d *Database) CreateConfig(config *types.MarketplaceConfig) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(config).Error; err != nil {
		tx.Rollback()
		return err
	}

	counters := []string{types.CounterListings, types.CounterOffers, types.CounterCounterOffers}
	for _, name := range counters {
		if err := resetCounter(tx, name); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (d *Database) GetConfig() (*types.MarketplaceConfig, error) {
	var config types.MarketplaceConfig
	if err := d.db.First(&config).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotInitialized
		}
		return nil, err
	}
	return &config, nil
}

func (d *Database) UpdateConfig(config *types.MarketplaceConfig) error {
	return d.db.Save(config).Error
}

// Listings

// CreateListing allocates the next listing ID and stores the record in one
// transaction.
func (d *Database) CreateListing(listing *types.Listing) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	id, err := nextCounterValue(tx, types.CounterListings)
	if err != nil {
		tx.Rollback()
		return err
	}
	listing.ListingID = id

	if err := tx.Create(listing).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) GetListing(listingID uint64) (*types.Listing, error) {
	var listing types.Listing
	if err := d.db.Where("listing_id = ?", listingID).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

func (d *Database) GetListingsBySeller(seller string) ([]types.Listing, error) {
	var listings []types.Listing
	if err := d.db.Where("seller = ?", seller).Order("listing_id ASC").Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

func (d *Database) GetListingsByAsset(registryRef string, assetID uint32) ([]types.Listing, error) {
	var listings []types.Listing
	if err := d.db.Where("asset_registry_ref = ? AND asset_asset_id = ?", registryRef, assetID).
		Order("listing_id ASC").Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

func (d *Database) GetActiveListings() ([]types.Listing, error) {
	var listings []types.Listing
	if err := d.db.Where("status = ?", types.ListingStatusActive).
		Order("listing_id ASC").Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

// Offers

// CreateOffer allocates the next offer ID and stores the record in one
// transaction.
func (d *Database) CreateOffer(offer *types.Offer) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	id, err := nextCounterValue(tx, types.CounterOffers)
	if err != nil {
		tx.Rollback()
		return err
	}
	offer.OfferID = id

	if err := tx.Create(offer).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) GetOffer(offerID uint64) (*types.Offer, error) {
	var offer types.Offer
	if err := d.db.Where("offer_id = ?", offerID).First(&offer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

func (d *Database) UpdateOffer(offer *types.Offer) error {
	return d.db.Save(offer).Error
}

func (d *Database) GetOffersByListing(listingID uint64) ([]types.Offer, error) {
	var offers []types.Offer
	if err := d.db.Where("listing_id = ?", listingID).Order("offer_id ASC").Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

// Counter offers

// CreateCounterOffer allocates the next counter ID, stores the counter and
// flips the parent offer to countered in one transaction.
func (d *Database) CreateCounterOffer(counter *types.CounterOffer, parent *types.Offer) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	id, err := nextCounterValue(tx, types.CounterCounterOffers)
	if err != nil {
		tx.Rollback()
		return err
	}
	counter.CounterOfferID = id

	if err := tx.Create(counter).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Save(parent).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) GetCounterOffer(counterOfferID uint64) (*types.CounterOffer, error) {
	var counter types.CounterOffer
	if err := d.db.Where("counter_offer_id = ?", counterOfferID).First(&counter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &counter, nil
}

func (d *Database) GetCounterOffersByOffer(offerID uint64) ([]types.CounterOffer, error) {
	var counters []types.CounterOffer
	if err := d.db.Where("offer_id = ?", offerID).Order("counter_offer_id ASC").Find(&counters).Error; err != nil {
		return nil, err
	}
	return counters, nil
}

// Settlement

// FinalizeSale commits every record mutation of a sale atomically: the
// listing flips to sold, the accepted offer (if any) to accepted, refunded
// offers to cancelled, the counter (if any) to resolved, and the price
// history write runs in the same transaction.
func (d *Database) FinalizeSale(
	listing *types.Listing,
	acceptedOffer *types.Offer,
	counter *types.CounterOffer,
	cancelledOfferIDs []uint64,
	recordPrice func(tx *gorm.DB) error,
) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Save(listing).Error; err != nil {
		tx.Rollback()
		return err
	}

	if acceptedOffer != nil {
		if err := tx.Save(acceptedOffer).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if counter != nil {
		if err := tx.Save(counter).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := cancelOffers(tx, cancelledOfferIDs); err != nil {
		tx.Rollback()
		return err
	}

	if recordPrice != nil {
		if err := recordPrice(tx); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

// CancelListing commits the listing cancellation together with the
// cancellation of its refunded offers.
func (d *Database) CancelListing(listing *types.Listing, cancelledOfferIDs []uint64) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Save(listing).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := cancelOffers(tx, cancelledOfferIDs); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func cancelOffers(tx *gorm.DB, offerIDs []uint64) error {
	if len(offerIDs) == 0 {
		return nil
	}
	return tx.Model(&types.Offer{}).
		Where("offer_id IN ?", offerIDs).
		Update("status", types.OfferStatusCancelled).Error
}

// Counters

// nextCounterValue bumps and returns the named entity counter. IDs start at
// 1 and are never reused.
func nextCounterValue(tx *gorm.DB, name string) (uint64, error) {
	var counter types.Counter
	err := tx.Where("name = ?", name).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = types.Counter{Name: name}
	} else if err != nil {
		return 0, err
	}

	counter.Value++
	if err := tx.Save(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func resetCounter(tx *gorm.DB, name string) error {
	var counter types.Counter
	err := tx.Where("name = ?", name).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&types.Counter{Name: name}).Error
	}
	if err != nil {
		return err
	}

	counter.Value = 0
	return tx.Save(&counter).Error
}
