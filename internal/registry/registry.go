package registry

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Samuel1505/quest-marketplace/internal/types"
)

// Client verifies and moves ownership of non-fungible assets. The marketplace
// calls it before escrowing a listed asset and when releasing it at
// settlement or cancellation.
type Client interface {
	OwnerOf(registryRef string, assetID uint32) (string, error)
	Transfer(registryRef string, assetID uint32, from, to string) error
}

// Holding records the current owner of one asset in one registry.
type Holding struct {
	gorm.Model  `json:"-"`
	RegistryRef string    `gorm:"uniqueIndex:idx_registry_asset" json:"registry_ref"`
	AssetID     uint32    `gorm:"uniqueIndex:idx_registry_asset" json:"asset_id"`
	Owner       string    `gorm:"index" json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is a database-backed Client standing in for the external registry.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OwnerOf returns the recorded owner of an asset.
func (s *Store) OwnerOf(registryRef string, assetID uint32) (string, error) {
	var holding Holding
	if err := s.db.Where("registry_ref = ? AND asset_id = ?", registryRef, assetID).First(&holding).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", fmt.Errorf("%w: asset %s/%d is not registered", types.ErrAssetNotOwned, registryRef, assetID)
		}
		return "", err
	}
	return holding.Owner, nil
}

// Transfer moves an asset between owners. It fails if from is not the
// current owner.
func (s *Store) Transfer(registryRef string, assetID uint32, from, to string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var holding Holding
		if err := tx.Where("registry_ref = ? AND asset_id = ?", registryRef, assetID).First(&holding).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: asset %s/%d is not registered", types.ErrAssetNotOwned, registryRef, assetID)
			}
			return err
		}

		if holding.Owner != from {
			return fmt.Errorf("%w: asset %s/%d is held by %s", types.ErrAssetNotOwned, registryRef, assetID, holding.Owner)
		}

		holding.Owner = to
		return tx.Save(&holding).Error
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("registry_ref", registryRef).
		Uint32("asset_id", assetID).
		Str("from", from).
		Str("to", to).
		Msg("asset transfer completed")

	return nil
}

// Register records a newly minted asset under its first owner.
func (s *Store) Register(registryRef string, assetID uint32, owner string) error {
	holding := Holding{
		RegistryRef: registryRef,
		AssetID:     assetID,
		Owner:       owner,
	}
	return s.db.Create(&holding).Error
}
