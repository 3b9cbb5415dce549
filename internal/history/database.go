package history

import (
	"gorm.io/gorm"

	"github.com/Samuel1505/quest-marketplace/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreatePricePoint(point *types.PricePoint) error {
	return d.db.Create(point).Error
}

// TrimPriceHistory deletes the oldest points beyond keep for one asset.
// Insertion order is the chronological order, so trimming by lowest primary
// key removes the oldest entries first.
func (d *Database) TrimPriceHistory(registryRef string, assetID uint32, keep int) error {
	var count int64
	if err := d.db.Model(&types.PricePoint{}).
		Where("registry_ref = ? AND asset_id = ?", registryRef, assetID).
		Count(&count).Error; err != nil {
		return err
	}

	excess := count - int64(keep)
	if excess <= 0 {
		return nil
	}

	var staleIDs []uint
	if err := d.db.Model(&types.PricePoint{}).
		Where("registry_ref = ? AND asset_id = ?", registryRef, assetID).
		Order("id ASC").
		Limit(int(excess)).
		Pluck("id", &staleIDs).Error; err != nil {
		return err
	}

	return d.db.Unscoped().Delete(&types.PricePoint{}, staleIDs).Error
}

func (d *Database) GetPrices(registryRef string, assetID uint32) ([]int64, error) {
	var prices []int64
	if err := d.db.Model(&types.PricePoint{}).
		Where("registry_ref = ? AND asset_id = ?", registryRef, assetID).
		Order("id ASC").
		Pluck("price", &prices).Error; err != nil {
		return nil, err
	}
	return prices, nil
}
