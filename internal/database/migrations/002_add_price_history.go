package migrations

import (
	"github.com/Samuel1505/quest-marketplace/internal/types"
	"gorm.io/gorm"
)

// AddPriceHistory creates the sale price history table and required indexes
func AddPriceHistory(db *gorm.DB) error {
	// Create the price point table
	if err := db.AutoMigrate(&types.PricePoint{}); err != nil {
		return err
	}

	// Add indexes for better query performance
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for per-asset history lookups
		`CREATE INDEX IF NOT EXISTS idx_price_points_asset
		 ON price_points(registry_ref, asset_id)`,

		// Index for created_at timestamp (useful for time-based queries)
		`CREATE INDEX IF NOT EXISTS idx_price_points_created_at
		 ON price_points(created_at)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
