package database

import (
	"fmt"

	"github.com/Samuel1505/quest-marketplace/internal/database/migrations"
	"github.com/Samuel1505/quest-marketplace/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection.
// Pass "file::memory:?cache=shared" as the DSN for an in-memory database.
func NewDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "marketplace.db"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddCustodyLedgers(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddPriceHistory(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.MarketplaceConfig{},
		&types.Counter{},
		&types.Listing{},
		&types.Offer{},
		&types.CounterOffer{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
