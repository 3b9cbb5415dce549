package migrations

import (
	"github.com/Samuel1505/quest-marketplace/internal/registry"
	"github.com/Samuel1505/quest-marketplace/internal/token"
	"gorm.io/gorm"
)

// AddCustodyLedgers creates the token balance and asset holding tables
// backing the custodial escrow account.
func AddCustodyLedgers(db *gorm.DB) error {
	if err := db.AutoMigrate(&token.Balance{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&registry.Holding{}); err != nil {
		return err
	}

	return nil
}
