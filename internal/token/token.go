package token

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Samuel1505/quest-marketplace/internal/types"
)

// Transferor moves fungible value between accounts. A failed transfer must
// abort the marketplace operation that requested it; partial movement is
// never observable.
type Transferor interface {
	Transfer(token, from, to string, amount int64) error
}

// Balance is one account's holding of one token.
type Balance struct {
	gorm.Model `json:"-"`
	Token      string    `gorm:"uniqueIndex:idx_token_account" json:"token"`
	Account    string    `gorm:"uniqueIndex:idx_token_account" json:"account"`
	Amount     int64     `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ledger is a database-backed Transferor. It stands in for the external
// fungible asset service in tests and the simulation.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Transfer moves amount of token from one account to another. The debit and
// credit commit together or not at all.
func (l *Ledger) Transfer(token, from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer amount must not be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		var source Balance
		if err := tx.Where("token = ? AND account = ?", token, from).First(&source).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: account %s holds no %s", types.ErrInsufficientBalance, from, token)
			}
			return err
		}

		if source.Amount < amount {
			return fmt.Errorf("%w: account %s has %d, needs %d",
				types.ErrInsufficientBalance, from, source.Amount, amount)
		}

		source.Amount -= amount
		if err := tx.Save(&source).Error; err != nil {
			return err
		}

		return credit(tx, token, to, amount)
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("token", token).
		Str("from", from).
		Str("to", to).
		Int64("amount", amount).
		Msg("token transfer completed")

	return nil
}

// Mint credits freshly issued tokens to an account.
func (l *Ledger) Mint(token, account string, amount int64) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		return credit(tx, token, account, amount)
	})
}

// BalanceOf returns the current holding, zero for unknown accounts.
func (l *Ledger) BalanceOf(token, account string) (int64, error) {
	var balance Balance
	if err := l.db.Where("token = ? AND account = ?", token, account).First(&balance).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return balance.Amount, nil
}

func credit(tx *gorm.DB, token, account string, amount int64) error {
	var dest Balance
	err := tx.Where("token = ? AND account = ?", token, account).First(&dest).Error
	if err == gorm.ErrRecordNotFound {
		dest = Balance{Token: token, Account: account, Amount: amount}
		return tx.Create(&dest).Error
	}
	if err != nil {
		return err
	}

	dest.Amount += amount
	return tx.Save(&dest).Error
}
