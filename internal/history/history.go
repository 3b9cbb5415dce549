// Package history tracks settled sale prices per asset for price discovery.
// Only the latest maxPoints prices are retained per asset.
package history

import (
	"math/big"

	"gorm.io/gorm"

	"github.com/Samuel1505/quest-marketplace/internal/types"
)

// maxPoints is the retention cap per asset
const maxPoints = 100

type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// WithTx returns a Service that runs against the given transaction, so a
// price can be recorded atomically with the sale that produced it.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: NewDatabase(tx)}
}

// Record appends a settled price for an asset and drops the oldest entries
// beyond the retention cap, preserving chronological order.
func (s *Service) Record(registryRef string, assetID uint32, price int64) error {
	if err := s.db.CreatePricePoint(&types.PricePoint{
		RegistryRef: registryRef,
		AssetID:     assetID,
		Price:       price,
	}); err != nil {
		return err
	}

	return s.db.TrimPriceHistory(registryRef, assetID, maxPoints)
}

// Prices returns the retained history for an asset, oldest first.
func (s *Service) Prices(registryRef string, assetID uint32) ([]int64, error) {
	return s.db.GetPrices(registryRef, assetID)
}

// Average returns the mean of the retained prices using integer division
// over the full sum.
func (s *Service) Average(registryRef string, assetID uint32) (int64, error) {
	prices, err := s.nonEmptyPrices(registryRef, assetID)
	if err != nil {
		return 0, err
	}

	sum := new(big.Int)
	for _, price := range prices {
		sum.Add(sum, big.NewInt(price))
	}
	sum.Quo(sum, big.NewInt(int64(len(prices))))

	return sum.Int64(), nil
}

// Min returns the lowest retained price.
func (s *Service) Min(registryRef string, assetID uint32) (int64, error) {
	prices, err := s.nonEmptyPrices(registryRef, assetID)
	if err != nil {
		return 0, err
	}

	min := prices[0]
	for _, price := range prices {
		if price < min {
			min = price
		}
	}
	return min, nil
}

// Max returns the highest retained price.
func (s *Service) Max(registryRef string, assetID uint32) (int64, error) {
	prices, err := s.nonEmptyPrices(registryRef, assetID)
	if err != nil {
		return 0, err
	}

	max := prices[0]
	for _, price := range prices {
		if price > max {
			max = price
		}
	}
	return max, nil
}

// Stats bundles count, average, min and max for an asset.
func (s *Service) Stats(registryRef string, assetID uint32) (*types.PriceStatsResponse, error) {
	prices, err := s.nonEmptyPrices(registryRef, assetID)
	if err != nil {
		return nil, err
	}

	sum := new(big.Int)
	min, max := prices[0], prices[0]
	for _, price := range prices {
		sum.Add(sum, big.NewInt(price))
		if price < min {
			min = price
		}
		if price > max {
			max = price
		}
	}
	sum.Quo(sum, big.NewInt(int64(len(prices))))

	return &types.PriceStatsResponse{
		RegistryRef: registryRef,
		AssetID:     assetID,
		Count:       len(prices),
		Average:     sum.Int64(),
		Min:         min,
		Max:         max,
	}, nil
}

func (s *Service) nonEmptyPrices(registryRef string, assetID uint32) ([]int64, error) {
	prices, err := s.db.GetPrices(registryRef, assetID)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, types.ErrNoPriceHistory
	}
	return prices, nil
}
