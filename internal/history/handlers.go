package history

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Samuel1505/quest-marketplace/pkg/response"
)

// GinHandlers contains HTTP handlers for price-history endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func assetParams(c *gin.Context) (string, uint32, bool) {
	registryRef := c.Param("registry_ref")
	assetID, err := strconv.ParseUint(c.Param("asset_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "Invalid asset_id")
		return "", 0, false
	}
	return registryRef, uint32(assetID), true
}

// GetPriceHistoryHandler handles GET requests for an asset's retained prices
func (h *GinHandlers) GetPriceHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registryRef, assetID, ok := assetParams(c)
		if !ok {
			return
		}

		prices, err := h.service.Prices(registryRef, assetID)
		response.Handle(c, prices, err)
	}
}

// GetPriceStatsHandler handles GET requests for average/min/max of an
// asset's price history
func (h *GinHandlers) GetPriceStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registryRef, assetID, ok := assetParams(c)
		if !ok {
			return
		}

		stats, err := h.service.Stats(registryRef, assetID)
		response.Handle(c, stats, err)
	}
}

// GetAveragePriceHandler handles GET requests for the mean settled price
func (h *GinHandlers) GetAveragePriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registryRef, assetID, ok := assetParams(c)
		if !ok {
			return
		}

		average, err := h.service.Average(registryRef, assetID)
		response.Handle(c, gin.H{"average": average}, err)
	}
}

// GetMinPriceHandler handles GET requests for the lowest settled price
func (h *GinHandlers) GetMinPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registryRef, assetID, ok := assetParams(c)
		if !ok {
			return
		}

		min, err := h.service.Min(registryRef, assetID)
		response.Handle(c, gin.H{"min": min}, err)
	}
}

// GetMaxPriceHandler handles GET requests for the highest settled price
func (h *GinHandlers) GetMaxPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registryRef, assetID, ok := assetParams(c)
		if !ok {
			return
		}

		max, err := h.service.Max(registryRef, assetID)
		response.Handle(c, gin.H{"max": max}, err)
	}
}
