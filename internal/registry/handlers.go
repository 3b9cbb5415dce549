package registry

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Samuel1505/quest-marketplace/pkg/response"
)

// GinHandlers contains HTTP handlers for the asset registry. These are
// internal-only endpoints used to seed holdings for the simulation.
type GinHandlers struct {
	store *Store
}

func NewGinHandlers(store *Store) *GinHandlers {
	return &GinHandlers{store: store}
}

// RegisterRequest records the initial owner of an asset.
type RegisterRequest struct {
	RegistryRef string `json:"registry_ref" binding:"required"`
	AssetID     uint32 `json:"asset_id" binding:"required"`
	Owner       string `json:"owner" binding:"required"`
}

// RegisterAssetHandler handles POST requests to register an asset owner
func (h *GinHandlers) RegisterAssetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		if err := h.store.Register(req.RegistryRef, req.AssetID, req.Owner); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, req)
	}
}

// GetOwnerHandler handles GET requests for an asset's current owner
func (h *GinHandlers) GetOwnerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registryRef := c.Param("registry_ref")
		assetID, err := strconv.ParseUint(c.Param("asset_id"), 10, 32)
		if err != nil {
			response.BadRequest(c, "Invalid asset ID")
			return
		}

		owner, err := h.store.OwnerOf(registryRef, uint32(assetID))
		response.Handle(c, gin.H{
			"registry_ref": registryRef,
			"asset_id":     uint32(assetID),
			"owner":        owner,
		}, err)
	}
}
