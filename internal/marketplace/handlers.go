package marketplace

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Samuel1505/quest-marketplace/pkg/response"
)

// GinHandlers contains HTTP handlers for marketplace endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for marketplace endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// caller returns the authenticated principal set by the auth middleware.
func caller(c *gin.Context) (string, bool) {
	clientID := c.GetString("clientID")
	if clientID == "" {
		response.Unauthorized(c, "Missing authenticated principal")
		return "", false
	}
	return clientID, true
}

func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// InitializeHandler handles POST requests to initialize the marketplace.
// Protected by internal authentication; succeeds at most once.
func (h *GinHandlers) InitializeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Admin              string `json:"admin" binding:"required"`
			FeeRecipient       string `json:"fee_recipient" binding:"required"`
			FeeBps             uint32 `json:"fee_bps"`
			MinListingDuration int64  `json:"min_listing_duration"`
			MaxListingDuration int64  `json:"max_listing_duration"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.Initialize(req.Admin, req.FeeRecipient, req.FeeBps,
			req.MinListingDuration, req.MaxListingDuration)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{"message": "marketplace initialized"})
	}
}

// UpdateConfigHandler handles PUT requests to update marketplace
// configuration. Caller must be the stored admin.
func (h *GinHandlers) UpdateConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}

		var req UpdateConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		config, err := h.service.UpdateConfig(clientID, req)
		response.Handle(c, config, err)
	}
}

// GetConfigHandler handles GET requests for the marketplace configuration
func (h *GinHandlers) GetConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		config, err := h.service.GetConfig()
		response.Handle(c, config, err)
	}
}

// CreateListingHandler handles POST requests to create listings.
// The authenticated principal becomes the seller.
func (h *GinHandlers) CreateListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}

		var req CreateListingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		listing, err := h.service.CreateListing(clientID, req)
		response.Handle(c, listing, err)
	}
}

// BuyHandler handles POST requests to buy a listing at its asking price
// URL parameter: listing_id
func (h *GinHandlers) BuyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}
		listingID, ok := idParam(c, "listing_id")
		if !ok {
			return
		}

		sale, err := h.service.Buy(clientID, listingID)
		response.Handle(c, sale, err)
	}
}

// CancelListingHandler handles POST requests to cancel a listing
// URL parameter: listing_id
func (h *GinHandlers) CancelListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}
		listingID, ok := idParam(c, "listing_id")
		if !ok {
			return
		}

		if err := h.service.CancelListing(clientID, listingID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "listing cancelled"})
	}
}

// GetListingHandler handles GET requests for a single listing
func (h *GinHandlers) GetListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID, ok := idParam(c, "listing_id")
		if !ok {
			return
		}

		listing, err := h.service.GetListing(listingID)
		response.Handle(c, listing, err)
	}
}

// GetActiveListingsHandler handles GET requests for the active listing set
func (h *GinHandlers) GetActiveListingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listings, err := h.service.GetActiveListings()
		response.Handle(c, listings, err)
	}
}

// GetListingsBySellerHandler handles GET requests for a seller's listings
// URL parameter: seller
func (h *GinHandlers) GetListingsBySellerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		seller := c.Param("seller")
		if seller == "" {
			response.BadRequest(c, "Seller is required")
			return
		}

		listings, err := h.service.GetListingsBySeller(seller)
		response.Handle(c, listings, err)
	}
}

// GetListingsByAssetHandler handles GET requests for an asset's listings
// URL parameters: registry_ref, asset_id
func (h *GinHandlers) GetListingsByAssetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registryRef := c.Param("registry_ref")
		assetID, err := strconv.ParseUint(c.Param("asset_id"), 10, 32)
		if err != nil {
			response.BadRequest(c, "Invalid asset_id")
			return
		}

		listings, err := h.service.GetListingsByAsset(registryRef, uint32(assetID))
		response.Handle(c, listings, err)
	}
}

// CreateOfferHandler handles POST requests to create offers.
// The authenticated principal becomes the buyer; the bid is escrowed.
func (h *GinHandlers) CreateOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}

		var req CreateOfferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		offer, err := h.service.CreateOffer(clientID, req)
		response.Handle(c, offer, err)
	}
}

// AcceptOfferHandler handles POST requests to accept an offer
// URL parameter: offer_id
func (h *GinHandlers) AcceptOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}
		offerID, ok := idParam(c, "offer_id")
		if !ok {
			return
		}

		sale, err := h.service.AcceptOffer(clientID, offerID)
		response.Handle(c, sale, err)
	}
}

// RejectOfferHandler handles POST requests to reject an offer
// URL parameter: offer_id
func (h *GinHandlers) RejectOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}
		offerID, ok := idParam(c, "offer_id")
		if !ok {
			return
		}

		if err := h.service.RejectOffer(clientID, offerID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "offer rejected"})
	}
}

// CancelOfferHandler handles POST requests by a buyer to cancel their offer
// URL parameter: offer_id
func (h *GinHandlers) CancelOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}
		offerID, ok := idParam(c, "offer_id")
		if !ok {
			return
		}

		if err := h.service.CancelOffer(clientID, offerID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "offer cancelled"})
	}
}

// GetOfferHandler handles GET requests for a single offer
func (h *GinHandlers) GetOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		offerID, ok := idParam(c, "offer_id")
		if !ok {
			return
		}

		offer, err := h.service.GetOffer(offerID)
		response.Handle(c, offer, err)
	}
}

// GetOffersByListingHandler handles GET requests for a listing's offers
// URL parameter: listing_id
func (h *GinHandlers) GetOffersByListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID, ok := idParam(c, "listing_id")
		if !ok {
			return
		}

		offers, err := h.service.GetOffersByListing(listingID)
		response.Handle(c, offers, err)
	}
}

// CreateCounterOfferHandler handles POST requests by a seller to counter an
// open offer.
func (h *GinHandlers) CreateCounterOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}

		var req CreateCounterOfferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		counterOffer, err := h.service.CreateCounterOffer(clientID, req)
		response.Handle(c, counterOffer, err)
	}
}

// AcceptCounterOfferHandler handles POST requests by the original buyer to
// accept a counter-offer
// URL parameter: counter_offer_id
func (h *GinHandlers) AcceptCounterOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, ok := caller(c)
		if !ok {
			return
		}
		counterOfferID, ok := idParam(c, "counter_offer_id")
		if !ok {
			return
		}

		sale, err := h.service.AcceptCounterOffer(clientID, counterOfferID)
		response.Handle(c, sale, err)
	}
}

// GetCounterOfferHandler handles GET requests for a single counter-offer
func (h *GinHandlers) GetCounterOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		counterOfferID, ok := idParam(c, "counter_offer_id")
		if !ok {
			return
		}

		counterOffer, err := h.service.GetCounterOffer(counterOfferID)
		response.Handle(c, counterOffer, err)
	}
}

// GetCounterOffersByOfferHandler handles GET requests for an offer's counters
// URL parameter: offer_id
func (h *GinHandlers) GetCounterOffersByOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		offerID, ok := idParam(c, "offer_id")
		if !ok {
			return
		}

		counterOffers, err := h.service.GetCounterOffersByOffer(offerID)
		response.Handle(c, counterOffers, err)
	}
}
