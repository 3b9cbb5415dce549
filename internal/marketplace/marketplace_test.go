package marketplace

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appdb "github.com/Samuel1505/quest-marketplace/internal/database"
	"github.com/Samuel1505/quest-marketplace/internal/registry"
	"github.com/Samuel1505/quest-marketplace/internal/token"
	"github.com/Samuel1505/quest-marketplace/internal/types"
)

const (
	testToken = "QUEST"
	testRef   = "quest-assets"
)

func newTestService(t *testing.T) (*Service, *token.Ledger, *registry.Store) {
	t.Helper()

	// Shared-cache in-memory database, unique per test so tests stay isolated
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := appdb.NewDatabase(dsn)
	require.NoError(t, err)

	ledger := token.NewLedger(db)
	store := registry.NewStore(db)
	return NewService(db, ledger, store, nil), ledger, store
}

func initMarket(t *testing.T, svc *Service, feeBps uint32) {
	t.Helper()
	require.NoError(t, svc.Initialize("admin", "treasury", feeBps, 3600, 30*24*3600))
}

func listAsset(t *testing.T, svc *Service, store *registry.Store, seller string, assetID uint32, price int64, creator *string, royaltyBps uint32) *types.Listing {
	t.Helper()
	require.NoError(t, store.Register(testRef, assetID, seller))

	listing, err := svc.CreateListing(seller, CreateListingRequest{
		Asset:        types.Asset{Kind: types.AssetKindNFT, RegistryRef: testRef, AssetID: assetID},
		PaymentToken: testToken,
		Price:        price,
		Creator:      creator,
		RoyaltyBps:   royaltyBps,
	})
	require.NoError(t, err)
	return listing
}

func balance(t *testing.T, ledger *token.Ledger, account string) int64 {
	t.Helper()
	amount, err := ledger.BalanceOf(testToken, account)
	require.NoError(t, err)
	return amount
}

func strPtr(s string) *string { return &s }

func TestInitialize(t *testing.T) {
	svc, _, _ := newTestService(t)

	require.NoError(t, svc.Initialize("admin", "treasury", 250, 3600, 86400))

	config, err := svc.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "admin", config.Admin)
	assert.Equal(t, "treasury", config.FeeRecipient)
	assert.Equal(t, uint32(250), config.FeeBps)

	// Initialization may only succeed once
	err = svc.Initialize("other", "elsewhere", 100, 0, 86400)
	assert.ErrorIs(t, err, types.ErrAlreadyInitialized)
}

func TestInitialize_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Initialize("admin", "treasury", types.MaxBps+1, 3600, 86400)
	assert.ErrorIs(t, err, types.ErrInvalidFee)

	err = svc.Initialize("admin", "treasury", 250, 86400, 3600)
	assert.ErrorIs(t, err, types.ErrInvalidDuration)

	// Failed attempts leave the marketplace uninitialized
	_, err = svc.GetConfig()
	assert.ErrorIs(t, err, types.ErrNotInitialized)
}

func TestUpdateConfig(t *testing.T) {
	svc, _, _ := newTestService(t)
	initMarket(t, svc, 250)

	newFee := uint32(500)
	config, err := svc.UpdateConfig("admin", UpdateConfigRequest{FeeBps: &newFee})
	require.NoError(t, err)
	assert.Equal(t, uint32(500), config.FeeBps)
	assert.Equal(t, "treasury", config.FeeRecipient)

	_, err = svc.UpdateConfig("mallory", UpdateConfigRequest{FeeBps: &newFee})
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	badFee := uint32(types.MaxBps + 1)
	_, err = svc.UpdateConfig("admin", UpdateConfigRequest{FeeBps: &badFee})
	assert.ErrorIs(t, err, types.ErrInvalidFee)
}

func TestCreateListing_EscrowsAsset(t *testing.T) {
	svc, _, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)

	// IDs start at 1 and increment per listing
	assert.Equal(t, uint64(1), listing.ListingID)
	assert.Equal(t, types.ListingStatusActive, listing.Status)

	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, EscrowAccount, owner)

	second := listAsset(t, svc, store, "alice", 2, 500, nil, 0)
	assert.Equal(t, uint64(2), second.ListingID)
}

func TestCreateListing_Validation(t *testing.T) {
	svc, _, store := newTestService(t)

	req := CreateListingRequest{
		Asset:        types.Asset{Kind: types.AssetKindNFT, RegistryRef: testRef, AssetID: 1},
		PaymentToken: testToken,
		Price:        1000,
	}

	_, err := svc.CreateListing("alice", req)
	assert.ErrorIs(t, err, types.ErrNotInitialized)

	initMarket(t, svc, 250)
	require.NoError(t, store.Register(testRef, 1, "alice"))

	bad := req
	bad.Asset.Kind = "SPACESHIP"
	_, err = svc.CreateListing("alice", bad)
	assert.ErrorIs(t, err, types.ErrInvalidAssetType)

	bad = req
	bad.Price = 0
	_, err = svc.CreateListing("alice", bad)
	assert.ErrorIs(t, err, types.ErrInvalidPrice)

	bad = req
	bad.RoyaltyBps = types.MaxBps + 1
	_, err = svc.CreateListing("alice", bad)
	assert.ErrorIs(t, err, types.ErrInvalidRoyalty)

	shortDuration := int64(60) // below the configured minimum
	bad = req
	bad.Duration = &shortDuration
	_, err = svc.CreateListing("alice", bad)
	assert.ErrorIs(t, err, types.ErrInvalidDuration)

	// Only the registry owner may list
	_, err = svc.CreateListing("bob", req)
	assert.ErrorIs(t, err, types.ErrAssetNotOwned)

	// Nothing above escrowed the asset
	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestBuy_SplitsPayment(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, strPtr("studio"), 500)
	require.NoError(t, ledger.Mint(testToken, "bob", 5000))

	sale, err := svc.Buy("bob", listing.ListingID)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), sale.Price)
	assert.Equal(t, int64(925), sale.SellerAmount)
	assert.Equal(t, int64(25), sale.FeeAmount)
	assert.Equal(t, int64(50), sale.RoyaltyAmount)

	assert.Equal(t, int64(4000), balance(t, ledger, "bob"))
	assert.Equal(t, int64(925), balance(t, ledger, "alice"))
	assert.Equal(t, int64(25), balance(t, ledger, "treasury"))
	assert.Equal(t, int64(50), balance(t, ledger, "studio"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	stored, err := svc.GetListing(listing.ListingID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingStatusSold, stored.Status)

	// Sale price lands in the asset's history
	prices, err := svc.History().Prices(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1000}, prices)

	// A sold listing cannot be bought again
	_, err = svc.Buy("bob", listing.ListingID)
	assert.ErrorIs(t, err, types.ErrListingNotActive)
}

func TestBuy_NoCreatorFoldsRoyaltyIntoSeller(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	// Royalty bps without a creator pays out as if no royalty was set
	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 500)
	require.NoError(t, ledger.Mint(testToken, "bob", 1000))

	sale, err := svc.Buy("bob", listing.ListingID)
	require.NoError(t, err)

	assert.Equal(t, int64(975), sale.SellerAmount)
	assert.Equal(t, int64(25), sale.FeeAmount)
	assert.Equal(t, int64(0), sale.RoyaltyAmount)
	assert.Equal(t, int64(975), balance(t, ledger, "alice"))
}

func TestBuy_OwnListing(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "alice", 5000))

	_, err := svc.Buy("alice", listing.ListingID)
	assert.ErrorIs(t, err, types.ErrOwnListing)
}

func TestBuy_InsufficientFunds(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 500))

	_, err := svc.Buy("bob", listing.ListingID)
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	// The failed purchase changed nothing
	assert.Equal(t, int64(500), balance(t, ledger, "bob"))
	stored, err := svc.GetListing(listing.ListingID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingStatusActive, stored.Status)

	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, EscrowAccount, owner)
}

func TestBuy_RefundsOutstandingBids(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 600))
	require.NoError(t, ledger.Mint(testToken, "carol", 1000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 600})
	require.NoError(t, err)

	_, err = svc.Buy("carol", listing.ListingID)
	require.NoError(t, err)

	// The losing bid does not stay locked behind the sold listing
	assert.Equal(t, int64(600), balance(t, ledger, "bob"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	stored, err := svc.GetOffer(offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusCancelled, stored.Status)
}

func TestCreateOffer_EscrowsBid(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), offer.OfferID)
	assert.Equal(t, types.OfferStatusOpen, offer.Status)

	// The bid is locked at creation
	assert.Equal(t, int64(1200), balance(t, ledger, "bob"))
	assert.Equal(t, int64(800), balance(t, ledger, EscrowAccount))
}

func TestCreateOffer_Validation(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 100))

	_, err := svc.CreateOffer("alice", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	assert.ErrorIs(t, err, types.ErrOwnListing)

	_, err = svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 0})
	assert.ErrorIs(t, err, types.ErrInvalidPrice)

	past := time.Now().Add(-time.Hour)
	_, err = svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800, ExpiresAt: &past})
	assert.ErrorIs(t, err, types.ErrInvalidExpiration)

	// Unfunded bids are rejected, not recorded
	_, err = svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	offers, err := svc.GetOffersByListing(listing.ListingID)
	require.NoError(t, err)
	assert.Empty(t, offers)

	_, err = svc.CreateOffer("bob", CreateOfferRequest{ListingID: 99, Price: 800})
	assert.ErrorIs(t, err, types.ErrListingNotFound)
}

func TestAcceptOffer(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, strPtr("studio"), 500)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)

	sale, err := svc.AcceptOffer("alice", offer.OfferID)
	require.NoError(t, err)

	// Settlement happens at the offer price, not the ask
	assert.Equal(t, int64(800), sale.Price)
	assert.Equal(t, int64(740), sale.SellerAmount)
	assert.Equal(t, int64(20), sale.FeeAmount)
	assert.Equal(t, int64(40), sale.RoyaltyAmount)

	assert.Equal(t, int64(1200), balance(t, ledger, "bob"))
	assert.Equal(t, int64(740), balance(t, ledger, "alice"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	stored, err := svc.GetOffer(offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusAccepted, stored.Status)

	prices, err := svc.History().Prices(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{800}, prices)
}

func TestAcceptOffer_RefundsCompetingBids(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 0)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 500))
	require.NoError(t, ledger.Mint(testToken, "carol", 600))

	bobOffer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 500})
	require.NoError(t, err)
	carolOffer, err := svc.CreateOffer("carol", CreateOfferRequest{ListingID: listing.ListingID, Price: 600})
	require.NoError(t, err)

	_, err = svc.AcceptOffer("alice", carolOffer.OfferID)
	require.NoError(t, err)

	// The losing bid is refunded in full and cancelled
	assert.Equal(t, int64(500), balance(t, ledger, "bob"))
	assert.Equal(t, int64(0), balance(t, ledger, "carol"))
	assert.Equal(t, int64(600), balance(t, ledger, "alice"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	stored, err := svc.GetOffer(bobOffer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusCancelled, stored.Status)
}

func TestAcceptOffer_RefundsCounteredBids(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 0)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 500))
	require.NoError(t, ledger.Mint(testToken, "carol", 600))

	bobOffer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 500})
	require.NoError(t, err)
	counter, err := svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: bobOffer.OfferID, Price: 800})
	require.NoError(t, err)
	carolOffer, err := svc.CreateOffer("carol", CreateOfferRequest{ListingID: listing.ListingID, Price: 600})
	require.NoError(t, err)

	_, err = svc.AcceptOffer("alice", carolOffer.OfferID)
	require.NoError(t, err)

	// The countered bid still held escrow and is released with the rest
	assert.Equal(t, int64(500), balance(t, ledger, "bob"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	stored, err := svc.GetOffer(bobOffer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusCancelled, stored.Status)

	// Its counter can no longer settle against the cancelled parent
	_, err = svc.AcceptCounterOffer("bob", counter.CounterOfferID)
	assert.ErrorIs(t, err, types.ErrOfferNotOpen)
}

func TestAcceptOffer_Authorization(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)

	_, err = svc.AcceptOffer("mallory", offer.OfferID)
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	_, err = svc.AcceptOffer("alice", 99)
	assert.ErrorIs(t, err, types.ErrOfferNotFound)
}

func TestAcceptOffer_Expired(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	future := time.Now().Add(time.Hour)
	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800, ExpiresAt: &future})
	require.NoError(t, err)

	// Force the deadline into the past
	past := time.Now().Add(-time.Hour)
	require.NoError(t, svc.db.db.Model(&types.Offer{}).
		Where("offer_id = ?", offer.OfferID).
		Update("expires_at", past).Error)

	_, err = svc.AcceptOffer("alice", offer.OfferID)
	assert.ErrorIs(t, err, types.ErrOfferExpired)
}

func TestRejectOffer(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)

	err = svc.RejectOffer("mallory", offer.OfferID)
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	require.NoError(t, svc.RejectOffer("alice", offer.OfferID))

	// Full refund, listing still for sale
	assert.Equal(t, int64(2000), balance(t, ledger, "bob"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	stored, err := svc.GetOffer(offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusRejected, stored.Status)

	storedListing, err := svc.GetListing(listing.ListingID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingStatusActive, storedListing.Status)

	// A rejected offer is closed to further action
	err = svc.RejectOffer("alice", offer.OfferID)
	assert.ErrorIs(t, err, types.ErrOfferNotOpen)
}

func TestCancelOffer(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)

	err = svc.CancelOffer("alice", offer.OfferID)
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	require.NoError(t, svc.CancelOffer("bob", offer.OfferID))
	assert.Equal(t, int64(2000), balance(t, ledger, "bob"))

	stored, err := svc.GetOffer(offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusCancelled, stored.Status)
}

func TestCancelListing(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 800))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)

	err = svc.CancelListing("mallory", listing.ListingID)
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	require.NoError(t, svc.CancelListing("alice", listing.ListingID))

	// Asset back to the seller, bid back to the buyer
	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, int64(800), balance(t, ledger, "bob"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	storedListing, err := svc.GetListing(listing.ListingID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingStatusCancelled, storedListing.Status)

	storedOffer, err := svc.GetOffer(offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusCancelled, storedOffer.Status)

	// Cancelled listings accept no further action
	err = svc.CancelListing("alice", listing.ListingID)
	assert.ErrorIs(t, err, types.ErrListingNotActive)
}

func TestCounterOfferFlow(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)

	counter, err := svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: offer.OfferID, Price: 900})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counter.CounterOfferID)
	assert.False(t, counter.Resolved)

	// Countering closes the parent offer to the normal accept path
	stored, err := svc.GetOffer(offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusCountered, stored.Status)

	_, err = svc.AcceptOffer("alice", offer.OfferID)
	assert.ErrorIs(t, err, types.ErrOfferNotOpen)

	sale, err := svc.AcceptCounterOffer("bob", counter.CounterOfferID)
	require.NoError(t, err)
	assert.Equal(t, int64(900), sale.Price)

	// The buyer nets exactly the counter price: 800 escrowed, 800 refunded,
	// 900 charged
	assert.Equal(t, int64(1100), balance(t, ledger, "bob"))
	assert.Equal(t, int64(878), balance(t, ledger, "alice")) // 900 - 22 fee
	assert.Equal(t, int64(22), balance(t, ledger, "treasury"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	storedOffer, err := svc.GetOffer(offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusAccepted, storedOffer.Status)

	storedCounter, err := svc.GetCounterOffer(counter.CounterOfferID)
	require.NoError(t, err)
	assert.True(t, storedCounter.Resolved)

	prices, err := svc.History().Prices(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{900}, prices)

	// A resolved counter cannot settle again
	_, err = svc.AcceptCounterOffer("bob", counter.CounterOfferID)
	assert.ErrorIs(t, err, types.ErrOfferNotOpen)
}

func TestCounterOffer_LowerThanBid(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 0)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 800))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)

	// A seller can counter below the original bid; the buyer nets the
	// difference back
	counter, err := svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: offer.OfferID, Price: 700})
	require.NoError(t, err)

	sale, err := svc.AcceptCounterOffer("bob", counter.CounterOfferID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), sale.Price)

	assert.Equal(t, int64(100), balance(t, ledger, "bob"))
	assert.Equal(t, int64(700), balance(t, ledger, "alice"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))
}

func TestCreateCounterOffer_Validation(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)

	_, err = svc.CreateCounterOffer("mallory", CreateCounterOfferRequest{OfferID: offer.OfferID, Price: 900})
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	_, err = svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: offer.OfferID, Price: 0})
	assert.ErrorIs(t, err, types.ErrInvalidPrice)

	_, err = svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: 99, Price: 900})
	assert.ErrorIs(t, err, types.ErrOfferNotFound)

	// Only open offers can be countered
	require.NoError(t, svc.RejectOffer("alice", offer.OfferID))
	_, err = svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: offer.OfferID, Price: 900})
	assert.ErrorIs(t, err, types.ErrOfferNotOpen)
}

func TestAcceptCounterOffer_Authorization(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)
	counter, err := svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: offer.OfferID, Price: 900})
	require.NoError(t, err)

	// Only the original buyer may accept the counter
	_, err = svc.AcceptCounterOffer("mallory", counter.CounterOfferID)
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	_, err = svc.AcceptCounterOffer("bob", 99)
	assert.ErrorIs(t, err, types.ErrCounterOfferNotFound)
}

func TestAcceptCounterOffer_RefundsCompetingBids(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 0)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 1000))
	require.NoError(t, ledger.Mint(testToken, "carol", 500))

	bobOffer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)
	carolOffer, err := svc.CreateOffer("carol", CreateOfferRequest{ListingID: listing.ListingID, Price: 500})
	require.NoError(t, err)

	counter, err := svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: bobOffer.OfferID, Price: 900})
	require.NoError(t, err)

	_, err = svc.AcceptCounterOffer("bob", counter.CounterOfferID)
	require.NoError(t, err)

	assert.Equal(t, int64(100), balance(t, ledger, "bob"))
	assert.Equal(t, int64(500), balance(t, ledger, "carol"))
	assert.Equal(t, int64(900), balance(t, ledger, "alice"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	stored, err := svc.GetOffer(carolOffer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusCancelled, stored.Status)
}

func TestAcceptCounterOffer_InsufficientTopUp(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 850))
	require.NoError(t, ledger.Mint(testToken, "carol", 800))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)
	_, err = svc.CreateOffer("carol", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	require.NoError(t, err)
	counter, err := svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: offer.OfferID, Price: 900})
	require.NoError(t, err)

	// bob holds 50 spare against a 100 top-up
	_, err = svc.AcceptCounterOffer("bob", counter.CounterOfferID)
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	// Nothing moved: both bids stay escrowed and the sale remains open
	assert.Equal(t, int64(50), balance(t, ledger, "bob"))
	assert.Equal(t, int64(1600), balance(t, ledger, EscrowAccount))
	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, EscrowAccount, owner)

	stored, err := svc.GetOffer(offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, types.OfferStatusCountered, stored.Status)
	storedListing, err := svc.GetListing(listing.ListingID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingStatusActive, storedListing.Status)

	// Once funded, the same acceptance settles cleanly
	require.NoError(t, ledger.Mint(testToken, "bob", 50))
	_, err = svc.AcceptCounterOffer("bob", counter.CounterOfferID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance(t, ledger, "bob"))
	assert.Equal(t, int64(800), balance(t, ledger, "carol"))
	assert.Equal(t, int64(0), balance(t, ledger, EscrowAccount))

	owner, err = store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
}

func TestAcceptOnExpiredListing(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	listing := listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	require.NoError(t, ledger.Mint(testToken, "bob", 2000))

	offer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 600})
	require.NoError(t, err)
	counter, err := svc.CreateCounterOffer("alice", CreateCounterOfferRequest{OfferID: offer.OfferID, Price: 900})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, svc.db.db.Model(&types.Listing{}).
		Where("listing_id = ?", listing.ListingID).
		Update("expires_at", past).Error)

	// The deadline gates both accept paths, not just direct buys
	_, err = svc.AcceptCounterOffer("bob", counter.CounterOfferID)
	assert.ErrorIs(t, err, types.ErrListingNotActive)

	carolListing := listAsset(t, svc, store, "carol", 2, 1000, nil, 0)
	carolOffer, err := svc.CreateOffer("bob", CreateOfferRequest{ListingID: carolListing.ListingID, Price: 700})
	require.NoError(t, err)
	require.NoError(t, svc.db.db.Model(&types.Listing{}).
		Where("listing_id = ?", carolListing.ListingID).
		Update("expires_at", past).Error)

	_, err = svc.AcceptOffer("carol", carolOffer.OfferID)
	assert.ErrorIs(t, err, types.ErrListingNotActive)

	// Escrow still holds both bids; the buyer can reclaim them
	assert.Equal(t, int64(1300), balance(t, ledger, EscrowAccount))
	require.NoError(t, svc.CancelOffer("bob", carolOffer.OfferID))
	assert.Equal(t, int64(1400), balance(t, ledger, "bob"))
}

func TestListingExpiry(t *testing.T) {
	svc, ledger, store := newTestService(t)
	initMarket(t, svc, 250)

	duration := int64(3600)
	require.NoError(t, store.Register(testRef, 1, "alice"))
	listing, err := svc.CreateListing("alice", CreateListingRequest{
		Asset:        types.Asset{Kind: types.AssetKindItem, RegistryRef: testRef, AssetID: 1},
		PaymentToken: testToken,
		Price:        1000,
		Duration:     &duration,
	})
	require.NoError(t, err)
	require.NotNil(t, listing.ExpiresAt)

	// Force the deadline into the past
	past := time.Now().Add(-time.Hour)
	require.NoError(t, svc.db.db.Model(&types.Listing{}).
		Where("listing_id = ?", listing.ListingID).
		Update("expires_at", past).Error)

	require.NoError(t, ledger.Mint(testToken, "bob", 2000))
	_, err = svc.Buy("bob", listing.ListingID)
	assert.ErrorIs(t, err, types.ErrListingNotActive)

	_, err = svc.CreateOffer("bob", CreateOfferRequest{ListingID: listing.ListingID, Price: 800})
	assert.ErrorIs(t, err, types.ErrListingNotActive)

	// The seller can still reclaim the asset
	require.NoError(t, svc.CancelListing("alice", listing.ListingID))
	owner, err := store.OwnerOf(testRef, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestGetListings(t *testing.T) {
	svc, _, store := newTestService(t)
	initMarket(t, svc, 250)

	listAsset(t, svc, store, "alice", 1, 1000, nil, 0)
	listAsset(t, svc, store, "alice", 2, 2000, nil, 0)
	listAsset(t, svc, store, "bob", 3, 3000, nil, 0)

	require.NoError(t, svc.CancelListing("bob", 3))

	active, err := svc.GetActiveListings()
	require.NoError(t, err)
	assert.Len(t, active, 2)

	bysSeller, err := svc.GetListingsBySeller("alice")
	require.NoError(t, err)
	assert.Len(t, bysSeller, 2)

	byAsset, err := svc.GetListingsByAsset(testRef, 3)
	require.NoError(t, err)
	require.Len(t, byAsset, 1)
	assert.Equal(t, types.ListingStatusCancelled, byAsset[0].Status)

	_, err = svc.GetListing(99)
	assert.ErrorIs(t, err, types.ErrListingNotFound)
}
