package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Samuel1505/quest-marketplace/internal/auth"
	"github.com/Samuel1505/quest-marketplace/internal/database"
	"github.com/Samuel1505/quest-marketplace/internal/history"
	"github.com/Samuel1505/quest-marketplace/internal/marketplace"
	"github.com/Samuel1505/quest-marketplace/internal/notify"
	"github.com/Samuel1505/quest-marketplace/internal/registry"
	"github.com/Samuel1505/quest-marketplace/internal/token"
	"github.com/Samuel1505/quest-marketplace/internal/types"
	"github.com/Samuel1505/quest-marketplace/pkg/middleware"
)

const (
	minListings   = 10
	maxListings   = 60
	numWorkers    = 5
	serverAddress = "http://localhost:8080"

	adminPrincipal = "admin-ops"
	feeRecipient   = "treasury"
	paymentToken   = "QUEST"
	registryRef    = "quest-assets"
	startingFunds  = int64(1_000_000)
)

var (
	traders  = []string{"alice", "bob", "carol", "dave", "erin"}
	creators = []string{"studio-one", "studio-two"}
	kinds    = []string{types.AssetKindNFT, types.AssetKindItem, types.AssetKindHint}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the marketplace API.
// It holds one JWT per trader so requests carry the right principal.
type simulationClient struct {
	baseURL string
	client  *http.Client
	tokens  map[string]string
	mu      sync.Mutex
	stats   map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates every trader with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		tokens:  make(map[string]string),
		stats: map[string]*routeStats{
			"auth":           {name: "Authentication"},
			"listing":        {name: "Create Listing"},
			"buy":            {name: "Buy Listing"},
			"offer":          {name: "Create Offer"},
			"accept":         {name: "Accept Offer"},
			"reject":         {name: "Reject Offer"},
			"counter":        {name: "Counter Offer"},
			"accept_counter": {name: "Accept Counter"},
			"prices":         {name: "Price Stats"},
		},
	}

	for _, principal := range append([]string{adminPrincipal}, traders...) {
		tok, err := sc.authenticate(principal)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate %s: %w", principal, err)
		}
		sc.tokens[principal] = tok
	}

	return sc, nil
}

// authenticate performs API authentication for one principal and returns a JWT
func (sc *simulationClient) authenticate(principal string) (string, error) {
	start := time.Now()
	defer func() {
		sc.record("auth", time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    principal,
		"api_secret": principal + "-secret",
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

func (sc *simulationClient) record(route string, d time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].addDuration(d)
}

func (sc *simulationClient) fail(route string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].failures++
}

// do sends an authenticated request as the given principal and decodes the
// response envelope's data field into out (when out is non-nil).
func (sc *simulationClient) do(principal, method, path string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.tokens[principal]))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return json.Unmarshal(envelope.Data, out)
}

// initialize sets up the marketplace configuration via the internal API
func (sc *simulationClient) initialize() error {
	return sc.do(adminPrincipal, "POST", "/api/v1/internal/initialize", map[string]interface{}{
		"admin":                adminPrincipal,
		"fee_recipient":        feeRecipient,
		"fee_bps":              250,
		"min_listing_duration": 3600,
		"max_listing_duration": 30 * 24 * 3600,
	}, nil)
}

// seedTrader funds a trader's payment token balance
func (sc *simulationClient) seedTrader(principal string) error {
	return sc.do(adminPrincipal, "POST", "/api/v1/internal/custody/mint", map[string]interface{}{
		"token":   paymentToken,
		"account": principal,
		"amount":  startingFunds,
	}, nil)
}

// registerAsset records the initial owner of an asset in the registry
func (sc *simulationClient) registerAsset(assetID uint32, owner string) error {
	return sc.do(adminPrincipal, "POST", "/api/v1/internal/custody/assets", map[string]interface{}{
		"registry_ref": registryRef,
		"asset_id":     assetID,
		"owner":        owner,
	}, nil)
}

// createListing lists an asset for sale as the given seller
func (sc *simulationClient) createListing(seller string, assetID uint32, price int64, creator *string, royaltyBps uint32) (*types.Listing, error) {
	start := time.Now()
	defer func() {
		sc.record("listing", time.Since(start))
	}()

	payload := map[string]interface{}{
		"asset": map[string]interface{}{
			"kind":         kinds[rand.Intn(len(kinds))],
			"registry_ref": registryRef,
			"asset_id":     assetID,
		},
		"payment_token": paymentToken,
		"price":         price,
	}
	if creator != nil {
		payload["creator"] = *creator
		payload["royalty_bps"] = royaltyBps
	}

	var listing types.Listing
	if err := sc.do(seller, "POST", "/api/v1/listings", payload, &listing); err != nil {
		sc.fail("listing")
		return nil, err
	}
	return &listing, nil
}

// buy purchases an active listing at full price as the given buyer
func (sc *simulationClient) buy(buyer string, listingID uint64) (*types.SaleResponse, error) {
	start := time.Now()
	defer func() {
		sc.record("buy", time.Since(start))
	}()

	var sale types.SaleResponse
	path := fmt.Sprintf("/api/v1/listings/%d/buy", listingID)
	if err := sc.do(buyer, "POST", path, nil, &sale); err != nil {
		sc.fail("buy")
		return nil, err
	}
	return &sale, nil
}

// createOffer places a below-ask offer on a listing as the given buyer
func (sc *simulationClient) createOffer(buyer string, listingID uint64, price int64) (*types.Offer, error) {
	start := time.Now()
	defer func() {
		sc.record("offer", time.Since(start))
	}()

	var offer types.Offer
	payload := map[string]interface{}{
		"listing_id": listingID,
		"price":      price,
	}
	if err := sc.do(buyer, "POST", "/api/v1/offers", payload, &offer); err != nil {
		sc.fail("offer")
		return nil, err
	}
	return &offer, nil
}

// acceptOffer accepts an open offer as the listing's seller
func (sc *simulationClient) acceptOffer(seller string, offerID uint64) (*types.SaleResponse, error) {
	start := time.Now()
	defer func() {
		sc.record("accept", time.Since(start))
	}()

	var sale types.SaleResponse
	path := fmt.Sprintf("/api/v1/offers/%d/accept", offerID)
	if err := sc.do(seller, "POST", path, nil, &sale); err != nil {
		sc.fail("accept")
		return nil, err
	}
	return &sale, nil
}

// rejectOffer rejects an open offer as the listing's seller
func (sc *simulationClient) rejectOffer(seller string, offerID uint64) error {
	start := time.Now()
	defer func() {
		sc.record("reject", time.Since(start))
	}()

	path := fmt.Sprintf("/api/v1/offers/%d/reject", offerID)
	if err := sc.do(seller, "POST", path, nil, nil); err != nil {
		sc.fail("reject")
		return err
	}
	return nil
}

// counterOffer counters an open offer at a new price as the listing's seller
func (sc *simulationClient) counterOffer(seller string, offerID uint64, price int64) (*types.CounterOffer, error) {
	start := time.Now()
	defer func() {
		sc.record("counter", time.Since(start))
	}()

	var counter types.CounterOffer
	payload := map[string]interface{}{
		"offer_id": offerID,
		"price":    price,
	}
	if err := sc.do(seller, "POST", "/api/v1/counter-offers", payload, &counter); err != nil {
		sc.fail("counter")
		return nil, err
	}
	return &counter, nil
}

// acceptCounterOffer accepts a counter-offer as the original buyer
func (sc *simulationClient) acceptCounterOffer(buyer string, counterOfferID uint64) (*types.SaleResponse, error) {
	start := time.Now()
	defer func() {
		sc.record("accept_counter", time.Since(start))
	}()

	var sale types.SaleResponse
	path := fmt.Sprintf("/api/v1/counter-offers/%d/accept", counterOfferID)
	if err := sc.do(buyer, "POST", path, nil, &sale); err != nil {
		sc.fail("accept_counter")
		return nil, err
	}
	return &sale, nil
}

// priceStats fetches recorded sale statistics for an asset
func (sc *simulationClient) priceStats(assetID uint32) (*types.PriceStatsResponse, error) {
	start := time.Now()
	defer func() {
		sc.record("prices", time.Since(start))
	}()

	var stats types.PriceStatsResponse
	path := fmt.Sprintf("/api/v1/assets/%s/%d/prices/stats", registryRef, assetID)
	if err := sc.do(adminPrincipal, "GET", path, nil, &stats); err != nil {
		sc.fail("prices")
		return nil, err
	}
	return &stats, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the marketplace simulation
// It starts a local API server and simulates traders listing, bidding on and
// buying assets
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// One-time marketplace setup: config, trader funds, asset ownership
	if err := simClient.initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize marketplace")
	}
	for _, trader := range traders {
		if err := simClient.seedTrader(trader); err != nil {
			log.Fatal().Err(err).Str("trader", trader).Msg("Failed to seed trader")
		}
	}

	targetListings := rand.Intn(maxListings-minListings) + minListings
	log.Info().Int("target_listings", targetListings).Msg("Starting simulation")

	for i := 1; i <= targetListings; i++ {
		owner := traders[rand.Intn(len(traders))]
		if err := simClient.registerAsset(uint32(i), owner); err != nil {
			log.Fatal().Err(err).Uint32("asset_id", uint32(i)).Msg("Failed to register asset")
		}
	}

	// Channel to collect created listings
	listingsChan := make(chan *types.Listing, targetListings)
	var wg sync.WaitGroup

	// Start worker goroutines, each listing a slice of the asset range
	perWorker := targetListings / numWorkers
	for i := 0; i < numWorkers; i++ {
		first := i*perWorker + 1
		last := first + perWorker - 1
		if i == numWorkers-1 {
			last = targetListings
		}

		wg.Add(1)
		go func(first, last int) {
			defer wg.Done()
			createListingsHTTP(first, last, simClient, listingsChan)
		}(first, last)
	}

	// Wait for all listings to be created
	wg.Wait()
	close(listingsChan)

	var listings []*types.Listing
	for listing := range listingsChan {
		listings = append(listings, listing)
	}

	log.Info().Int("listings_created", len(listings)).Msg("All listings created")

	// Collect statistics during processing
	stats := struct {
		TotalListings   int
		DirectSales     int
		OffersMade      int
		OffersAccepted  int
		OffersRejected  int
		Counters        int
		CounterSales    int
		FailedTrades    int
		TotalVolume     int64
		TotalFees       int64
		TotalRoyalties  int64
		StartTime       time.Time
		SalesByKind     map[string]int
	}{
		StartTime:   time.Now(),
		SalesByKind: make(map[string]int),
	}
	stats.TotalListings = len(listings)

	recordSale := func(listing *types.Listing, sale *types.SaleResponse) {
		stats.TotalVolume += sale.Price
		stats.TotalFees += sale.FeeAmount
		stats.TotalRoyalties += sale.RoyaltyAmount
		stats.SalesByKind[listing.Asset.Kind]++
	}

	// Trade each listing through a randomly chosen path
	for _, listing := range listings {
		buyer := pickBuyer(listing.Seller)

		switch roll := rand.Intn(100); {
		case roll < 40:
			// Direct purchase at the ask price
			sale, err := simClient.buy(buyer, listing.ListingID)
			if err != nil {
				log.Error().Err(err).Uint64("listing_id", listing.ListingID).Msg("Failed to buy listing")
				stats.FailedTrades++
				continue
			}
			stats.DirectSales++
			recordSale(listing, sale)
			log.Info().
				Uint64("listing_id", listing.ListingID).
				Str("buyer", buyer).
				Int64("price", sale.Price).
				Msg("Listing sold")

		default:
			// Offer below the ask, then let the seller decide
			offerPrice := listing.Price * int64(rand.Intn(30)+60) / 100
			offer, err := simClient.createOffer(buyer, listing.ListingID, offerPrice)
			if err != nil {
				log.Error().Err(err).Uint64("listing_id", listing.ListingID).Msg("Failed to create offer")
				stats.FailedTrades++
				continue
			}
			stats.OffersMade++

			switch sellerRoll := rand.Intn(100); {
			case sellerRoll < 45:
				sale, err := simClient.acceptOffer(listing.Seller, offer.OfferID)
				if err != nil {
					log.Error().Err(err).Uint64("offer_id", offer.OfferID).Msg("Failed to accept offer")
					stats.FailedTrades++
					continue
				}
				stats.OffersAccepted++
				recordSale(listing, sale)
				log.Info().
					Uint64("offer_id", offer.OfferID).
					Int64("price", sale.Price).
					Msg("Offer accepted")

			case sellerRoll < 65:
				if err := simClient.rejectOffer(listing.Seller, offer.OfferID); err != nil {
					log.Error().Err(err).Uint64("offer_id", offer.OfferID).Msg("Failed to reject offer")
					stats.FailedTrades++
					continue
				}
				stats.OffersRejected++
				log.Info().Uint64("offer_id", offer.OfferID).Msg("Offer rejected")

			default:
				// Counter between the offer and the ask, buyer accepts
				counterPrice := (offerPrice + listing.Price) / 2
				counter, err := simClient.counterOffer(listing.Seller, offer.OfferID, counterPrice)
				if err != nil {
					log.Error().Err(err).Uint64("offer_id", offer.OfferID).Msg("Failed to counter offer")
					stats.FailedTrades++
					continue
				}
				stats.Counters++

				sale, err := simClient.acceptCounterOffer(buyer, counter.CounterOfferID)
				if err != nil {
					log.Error().Err(err).Uint64("counter_offer_id", counter.CounterOfferID).Msg("Failed to accept counter")
					stats.FailedTrades++
					continue
				}
				stats.CounterSales++
				recordSale(listing, sale)
				log.Info().
					Uint64("counter_offer_id", counter.CounterOfferID).
					Int64("price", sale.Price).
					Msg("Counter-offer accepted")
			}
		}
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🏪 MARKETPLACE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Trade Statistics
------------------
Total Listings:   %d
Direct Sales:     %d
Offers Made:      %d
Offers Accepted:  %d
Offers Rejected:  %d
Counters Made:    %d
Counter Sales:    %d
Failed Trades:    %d
Total Volume:     %d %s
Total Fees:       %d %s
Total Royalties:  %d %s
Duration:         %v

📈 Sales by Asset Kind
--------------------
`, stats.TotalListings, stats.DirectSales, stats.OffersMade, stats.OffersAccepted,
		stats.OffersRejected, stats.Counters, stats.CounterSales, stats.FailedTrades,
		stats.TotalVolume, paymentToken, stats.TotalFees, paymentToken,
		stats.TotalRoyalties, paymentToken, duration.Round(time.Millisecond))

	// Print kind distribution with simple ASCII bar chart
	maxKindCount := 0
	for _, count := range stats.SalesByKind {
		if count > maxKindCount {
			maxKindCount = count
		}
	}

	for kind, count := range stats.SalesByKind {
		barLength := int(float64(count) / float64(maxKindCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-6s: %s (%d)\n", kind, bar, count)
	}

	// Sample recorded price history for the first few assets
	fmt.Println("\n📉 Price History Samples")
	fmt.Println("----------------------")
	samples := 0
	for assetID := uint32(1); assetID <= uint32(stats.TotalListings) && samples < 5; assetID++ {
		priceStats, err := simClient.priceStats(assetID)
		if err != nil {
			continue
		}
		samples++
		fmt.Printf("Asset %d: %d sales, avg %d, min %d, max %d\n",
			assetID, priceStats.Count, priceStats.Average, priceStats.Min, priceStats.Max)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	totalSales := stats.DirectSales + stats.OffersAccepted + stats.CounterSales
	successRate := float64(totalSales) / float64(stats.TotalListings) * 100
	log.Info().
		Float64("sale_rate", successRate).
		Int("total_listings", stats.TotalListings).
		Int("total_sales", totalSales).
		Int64("total_volume", stats.TotalVolume).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// pickBuyer returns a random trader other than the seller
func pickBuyer(seller string) string {
	for {
		buyer := traders[rand.Intn(len(traders))]
		if buyer != seller {
			return buyer
		}
	}
}

// createListingsHTTP lists the assets in [first, last] for sale, sending the
// created listings to listingsChan. Runs as a worker goroutine.
func createListingsHTTP(first, last int, simClient *simulationClient, listingsChan chan<- *types.Listing) {
	for assetID := first; assetID <= last; assetID++ {
		// The registry seeded the owner; look it up so the listing comes
		// from the right principal
		owner, err := assetOwner(simClient, uint32(assetID))
		if err != nil {
			log.Error().Err(err).Int("asset_id", assetID).Msg("Failed to look up asset owner")
			continue
		}

		price := int64(rand.Intn(4500) + 500)

		// Some assets carry a creator royalty
		var creator *string
		var royaltyBps uint32
		if rand.Intn(100) < 40 {
			creator = &creators[rand.Intn(len(creators))]
			royaltyBps = uint32(rand.Intn(900) + 100)
		}

		listing, err := simClient.createListing(owner, uint32(assetID), price, creator, royaltyBps)
		if err != nil {
			log.Error().Err(err).
				Int("asset_id", assetID).
				Str("seller", owner).
				Msg("Failed to create listing")
			continue
		}

		listingsChan <- listing
		log.Info().
			Uint64("listing_id", listing.ListingID).
			Str("seller", owner).
			Int64("price", price).
			Msg("Listing created")

		// Random sleep between listings
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// assetOwner fetches the current owner of an asset from the registry
func assetOwner(simClient *simulationClient, assetID uint32) (string, error) {
	var result struct {
		Owner string `json:"owner"`
	}
	path := fmt.Sprintf("/api/v1/assets/%s/%d/owner", registryRef, assetID)
	if err := simClient.do(adminPrincipal, "GET", path, nil, &result); err != nil {
		return "", err
	}
	return result.Owner, nil
}

// startServer initializes and starts the marketplace API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize in-memory database so repeat runs start clean
	db, err := database.NewDatabase("file::memory:?cache=shared")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(middleware.JWTSecret())

	// Register credentials for the admin and every trader
	for _, principal := range append([]string{adminPrincipal}, traders...) {
		authService.RegisterAPICredentials(principal, principal+"-secret")
	}

	ledger := token.NewLedger(db)
	assets := registry.NewStore(db)

	dispatcher := notify.NewDispatcher(notify.LogSink{})
	go dispatcher.Start(context.Background())

	marketplaceService := marketplace.NewService(db, ledger, assets, dispatcher)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	marketplaceHandlers := marketplace.NewGinHandlers(marketplaceService)
	historyHandlers := history.NewGinHandlers(marketplaceService.History())
	tokenHandlers := token.NewGinHandlers(ledger)
	registryHandlers := registry.NewGinHandlers(assets)

	// Setup routes
	setupRoutes(router, authHandlers, marketplaceHandlers, historyHandlers, tokenHandlers, registryHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	marketplaceHandlers *marketplace.GinHandlers,
	historyHandlers *history.GinHandlers,
	tokenHandlers *token.GinHandlers,
	registryHandlers *registry.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Listing routes
		listings := v1.Group("/listings")
		listings.Use(middleware.JWTAuth())
		{
			listings.POST("", marketplaceHandlers.CreateListingHandler())
			listings.GET("", marketplaceHandlers.GetActiveListingsHandler())
			listings.GET("/:listing_id", marketplaceHandlers.GetListingHandler())
			listings.POST("/:listing_id/buy", marketplaceHandlers.BuyHandler())
			listings.POST("/:listing_id/cancel", marketplaceHandlers.CancelListingHandler())
			listings.GET("/:listing_id/offers", marketplaceHandlers.GetOffersByListingHandler())
		}

		// Offer routes
		offers := v1.Group("/offers")
		offers.Use(middleware.JWTAuth())
		{
			offers.POST("", marketplaceHandlers.CreateOfferHandler())
			offers.GET("/:offer_id", marketplaceHandlers.GetOfferHandler())
			offers.POST("/:offer_id/accept", marketplaceHandlers.AcceptOfferHandler())
			offers.POST("/:offer_id/reject", marketplaceHandlers.RejectOfferHandler())
			offers.POST("/:offer_id/cancel", marketplaceHandlers.CancelOfferHandler())
			offers.GET("/:offer_id/counters", marketplaceHandlers.GetCounterOffersByOfferHandler())
		}

		// Counter-offer routes
		counters := v1.Group("/counter-offers")
		counters.Use(middleware.JWTAuth())
		{
			counters.POST("", marketplaceHandlers.CreateCounterOfferHandler())
			counters.GET("/:counter_offer_id", marketplaceHandlers.GetCounterOfferHandler())
			counters.POST("/:counter_offer_id/accept", marketplaceHandlers.AcceptCounterOfferHandler())
		}

		// Market data routes
		market := v1.Group("/market")
		{
			market.GET("/config", marketplaceHandlers.GetConfigHandler())
			market.PUT("/config", middleware.JWTAuth(), marketplaceHandlers.UpdateConfigHandler())
		}

		sellers := v1.Group("/sellers")
		{
			sellers.GET("/:seller/listings", marketplaceHandlers.GetListingsBySellerHandler())
		}

		assets := v1.Group("/assets")
		{
			assets.GET("/:registry_ref/:asset_id/listings", marketplaceHandlers.GetListingsByAssetHandler())
			assets.GET("/:registry_ref/:asset_id/owner", registryHandlers.GetOwnerHandler())
			assets.GET("/:registry_ref/:asset_id/prices", historyHandlers.GetPriceHistoryHandler())
			assets.GET("/:registry_ref/:asset_id/prices/stats", historyHandlers.GetPriceStatsHandler())
			assets.GET("/:registry_ref/:asset_id/prices/average", historyHandlers.GetAveragePriceHandler())
			assets.GET("/:registry_ref/:asset_id/prices/min", historyHandlers.GetMinPriceHandler())
			assets.GET("/:registry_ref/:asset_id/prices/max", historyHandlers.GetMaxPriceHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/initialize", marketplaceHandlers.InitializeHandler())
			internal.POST("/custody/mint", tokenHandlers.MintHandler())
			internal.GET("/custody/balances/:token/:account", tokenHandlers.GetBalanceHandler())
			internal.POST("/custody/assets", registryHandlers.RegisterAssetHandler())
		}
	}
}
