package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/whale-watch/pkg/archive"
	"github.com/whale-watch/pkg/cache"
	"github.com/whale-watch/pkg/config"
	"github.com/whale-watch/pkg/gateway"
	"github.com/whale-watch/pkg/jobs"
	"github.com/whale-watch/pkg/whale"
	"github.com/whale-watch/pkg/worker"
)

// JobHandler handles analysis submission and polling
type JobHandler struct {
	cfg      *config.Config
	profiles *cache.ProfileCache
	store    jobs.Store
	runner   *worker.Runner
}

func NewJobHandler(cfg *config.Config, profiles *cache.ProfileCache, store jobs.Store, runner *worker.Runner) *JobHandler {
	return &JobHandler{cfg: cfg, profiles: profiles, store: store, runner: runner}
}

type analyzeRequest struct {
	Hash          string  `json:"hash"`
	AmountBTC     float64 `json:"amount_btc"`
	FromAddress   string  `json:"from_address"`
	ToAddress     string  `json:"to_address"`
	Timestamp     int64   `json:"timestamp"`
	BlockHeight   int64   `json:"block_height"`
	ModelOverride string  `json:"model_override"`
}

// Submit validates a whale movement, enriches it and queues analysis.
// POST /api/v1/analyze
func (h *JobHandler) Submit(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if req.Hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hash is required"})
		return
	}
	if req.AmountBTC <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_btc must be positive"})
		return
	}
	if err := validateAddress(req.FromAddress); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from_address: " + err.Error()})
		return
	}
	if err := validateAddress(req.ToAddress); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to_address: " + err.Error()})
		return
	}

	observed := time.Now().UTC()
	if req.Timestamp > 0 {
		observed = time.Unix(req.Timestamp, 0).UTC()
	}

	w := whale.WhaleTransaction{
		Hash:        req.Hash,
		Amount:      req.AmountBTC,
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		Time:        observed,
		BlockHeight: req.BlockHeight,
		IsWhale:     true,
	}

	// Enrichment never blocks submission: profile fetches degrade to zero
	// profiles and the flags come out false.
	ctx := c.Request.Context()
	src := h.profiles.GetOrFetch(ctx, req.FromAddress)
	dst := h.profiles.GetOrFetch(ctx, req.ToAddress)

	class := whale.Classify(w, h.cfg.Entities)
	patterns := whale.AnalyzePatterns(src, dst, whale.DefaultThresholds(), h.cfg.Entities)

	job := h.store.Create(w, &class, &patterns, req.ModelOverride)
	h.runner.Dispatch(job.ID)

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

// Get returns the current job snapshot.
// GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	job, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// validateAddress accepts mainnet addresses plus the literal "coinbase"
// used for block-reward sources.
func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if addr == "coinbase" {
		return nil
	}
	if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
		return fmt.Errorf("invalid address %q: %v", addr, err)
	}
	return nil
}

// ScanHandler handles on-demand chain scans
type ScanHandler struct {
	cfg   *config.Config
	chain *gateway.ChainClient
	price *gateway.PriceClient
	arch  *archive.Store
}

func NewScanHandler(cfg *config.Config, chain *gateway.ChainClient, price *gateway.PriceClient, arch *archive.Store) *ScanHandler {
	return &ScanHandler{cfg: cfg, chain: chain, price: price, arch: arch}
}

type scanWhale struct {
	whale.WhaleTransaction
	Classification whale.Classification `json:"classification"`
}

// Unconfirmed scans the mempool for whale movements.
// GET /api/v1/scan/unconfirmed
func (h *ScanHandler) Unconfirmed(c *gin.Context) {
	threshold, err := h.threshold(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	txs := h.chain.UnconfirmedTransactions(ctx)
	priceUSD := h.price.PriceOrFallback(ctx)
	whales := h.enrich(whale.DetectWhales(txs, threshold, priceUSD))

	c.JSON(http.StatusOK, gin.H{
		"scanned":   len(txs),
		"threshold": threshold,
		"price_usd": priceUSD,
		"count":     len(whales),
		"whales":    whales,
	})
}

// LatestBlock scans the newest block for whale movements.
// GET /api/v1/scan/block
func (h *ScanHandler) LatestBlock(c *gin.Context) {
	threshold, err := h.threshold(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tip := h.chain.LatestBlock(ctx)
	if tip == nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "chain tip unavailable"})
		return
	}

	txs := h.chain.BlockTransactions(ctx, tip.Hash)
	priceUSD := h.price.PriceOrFallback(ctx)
	whales := h.enrich(whale.DetectWhales(txs, threshold, priceUSD))

	c.JSON(http.StatusOK, gin.H{
		"block":     tip,
		"scanned":   len(txs),
		"threshold": threshold,
		"price_usd": priceUSD,
		"count":     len(whales),
		"whales":    whales,
	})
}

func (h *ScanHandler) threshold(c *gin.Context) (float64, error) {
	raw := c.Query("threshold")
	if raw == "" {
		return h.cfg.WhaleThresholdBTC, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid threshold %q", raw)
	}
	return v, nil
}

// enrich classifies each whale and archives the sighting.
func (h *ScanHandler) enrich(detected []whale.WhaleTransaction) []scanWhale {
	out := make([]scanWhale, 0, len(detected))
	for _, w := range detected {
		class := whale.Classify(w, h.cfg.Entities)
		out = append(out, scanWhale{WhaleTransaction: w, Classification: class})

		inserted, err := h.arch.Insert(archive.Sighting{
			Hash:           w.Hash,
			AmountBTC:      w.Amount,
			AmountUSD:      w.AmountUSD,
			FromAddress:    w.FromAddress,
			ToAddress:      w.ToAddress,
			Classification: class.Type,
			Description:    class.Description,
			BlockHeight:    w.BlockHeight,
			ObservedAt:     w.Time,
		})
		if err != nil {
			log.Warn().Err(err).Str("hash", w.Hash).Msg("📉 archive insert failed")
		} else if inserted {
			log.Info().Str("hash", w.Hash).Float64("btc", w.Amount).Str("type", class.Type).Msg("🚨 whale sighted")
		}
	}
	return out
}

// AddressHandler serves cached address profiles
type AddressHandler struct {
	profiles *cache.ProfileCache
}

func NewAddressHandler(profiles *cache.ProfileCache) *AddressHandler {
	return &AddressHandler{profiles: profiles}
}

// Get returns the behavioral profile for an address.
// GET /api/v1/address/:address
func (h *AddressHandler) Get(c *gin.Context) {
	addr := c.Param("address")
	if err := validateAddress(addr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.profiles.GetOrFetch(c.Request.Context(), addr))
}

// StatsHandler serves archive reads and runtime counters
type StatsHandler struct {
	profiles *cache.ProfileCache
	store    jobs.Store
	arch     *archive.Store
}

func NewStatsHandler(profiles *cache.ProfileCache, store jobs.Store, arch *archive.Store) *StatsHandler {
	return &StatsHandler{profiles: profiles, store: store, arch: arch}
}

// RecentWhales returns the newest archived sightings.
// GET /api/v1/whales/recent
func (h *StatsHandler) RecentWhales(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid limit %q", raw)})
			return
		}
		if v > 500 {
			v = 500
		}
		limit = v
	}

	sightings, err := h.arch.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(sightings), "whales": sightings})
}

// Stats returns cache, job and archive counters.
// GET /api/v1/stats
func (h *StatsHandler) Stats(c *gin.Context) {
	size, keys := h.profiles.Stats()

	archStats, err := h.arch.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cache": gin.H{"size": size, "addresses": keys},
		"jobs":  h.store.Count(),
		"archive": gin.H{
			"total":     archStats.Total,
			"total_usd": archStats.TotalUSD,
			"by_type":   archStats.ByType,
		},
	})
}
