package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/whale-watch/pkg/archive"
	"github.com/whale-watch/pkg/config"
	"github.com/whale-watch/pkg/gateway"
	"github.com/whale-watch/pkg/jobs"
	"github.com/whale-watch/pkg/whale"
	"github.com/whale-watch/pkg/worker"
)

const (
	reconnectDelay = 3 * time.Second
	priceMaxAge    = 5 * time.Minute
	maxSeen        = 4096 // dedup window; the archive backstops evictions
)

// Monitor watches the chain for whale movements. It runs in poll mode against
// the mempool endpoint, or consumes the live websocket feed when one is
// configured.
type Monitor struct {
	cfg    *config.Config
	chain  *gateway.ChainClient
	price  *gateway.PriceClient
	arch   *archive.Store
	store  jobs.Store
	runner *worker.Runner

	mu        sync.Mutex
	seen      map[string]bool
	seenOrder []string

	priceMu      sync.Mutex
	lastPrice    float64
	priceFetched time.Time
}

func New(cfg *config.Config, chain *gateway.ChainClient, price *gateway.PriceClient, arch *archive.Store, store jobs.Store, runner *worker.Runner) *Monitor {
	return &Monitor{
		cfg:    cfg,
		chain:  chain,
		price:  price,
		arch:   arch,
		store:  store,
		runner: runner,
		seen:   make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.ChainWSURL != "" {
		return m.runLive(ctx)
	}
	return m.runPoll(ctx)
}

func (m *Monitor) runPoll(ctx context.Context) error {
	log.Info().
		Dur("interval", m.cfg.ScanInterval).
		Float64("threshold_btc", m.cfg.WhaleThresholdBTC).
		Msg("🔍 monitor polling mempool")

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.scanOnce(ctx)
		}
	}
}

func (m *Monitor) scanOnce(ctx context.Context) {
	txs := m.chain.UnconfirmedTransactions(ctx)
	if len(txs) == 0 {
		return
	}

	priceUSD := m.cachedPrice(ctx)
	for _, w := range whale.DetectWhales(txs, m.cfg.WhaleThresholdBTC, priceUSD) {
		m.handleWhale(w)
	}
}

// runLive consumes the websocket feed, reconnecting with a fixed delay until
// ctx is cancelled.
func (m *Monitor) runLive(ctx context.Context) error {
	log.Info().Str("url", m.cfg.ChainWSURL).Msg("🔍 monitor subscribing to live feed")

	for {
		err := m.consumeFeed(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("🌐 live feed dropped, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (m *Monitor) consumeFeed(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.ChainWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	// Closing the connection is the only way to unblock ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sub, _ := json.Marshal(map[string]string{"op": "unconfirmed_sub"})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}

		var msg gateway.FeedMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Op != "utx" {
			continue
		}

		tx := msg.Transaction()
		for _, w := range whale.DetectWhales([]gateway.Transaction{tx}, m.cfg.WhaleThresholdBTC, m.cachedPrice(ctx)) {
			m.handleWhale(w)
		}
	}
}

// handleWhale classifies, archives and optionally queues analysis for one
// sighting. Safe to call from both feed and poll paths.
func (m *Monitor) handleWhale(w whale.WhaleTransaction) {
	if m.alreadySeen(w.Hash) {
		return
	}

	class := whale.Classify(w, m.cfg.Entities)

	inserted, err := m.arch.Insert(archive.Sighting{
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
	}
	if !inserted && err == nil {
		return // archived on an earlier run
	}

	log.Info().
		Str("hash", abbrev(w.Hash)).
		Float64("btc", w.Amount).
		Float64("usd", w.AmountUSD).
		Str("type", class.Type).
		Str("from", abbrev(w.FromAddress)).
		Str("to", abbrev(w.ToAddress)).
		Msg("🚨 whale movement detected")

	if !m.cfg.AutoAnalyze {
		return
	}

	job := m.store.Create(w, &class, nil, "")
	if err := m.arch.LinkJob(w.Hash, job.ID); err != nil {
		log.Warn().Err(err).Str("job", job.ID).Msg("📉 job link failed")
	}
	m.runner.Dispatch(job.ID)
}

// alreadySeen records the hash and reports whether it was known. The set is
// bounded; oldest entries fall out first.
func (m *Monitor) alreadySeen(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[hash] {
		return true
	}
	m.seen[hash] = true
	m.seenOrder = append(m.seenOrder, hash)
	if len(m.seenOrder) > maxSeen {
		delete(m.seen, m.seenOrder[0])
		m.seenOrder = m.seenOrder[1:]
	}
	return false
}

// cachedPrice reuses the last quote for a few minutes so feed bursts do not
// hammer the price API.
func (m *Monitor) cachedPrice(ctx context.Context) float64 {
	m.priceMu.Lock()
	defer m.priceMu.Unlock()

	if m.lastPrice > 0 && time.Since(m.priceFetched) < priceMaxAge {
		return m.lastPrice
	}
	m.lastPrice = m.price.PriceOrFallback(ctx)
	m.priceFetched = time.Now()
	return m.lastPrice
}

func abbrev(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}
