package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/rs/zerolog/log"

	"github.com/whale-watch/pkg/config"
)

// Per-operation budgets. Address and transaction lookups get 10s, full-block
// fetches 15s.
const (
	addrTimeout  = 10 * time.Second
	blockTimeout = 15 * time.Second
)

const (
	recentFetchLimit = 50                  // upstream page size for rawaddr
	recentKeep       = 10                  // entries kept on the profile
	volumeWindow     = 30 * 24 * time.Hour // trailing window for Volume30d
)

// ChainClient reads the public ledger API. List fetches degrade to empty
// results after retries; profile fetches surface the classified error so the
// cache can decide what to store.
type ChainClient struct {
	cfg    *config.Config
	client *http.Client
	policy Policy
}

func NewChainClient(cfg *config.Config) *ChainClient {
	return &ChainClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		policy: Policy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			OnRetry: func(attempt int, wait time.Duration, err error) {
				log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("🌐 upstream retry")
			},
		},
	}
}

// UnconfirmedTransactions returns the current mempool page, or an empty list
// when the upstream stays down.
func (c *ChainClient) UnconfirmedTransactions(ctx context.Context) []Transaction {
	var page struct {
		Txs []wireTx `json:"txs"`
	}
	url := c.cfg.ChainAPIURL + "/unconfirmed-transactions?format=json"
	if err := c.getJSON(ctx, "unconfirmed", addrTimeout, url, &page); err != nil {
		log.Warn().Err(err).Msg("🌐 unconfirmed fetch failed, returning empty")
		return nil
	}
	txs := make([]Transaction, 0, len(page.Txs))
	for _, w := range page.Txs {
		txs = append(txs, w.toTransaction())
	}
	return txs
}

// LatestBlock returns the chain tip header, or nil when unavailable.
func (c *ChainClient) LatestBlock(ctx context.Context) *BlockHeader {
	var raw struct {
		Hash   string `json:"hash"`
		Height int64  `json:"height"`
		Time   int64  `json:"time"`
	}
	if err := c.getJSON(ctx, "latestblock", blockTimeout, c.cfg.ChainAPIURL+"/latestblock", &raw); err != nil {
		log.Warn().Err(err).Msg("🌐 latest block unavailable")
		return nil
	}
	return &BlockHeader{Hash: raw.Hash, Height: raw.Height, Time: time.Unix(raw.Time, 0).UTC()}
}

// BlockTransactions returns every transaction in a block, or an empty list
// when the upstream stays down.
func (c *ChainClient) BlockTransactions(ctx context.Context, blockHash string) []Transaction {
	var raw struct {
		Tx []wireTx `json:"tx"`
	}
	url := fmt.Sprintf("%s/rawblock/%s", c.cfg.ChainAPIURL, blockHash)
	if err := c.getJSON(ctx, "rawblock", blockTimeout, url, &raw); err != nil {
		log.Warn().Err(err).Str("block", abbrev(blockHash)).Msg("🌐 block fetch failed, returning empty")
		return nil
	}
	txs := make([]Transaction, 0, len(raw.Tx))
	for _, w := range raw.Tx {
		txs = append(txs, w.toTransaction())
	}
	return txs
}

// AddressProfile fetches and summarizes an address's history. Unlike the
// list fetches it returns the classified error after retry exhaustion; the
// caller owns the degrade decision.
func (c *ChainClient) AddressProfile(ctx context.Context, address string) (AddressProfile, error) {
	var raw wireAddr
	url := fmt.Sprintf("%s/rawaddr/%s?limit=%d", c.cfg.ChainAPIURL, address, recentFetchLimit)
	if err := c.getJSON(ctx, "rawaddr", addrTimeout, url, &raw); err != nil {
		return AddressProfile{}, err
	}
	return c.buildProfile(address, raw), nil
}

func (c *ChainClient) buildProfile(address string, raw wireAddr) AddressProfile {
	p := AddressProfile{
		Address:       address,
		TotalReceived: btcutil.Amount(raw.TotalReceived),
		TotalSent:     btcutil.Amount(raw.TotalSent),
		Balance:       btcutil.Amount(raw.FinalBalance),
		TxCount:       raw.NTx,
		FetchedAt:     time.Now().UTC(),
	}

	txs := make([]RecentTx, 0, len(raw.Txs))
	for _, w := range raw.Txs {
		t := w.toTransaction()
		txs = append(txs, RecentTx{Hash: t.Hash, AmountBTC: t.OutputTotal().ToBTC(), Time: t.Time})
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].Time.After(txs[j].Time) })

	cutoff := time.Now().UTC().Add(-volumeWindow)
	for _, t := range txs {
		if t.Time.After(cutoff) {
			p.Volume30d += t.AmountBTC
		}
	}

	if len(txs) > recentKeep {
		txs = txs[:recentKeep]
	}
	p.RecentTransactions = txs

	if e, ok := c.cfg.Entities.Lookup(address); ok {
		p.KnownEntity = &e
	}
	return p
}

// getJSON performs one retried GET with a per-attempt budget and decodes the
// body into out.
func (c *ChainClient) getJSON(ctx context.Context, op string, budget time.Duration, url string, out interface{}) error {
	return do(ctx, c.policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, "GET", url, nil)
		if err != nil {
			return &Error{Category: Unknown, Op: op, Err: err}
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return classifyErr(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != 200 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
			return classifyStatus(op, resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB max
		if err != nil {
			return classifyErr(op, err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return &Error{Category: Unknown, Op: op, Err: err}
		}
		return nil
	})
}

func abbrev(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
