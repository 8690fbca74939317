package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whale-watch/pkg/config"
)

// priceTimeout is deliberately tight: price lookups sit on handler and worker
// hot paths, so there is no room for backoff — callers fall back instead.
const priceTimeout = 5 * time.Second

// PriceClient quotes the BTC/USD spot price from the market-data provider.
type PriceClient struct {
	cfg    *config.Config
	client *http.Client
}

func NewPriceClient(cfg *config.Config) *PriceClient {
	return &PriceClient{cfg: cfg, client: &http.Client{Timeout: priceTimeout}}
}

// Price fetches the spot quote. Single attempt within the 5s budget.
func (p *PriceClient) Price(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	url := p.cfg.PriceAPIURL + "/simple/price?ids=bitcoin&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, &Error{Category: Unknown, Op: "price", Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, classifyErr("price", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return 0, classifyStatus("price", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var quote map[string]map[string]float64
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&quote); err != nil {
		return 0, &Error{Category: Unknown, Op: "price", Err: err}
	}
	usd := quote["bitcoin"]["usd"]
	if usd <= 0 {
		return 0, &Error{Category: Unknown, Op: "price", Err: fmt.Errorf("no usd quote in response")}
	}
	return usd, nil
}

// PriceOrFallback never fails: any error logs a warning and yields the
// configured fallback constant.
func (p *PriceClient) PriceOrFallback(ctx context.Context) float64 {
	usd, err := p.Price(ctx)
	if err != nil {
		log.Warn().Err(err).Float64("fallback", p.cfg.FallbackPriceUSD).Msg("📉 price unavailable, using fallback")
		return p.cfg.FallbackPriceUSD
	}
	return usd
}
