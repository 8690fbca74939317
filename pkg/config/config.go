package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Entity is a labeled on-chain actor (exchange hot/cold wallet, mixer, custody
// service). Classification treats the "exchange" category specially.
type Entity struct {
	Address  string
	Name     string
	Category string // "exchange" | "mixer" | "service"
}

// EntitySet indexes entities by address for O(1) lookup during classification.
type EntitySet map[string]Entity

func (s EntitySet) Lookup(addr string) (Entity, bool) {
	e, ok := s[addr]
	return e, ok
}

func (s EntitySet) IsExchange(addr string) bool {
	e, ok := s[addr]
	return ok && e.Category == "exchange"
}

type Config struct {
	// Upstream gateways
	ChainAPIURL string
	ChainWSURL  string // optional live feed; empty = poll mode
	PriceAPIURL string

	// Gateway retry
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Detection thresholds
	WhaleThresholdBTC float64
	TierThresholdBTC  float64
	FallbackPriceUSD  float64

	// Cache / job store
	CacheTTL     time.Duration
	JobRetention time.Duration

	// Background monitor
	ScanInterval time.Duration
	AutoAnalyze  bool

	// AI / LLM
	AIAPIKey    string
	AIBaseURL   string
	AIModel     string // standard tier
	AIModelPro  string // pro tier for the biggest movements
	AIMaxTokens int    // 0 = per-tier defaults
	AITimeout   time.Duration

	// Archive
	DBPath           string
	ArchiveRetention time.Duration

	// HTTP API
	APIPort int

	// Known entities: builtin table merged with KNOWN_ENTITIES overrides
	Entities EntitySet
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ChainAPIURL: envOr("CHAIN_API_URL", "https://blockchain.info"),
		ChainWSURL:  os.Getenv("CHAIN_WS_URL"),
		PriceAPIURL: envOr("PRICE_API_URL", "https://api.coingecko.com/api/v3"),

		MaxRetries:     envInt("GATEWAY_MAX_RETRIES", 3),
		RetryBaseDelay: time.Duration(envInt("GATEWAY_RETRY_BASE_MS", 2000)) * time.Millisecond,

		WhaleThresholdBTC: envFloat("WHALE_THRESHOLD_BTC", 100),
		TierThresholdBTC:  envFloat("TIER_THRESHOLD_BTC", 500),
		FallbackPriceUSD:  envFloat("FALLBACK_PRICE_USD", 60000),

		CacheTTL:     time.Duration(envInt("CACHE_TTL_SECONDS", 300)) * time.Second,
		JobRetention: time.Duration(envInt("JOB_RETENTION_SECONDS", 3600)) * time.Second,

		ScanInterval: time.Duration(envInt("SCAN_INTERVAL_SECONDS", 60)) * time.Second,
		AutoAnalyze:  envOr("MONITOR_AUTO_ANALYZE", "false") == "true",

		AIAPIKey:    os.Getenv("AI_API_KEY"),
		AIBaseURL:   envOr("AI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		AIModel:     envOr("AI_MODEL", "gemini-2.5-flash"),
		AIModelPro:  envOr("AI_MODEL_PRO", "gemini-2.5-pro"),
		AIMaxTokens: envInt("AI_MAX_TOKENS", 0),
		AITimeout:   time.Duration(envInt("AI_TIMEOUT_SECONDS", 90)) * time.Second,

		DBPath:           envOr("WHALE_DB_PATH", "whale_watch.db"),
		ArchiveRetention: time.Duration(envInt("ARCHIVE_RETENTION_DAYS", 30)) * 24 * time.Hour,

		APIPort: envInt("API_PORT", 8080),
	}

	cfg.Entities = DefaultEntities()

	// Parse operator overrides: "addr:name:category,addr:name:category"
	for _, raw := range splitTrim(os.Getenv("KNOWN_ENTITIES")) {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			log.Warn().Str("entry", raw).Msg("⚠️ skipping malformed KNOWN_ENTITIES entry, want addr:name:category")
			continue
		}
		e := Entity{Address: parts[0], Name: parts[1], Category: "exchange"}
		if len(parts) == 3 && parts[2] != "" {
			e.Category = parts[2]
		}
		cfg.Entities[e.Address] = e
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AIAPIKey == "" {
		return fmt.Errorf("AI_API_KEY is not set — create one in the provider console and add it to .env")
	}
	if strings.ContainsAny(c.AIAPIKey, " \t\r\n") {
		return fmt.Errorf("AI_API_KEY contains whitespace — check .env for stray quotes or line breaks")
	}
	if len(c.AIAPIKey) < 20 {
		return fmt.Errorf("AI_API_KEY looks truncated (%d chars), expected a full provider key", len(c.AIAPIKey))
	}
	if c.WhaleThresholdBTC <= 0 {
		return fmt.Errorf("WHALE_THRESHOLD_BTC must be positive, got %g", c.WhaleThresholdBTC)
	}
	if c.ChainAPIURL == "" {
		return fmt.Errorf("CHAIN_API_URL cannot be empty")
	}
	return nil
}

// --- Known entities ---
//
// Builtin table of publicly documented wallets. Operators extend or override
// it with KNOWN_ENTITIES; classification falls back to "unknown" for anything
// not listed here.

func DefaultEntities() EntitySet {
	set := EntitySet{}
	for _, e := range builtinEntities {
		set[e.Address] = e
	}
	return set
}

var builtinEntities = []Entity{
	{"34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo", "Binance cold wallet", "exchange"},
	{"3M219KR5vEneNb47ewrPfWyb5jQ2DjxRP6", "Binance cold wallet 2", "exchange"},
	{"1NDyJtNTjmwk5xPNhjgAMu4HDHigtobu1s", "Binance hot wallet", "exchange"},
	{"bc1qm34lsc65zpw79lxes69zkqmk6ee3ewf0j77s3h", "Binance hot wallet 2", "exchange"},
	{"bc1qgdjqv0av3q56jvd82tkdjpy7gdp9ut8tlqmgrpmv24sq90ecnvqqjwvw97", "Bitfinex cold storage", "exchange"},
	{"3D2oetdNuZUqQHPJmcMDDHYoqkyNVsFk9r", "Bitfinex hot wallet", "exchange"},
	{"3Cbq7aT1tY8kMxWLbitaG7yT6bPbKChq64", "Huobi cold wallet", "exchange"},
	{"3LQUu4v9z6KNch71j7kbj8GPeAGUo1FW6a", "OKX cold wallet", "exchange"},
	{"bc1qs604c7jv6amk4cxqlnvuxv26hv3e48cds4m0ew", "Wasabi coordinator", "mixer"},
}

// helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Int("default", fallback).
				Msg("⚠️ not an integer, using default")
			return fallback
		}
		return i
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Float64("default", fallback).
				Msg("⚠️ not a number, using default")
			return fallback
		}
		return f
	}
	return fallback
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
