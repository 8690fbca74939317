package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100.0, cfg.WhaleThresholdBTC)
	assert.Equal(t, 500.0, cfg.TierThresholdBTC)
	assert.Equal(t, 60000.0, cfg.FallbackPriceUSD)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, time.Hour, cfg.JobRetention)
	assert.Equal(t, 90*time.Second, cfg.AITimeout)
	assert.Equal(t, "gemini-2.5-flash", cfg.AIModel)
	assert.Equal(t, "gemini-2.5-pro", cfg.AIModelPro)
}

func TestLoadMalformedNumericFallsBack(t *testing.T) {
	t.Setenv("WHALE_THRESHOLD_BTC", "not-a-number")
	t.Setenv("CACHE_TTL_SECONDS", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100.0, cfg.WhaleThresholdBTC)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WHALE_THRESHOLD_BTC", "250.5")
	t.Setenv("GATEWAY_MAX_RETRIES", "5")
	t.Setenv("MONITOR_AUTO_ANALYZE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250.5, cfg.WhaleThresholdBTC)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.True(t, cfg.AutoAnalyze)
}

func TestKnownEntitiesParse(t *testing.T) {
	t.Setenv("KNOWN_ENTITIES", "addr1:Kraken cold:exchange, addr2:MyService:service ,broken,addr3:NoCategory")

	cfg, err := Load()
	require.NoError(t, err)

	e, ok := cfg.Entities.Lookup("addr1")
	require.True(t, ok)
	assert.Equal(t, "Kraken cold", e.Name)
	assert.Equal(t, "exchange", e.Category)

	e, ok = cfg.Entities.Lookup("addr2")
	require.True(t, ok)
	assert.Equal(t, "service", e.Category)

	_, ok = cfg.Entities.Lookup("broken")
	assert.False(t, ok, "entries without a name should be skipped")

	e, ok = cfg.Entities.Lookup("addr3")
	require.True(t, ok)
	assert.Equal(t, "exchange", e.Category, "category defaults to exchange")
}

func TestBuiltinEntities(t *testing.T) {
	set := DefaultEntities()

	assert.True(t, set.IsExchange("34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo"))
	assert.False(t, set.IsExchange("bc1qs604c7jv6amk4cxqlnvuxv26hv3e48cds4m0ew"), "mixers are not exchanges")
	assert.False(t, set.IsExchange("1UnknownAddressXXXXXXXXXXXXXXXXXXX"))
}

func TestValidate(t *testing.T) {
	valid := strings.Repeat("k", 40)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing key", func(c *Config) { c.AIAPIKey = "" }, "AI_API_KEY is not set"},
		{"whitespace in key", func(c *Config) { c.AIAPIKey = "abc def" + valid }, "whitespace"},
		{"truncated key", func(c *Config) { c.AIAPIKey = "short" }, "truncated"},
		{"bad threshold", func(c *Config) { c.WhaleThresholdBTC = 0 }, "WHALE_THRESHOLD_BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			cfg.AIAPIKey = valid
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
