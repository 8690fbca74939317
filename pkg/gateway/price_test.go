package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whale-watch/pkg/config"
)

func priceConfig(url string) *config.Config {
	return &config.Config{PriceAPIURL: url, FallbackPriceUSD: 60000}
}

func TestPriceParsesQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		fmt.Fprint(w, `{"bitcoin":{"usd":45000}}`)
	}))
	defer srv.Close()

	p := NewPriceClient(priceConfig(srv.URL))
	usd, err := p.Price(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 45000.0, usd)
}

func TestPriceErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPriceClient(priceConfig(srv.URL))
	_, err := p.Price(context.Background())

	require.Error(t, err)
	assert.Equal(t, ServerError, CategoryOf(err))
}

func TestPriceErrorOnEmptyQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	p := NewPriceClient(priceConfig(srv.URL))
	_, err := p.Price(context.Background())
	assert.Error(t, err)
}

func TestPriceOrFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewPriceClient(priceConfig(srv.URL))
	assert.Equal(t, 60000.0, p.PriceOrFallback(context.Background()))
}
