package worker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whale-watch/pkg/ai"
	"github.com/whale-watch/pkg/config"
	"github.com/whale-watch/pkg/gateway"
	"github.com/whale-watch/pkg/jobs"
	"github.com/whale-watch/pkg/whale"
)

func workerConfig(aiURL, priceURL string) *config.Config {
	return &config.Config{
		AIAPIKey:         "test-key-" + strings.Repeat("x", 24),
		AIBaseURL:        aiURL,
		AIModel:          "gemini-2.5-flash",
		AIModelPro:       "gemini-2.5-pro",
		TierThresholdBTC: 500,
		FallbackPriceUSD: 60000,
		AITimeout:        2 * time.Second,
		PriceAPIURL:      priceURL,
	}
}

type fakeAI struct {
	mu      sync.Mutex
	prompts []string
	srv     *httptest.Server
}

// newFakeAI answers every generation request with the given body and records
// the prompts it was sent.
func newFakeAI(t *testing.T, status int, body string) *fakeAI {
	f := &fakeAI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if len(req.Contents) > 0 && len(req.Contents[0].Parts) > 0 {
			f.mu.Lock()
			f.prompts = append(f.prompts, req.Contents[0].Parts[0].Text)
			f.mu.Unlock()
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAI) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func deadServer(t *testing.T) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	return url
}

func newRunner(t *testing.T, cfg *config.Config) (*Runner, *jobs.MemoryStore) {
	store := jobs.NewMemoryStore(time.Hour)
	return New(cfg, store, gateway.NewPriceClient(cfg), ai.NewEngine(cfg)), store
}

const goodAIBody = `{
	"candidates":[{"content":{"parts":[{"text":"The deposit pattern points to near-term selling.\n{\"market_impact\":\"bearish\",\"impact_confidence\":0.8}"}]},"finishReason":"STOP"}],
	"usageMetadata":{"promptTokenCount":180,"candidatesTokenCount":64}
}`

func TestRunCompletesJob(t *testing.T) {
	aiSrv := newFakeAI(t, 200, goodAIBody)
	priceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"bitcoin":{"usd":45000}}`)
	}))
	t.Cleanup(priceSrv.Close)

	r, store := newRunner(t, workerConfig(aiSrv.srv.URL, priceSrv.URL))
	j := store.Create(whale.WhaleTransaction{Hash: "tx1", Amount: 150, IsWhale: true},
		&whale.Classification{Type: "exchange_deposit", Description: "potential sell pressure"},
		&whale.TransactionPatterns{ExchangeFlow: "deposit"}, "")

	r.run(j.ID)

	got, ok := store.Get(j.ID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"market_impact":"bearish","impact_confidence":0.8}`, string(got.Result))
	assert.Equal(t, "The deposit pattern points to near-term selling.", got.Reasoning)
	require.NotNil(t, got.Meta)
	assert.Equal(t, "gemini-2.5-flash", got.Meta.Model)
	assert.Equal(t, 180, got.Meta.PromptTokens)
	assert.Equal(t, 64, got.Meta.ResponseTokens)
	assert.Equal(t, "STOP", got.Meta.FinishReason)
	assert.GreaterOrEqual(t, got.Meta.DurationMs, int64(0))
	assert.NotNil(t, got.CompletedAt)

	assert.Equal(t, 6750000.0, got.Whale.AmountUSD, "USD recomputed from the live quote")
}

func TestDispatchIsFireAndForget(t *testing.T) {
	aiSrv := newFakeAI(t, 200, goodAIBody)
	r, store := newRunner(t, workerConfig(aiSrv.srv.URL, deadServer(t)))
	j := store.Create(whale.WhaleTransaction{Hash: "tx2", Amount: 700}, nil, nil, "")

	r.Dispatch(j.ID)

	require.Eventually(t, func() bool {
		got, _ := store.Get(j.ID)
		return got.Status == jobs.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunUsesProTierAboveThreshold(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, goodAIBody)
	}))
	t.Cleanup(srv.Close)

	r, store := newRunner(t, workerConfig(srv.URL, deadServer(t)))
	j := store.Create(whale.WhaleTransaction{Hash: "big", Amount: 900}, nil, nil, "")

	r.run(j.ID)

	assert.Equal(t, "/models/gemini-2.5-pro:generateContent", gotPath)
	got, _ := store.Get(j.ID)
	assert.Equal(t, "gemini-2.5-pro", got.Meta.Model)
}

func TestRunFallsBackToDefaultPrice(t *testing.T) {
	aiSrv := newFakeAI(t, 200, goodAIBody)
	r, store := newRunner(t, workerConfig(aiSrv.srv.URL, deadServer(t)))
	j := store.Create(whale.WhaleTransaction{Hash: "tx3", Amount: 200}, nil, nil, "")

	r.run(j.ID)

	assert.Contains(t, aiSrv.lastPrompt(), "at $60000.00/BTC", "prompt built with the fallback price")
	got, _ := store.Get(j.ID)
	assert.Equal(t, 12000000.0, got.Whale.AmountUSD)
}

func TestRunMarksModelCallFailed(t *testing.T) {
	aiSrv := newFakeAI(t, 500, `{"error":"exploded"}`)
	r, store := newRunner(t, workerConfig(aiSrv.srv.URL, deadServer(t)))
	j := store.Create(whale.WhaleTransaction{Hash: "tx4", Amount: 120}, nil, nil, "")

	r.run(j.ID)

	got, _ := store.Get(j.ID)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.Error, "MODEL_CALL_FAILED:"), got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunMarksParseFailed(t *testing.T) {
	aiSrv := newFakeAI(t, 200, `{"text":"I will not produce structured output today."}`)
	r, store := newRunner(t, workerConfig(aiSrv.srv.URL, deadServer(t)))
	j := store.Create(whale.WhaleTransaction{Hash: "tx5", Amount: 120}, nil, nil, "")

	r.run(j.ID)

	got, _ := store.Get(j.ID)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.Error, "RESPONSE_PARSE_FAILED:"), got.Error)
}

func TestRunMissingJobIsQuietNoOp(t *testing.T) {
	aiSrv := newFakeAI(t, 200, goodAIBody)
	r, store := newRunner(t, workerConfig(aiSrv.srv.URL, deadServer(t)))

	r.run("never-existed")

	assert.Empty(t, aiSrv.lastPrompt(), "no model call without a job")
	assert.Empty(t, store.Count())
}

func TestRunRecoversPanicIntoFailedState(t *testing.T) {
	store := jobs.NewMemoryStore(time.Hour)
	cfg := workerConfig("http://unused", deadServer(t))
	// nil engine forces a panic mid-run
	r := New(cfg, store, gateway.NewPriceClient(cfg), nil)
	j := store.Create(whale.WhaleTransaction{Hash: "tx6", Amount: 120}, nil, nil, "")

	require.NotPanics(t, func() { r.run(j.ID) })

	got, _ := store.Get(j.ID)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "internal error")
	assert.NotNil(t, got.CompletedAt)
}

func TestRunNeverSkipsAnalyzing(t *testing.T) {
	store := jobs.NewMemoryStore(time.Hour)
	idCh := make(chan string, 1)
	statusCh := make(chan jobs.Status, 1)

	// The fake provider checks the job's state at the moment the model call
	// arrives: it must already be analyzing.
	aiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := store.Get(<-idCh)
		statusCh <- got.Status
		fmt.Fprint(w, goodAIBody)
	}))
	t.Cleanup(aiSrv.Close)

	cfg := workerConfig(aiSrv.URL, deadServer(t))
	r := New(cfg, store, gateway.NewPriceClient(cfg), ai.NewEngine(cfg))
	j := store.Create(whale.WhaleTransaction{Hash: "tx7", Amount: 120}, nil, nil, "")
	idCh <- j.ID

	r.run(j.ID)

	assert.Equal(t, jobs.StatusAnalyzing, <-statusCh, "the analyzing mark precedes the external call")
	got, _ := store.Get(j.ID)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
}
