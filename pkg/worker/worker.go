package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whale-watch/pkg/ai"
	"github.com/whale-watch/pkg/config"
	"github.com/whale-watch/pkg/gateway"
	"github.com/whale-watch/pkg/jobs"
	"github.com/whale-watch/pkg/whale"
)

// Runner executes analysis jobs detached from the submitting request. The
// handler that created a job is gone long before the model answers; the job
// store is the only channel between them.
type Runner struct {
	cfg    *config.Config
	store  jobs.Store
	price  *gateway.PriceClient
	engine *ai.Engine
}

func New(cfg *config.Config, store jobs.Store, price *gateway.PriceClient, engine *ai.Engine) *Runner {
	return &Runner{cfg: cfg, store: store, price: price, engine: engine}
}

// Dispatch fires the analysis goroutine and returns immediately. Progress is
// observable only through the store. One goroutine per job, no pooling.
func (r *Runner) Dispatch(id string) {
	go r.run(id)
}

func (r *Runner) run(id string) {
	// A panicking analysis must still leave a terminal state behind.
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("job", id).Msg("🚨 analysis panicked")
			r.store.MarkFailed(id, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	job, ok := r.store.Get(id)
	if !ok {
		log.Warn().Str("job", id).Msg("⚠️ JOB_NOT_FOUND, job expired before analysis started")
		return
	}

	// Mark before the external call: a crash from here on shows up as a job
	// stuck in analyzing, never as one stuck in queued.
	r.store.MarkAnalyzing(id)

	// Detached context: the submitter's request ctx is long cancelled.
	priceCtx, cancelPrice := context.WithTimeout(context.Background(), 5*time.Second)
	priceUSD := r.price.PriceOrFallback(priceCtx)
	cancelPrice()

	w := job.Whale
	if w.AmountUSD == 0 {
		w.AmountUSD = w.Amount * priceUSD
		r.store.Update(id, func(j *jobs.Job) { j.Whale.AmountUSD = w.AmountUSD })
	}

	var cls whale.Classification
	if job.Classification != nil {
		cls = *job.Classification
	}
	var pats whale.TransactionPatterns
	if job.Patterns != nil {
		pats = *job.Patterns
	} else {
		pats.ExchangeFlow = "none"
	}

	tier := r.engine.SelectTier(w.Amount, job.ModelOverride)
	prompt := ai.BuildPrompt(w, cls, pats, priceUSD)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.AITimeout)
	defer cancel()

	start := time.Now()
	res, err := r.engine.Generate(ctx, prompt, tier)
	if err != nil {
		log.Error().Err(err).Str("job", id).Str("model", tier.Model).Msg("🚨 model call failed")
		r.store.MarkFailed(id, "MODEL_CALL_FAILED: "+err.Error())
		return
	}

	reasoning, payload := ai.SplitReasoning(res.Text)
	var validated json.RawMessage
	if err := json.Unmarshal([]byte(payload), &validated); err != nil {
		log.Error().Err(err).Str("job", id).Msg("🚨 model returned unparseable payload")
		r.store.MarkFailed(id, fmt.Sprintf("RESPONSE_PARSE_FAILED: %v", err))
		return
	}

	meta := &jobs.CallMeta{
		Model:          tier.Model,
		PromptTokens:   res.PromptTokens,
		ResponseTokens: res.ResponseTokens,
		DurationMs:     time.Since(start).Milliseconds(),
		FinishReason:   res.FinishReason,
	}
	r.store.MarkCompleted(id, validated, reasoning, meta)
	log.Info().Str("job", id).Str("model", tier.Model).Int64("ms", meta.DurationMs).Msg("🧠 analysis completed")
}
