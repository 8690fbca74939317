package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whale-watch/pkg/whale"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CallMeta records what the model call actually did.
type CallMeta struct {
	Model          string `json:"model"`
	PromptTokens   int    `json:"prompt_tokens"`
	ResponseTokens int    `json:"response_tokens"`
	DurationMs     int64  `json:"duration_ms"`
	FinishReason   string `json:"finish_reason,omitempty"`
}

// Job tracks one whale analysis from submission to a terminal state.
type Job struct {
	ID             string                     `json:"id"`
	Status         Status                     `json:"status"`
	Whale          whale.WhaleTransaction     `json:"whale"`
	Classification *whale.Classification      `json:"classification,omitempty"`
	Patterns       *whale.TransactionPatterns `json:"patterns,omitempty"`
	ModelOverride  string                     `json:"model_override,omitempty"`
	Result         json.RawMessage            `json:"result,omitempty"`
	Reasoning      string                     `json:"reasoning,omitempty"`
	Meta           *CallMeta                  `json:"meta,omitempty"`
	Error          string                     `json:"error,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty"`
}

func (j *Job) terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Store is the worker's only channel back to its caller: the submitting
// handler returns long before analysis finishes, so results live here.
type Store interface {
	Create(w whale.WhaleTransaction, c *whale.Classification, p *whale.TransactionPatterns, modelOverride string) Job
	Get(id string) (Job, bool)
	Update(id string, fn func(*Job)) bool
	MarkAnalyzing(id string) bool
	MarkCompleted(id string, result json.RawMessage, reasoning string, meta *CallMeta) bool
	MarkFailed(id string, msg string) bool
	Count() map[Status]int
}

// MemoryStore keeps jobs in process memory. A restart loses history; the
// retention sweep bounds growth in the meantime.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &MemoryStore{
		jobs:      map[string]*Job{},
		retention: retention,
		now:       time.Now,
	}
}

// Create sweeps expired jobs first, then registers a new queued job and
// returns a snapshot of it.
func (s *MemoryStore) Create(w whale.WhaleTransaction, c *whale.Classification, p *whale.TransactionPatterns, modelOverride string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	j := &Job{
		ID:             newID(now),
		Status:         StatusQueued,
		Whale:          w,
		Classification: c,
		Patterns:       p,
		ModelOverride:  modelOverride,
		CreatedAt:      now,
	}
	s.jobs[j.ID] = j
	log.Debug().Str("job", j.ID).Float64("btc", w.Amount).Msg("📋 job queued")
	return *j
}

// Get returns a snapshot; mutations go through Update.
func (s *MemoryStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Update applies fn under the lock. Unknown ids are a no-op and report
// false, never a panic.
func (s *MemoryStore) Update(id string, fn func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	fn(j)
	return true
}

// MarkAnalyzing moves a queued job forward. Terminal jobs stay put.
func (s *MemoryStore) MarkAnalyzing(id string) bool {
	return s.Update(id, func(j *Job) {
		if j.Status == StatusQueued {
			j.Status = StatusAnalyzing
		}
	})
}

// MarkCompleted finishes an analyzing job with its result. Completion can
// only follow analyzing — the model call never ran otherwise.
func (s *MemoryStore) MarkCompleted(id string, result json.RawMessage, reasoning string, meta *CallMeta) bool {
	return s.Update(id, func(j *Job) {
		if j.Status != StatusAnalyzing {
			return
		}
		j.Status = StatusCompleted
		j.Result = result
		j.Reasoning = reasoning
		j.Meta = meta
		t := s.now()
		j.CompletedAt = &t
	})
}

// MarkFailed records a terminal failure. Allowed from queued too, so a
// worker dying before its analyzing mark still leaves a visible trace.
func (s *MemoryStore) MarkFailed(id string, msg string) bool {
	return s.Update(id, func(j *Job) {
		if j.terminal() {
			return
		}
		j.Status = StatusFailed
		j.Error = msg
		t := s.now()
		j.CompletedAt = &t
	})
}

// Count tallies jobs by status for the stats surface.
func (s *MemoryStore) Count() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[Status]int{}
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts
}

// sweepLocked drops every job created before the retention cutoff,
// whatever its state. Caller holds the write lock.
func (s *MemoryStore) sweepLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	swept := 0
	for id, j := range s.jobs {
		if j.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			swept++
		}
	}
	if swept > 0 {
		log.Debug().Int("swept", swept).Msg("📋 expired jobs removed")
	}
}

func newID(now time.Time) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(buf))
}
