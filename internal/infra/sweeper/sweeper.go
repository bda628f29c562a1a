// Package sweeper runs the background finalization loop: every interval it
// asks the engine for tasks whose submission deadline has passed and
// finalizes them.
//
// Finalization is idempotent and anyone may trigger it, so the sweeper
// treats state-class failures (already finalized, raced by an API call) as
// done. Internal failures go onto a min-heap retry queue with exponential
// backoff; a task that exhausts its retries is left Open for the next
// operator to inspect, never force-failed.
package sweeper

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/log"
	"github.com/tally-network/tally/internal/infra/metrics"
)

// Finalizer is the slice of the engine the sweeper drives.
type Finalizer interface {
	DueTaskIDs(now time.Time) []string
	FinalizeTask(id string) (domain.Task, error)
}

// Config configures the sweep cadence and retry behavior.
type Config struct {
	Interval   time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns production sweeper defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Second,
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
	}
}

// retryEntry tracks one failed finalization awaiting its next attempt.
type retryEntry struct {
	taskID    string
	attempt   int
	nextRetry time.Time
}

// retryHeap orders entries by nextRetry, earliest first.
type retryHeap []retryEntry

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].nextRetry.Before(h[j].nextRetry) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x interface{}) { *h = append(*h, x.(retryEntry)) }
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// Sweeper is the background finalization worker.
type Sweeper struct {
	cfg    Config
	engine Finalizer

	mu        sync.Mutex
	retries   retryHeap
	runs      int64
	finalized int64
	exhausted int64

	// Injectable clock
	now func() time.Time
}

// New creates a sweeper over the given finalizer.
func New(engine Finalizer, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Sweeper{
		cfg:    cfg,
		engine: engine,
		now:    time.Now,
	}
}

// SetClock overrides the sweeper clock. Used by tests.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Sweeper.Info().Dur("interval", s.cfg.Interval).Msg("sweeper started")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Sweeper.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass: due tasks first, then any retries whose backoff has
// elapsed. Exported so tests and the CLI can drive passes directly.
func (s *Sweeper) Sweep() {
	now := s.now()
	metrics.SweeperRuns.Inc()
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	for _, id := range s.engine.DueTaskIDs(now) {
		s.finalize(id, 0)
	}
	for _, entry := range s.drainReady(now) {
		s.finalize(entry.taskID, entry.attempt)
	}
}

// finalize attempts one finalization and routes the outcome.
func (s *Sweeper) finalize(id string, attempt int) {
	t, err := s.engine.FinalizeTask(id)
	if err == nil {
		s.mu.Lock()
		s.finalized++
		s.mu.Unlock()
		log.Sweeper.Info().
			Str("task", id).
			Str("status", string(t.Status)).
			Msg("task finalized")
		return
	}

	switch domain.Classify(err) {
	case domain.ClassState, domain.ClassNotFound:
		// Raced by a direct API finalize or already terminal. Done.
		log.Sweeper.Debug().Str("task", id).Err(err).Msg("task already settled")
	default:
		s.scheduleRetry(id, attempt, err)
	}
}

// scheduleRetry re-queues a failed finalization with exponential backoff.
func (s *Sweeper) scheduleRetry(id string, attempt int, cause error) {
	attempt++
	if attempt > s.cfg.MaxRetries {
		s.mu.Lock()
		s.exhausted++
		s.mu.Unlock()
		log.Sweeper.Error().
			Str("task", id).
			Int("attempts", attempt).
			Err(cause).
			Msg("finalization retries exhausted, task left open")
		return
	}

	delay := s.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
			break
		}
	}

	s.mu.Lock()
	heap.Push(&s.retries, retryEntry{
		taskID:    id,
		attempt:   attempt,
		nextRetry: s.now().Add(delay),
	})
	s.mu.Unlock()

	log.Sweeper.Warn().
		Str("task", id).
		Int("attempt", attempt).
		Dur("backoff", delay).
		Err(cause).
		Msg("finalization failed, scheduled retry")
}

// drainReady pops every retry whose backoff has elapsed at now.
func (s *Sweeper) drainReady(now time.Time) []retryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []retryEntry
	for s.retries.Len() > 0 && !now.Before(s.retries[0].nextRetry) {
		ready = append(ready, heap.Pop(&s.retries).(retryEntry))
	}
	return ready
}

// Stats summarizes sweeper activity.
type Stats struct {
	Runs           int64 `json:"runs"`
	Finalized      int64 `json:"finalized"`
	PendingRetries int   `json:"pending_retries"`
	Exhausted      int64 `json:"exhausted"`
}

// Stats returns current sweeper counters.
func (s *Sweeper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Runs:           s.runs,
		Finalized:      s.finalized,
		PendingRetries: s.retries.Len(),
		Exhausted:      s.exhausted,
	}
}
