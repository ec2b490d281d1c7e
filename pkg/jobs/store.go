// Package jobs tracks insight-generation jobs in memory: lifecycle state,
// progress heartbeats, cooperative cancellation, and TTL eviction.
package jobs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synapse-notes/synapse/pkg/models"
)

const (
	// DefaultTTL is how long a job record lives, counted from creation.
	DefaultTTL = 24 * time.Hour
	// DefaultEvictInterval is how often the evict loop sweeps.
	DefaultEvictInterval = 10 * time.Minute
)

// record is the store-internal job state. All access goes through the
// store mutex.
type record struct {
	id        string
	traceID   string
	state     models.JobState
	progress  models.JobProgress
	createdAt time.Time
	updatedAt time.Time
	metrics   models.JobMetrics
	partial   []models.Insight
	result    *models.JobResult
	jobErr    *models.JobError
	log       []string
	cancelCh  chan struct{}
}

// Store is an in-memory TTL job store. One mutex guards the map and every
// record; operations are short and never block under the lock.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*record
	ttl  time.Duration
	now  func() time.Time
}

// NewStore builds a Store with the given TTL (DefaultTTL when zero).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		jobs: make(map[string]*record),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Create mints a new QUEUED job and returns its view.
func (s *Store) Create() models.JobView {
	now := s.now()
	r := &record{
		id:        uuid.NewString(),
		traceID:   uuid.NewString(),
		state:     models.JobStateQueued,
		progress:  models.JobProgress{Phase: models.PhaseCandidateSelection, Pct: 0},
		createdAt: now,
		updatedAt: now,
		cancelCh:  make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[r.id] = r
	s.mu.Unlock()

	slog.Info("Created job", "job_id", r.id, "trace_id", r.traceID)
	return viewOf(r)
}

// Get returns a job's view.
func (s *Store) Get(id string) (models.JobView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return models.JobView{}, false
	}
	return viewOf(r), true
}

// MarkRunning moves a queued job to RUNNING.
func (s *Store) MarkRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok || r.state.Terminal() {
		return
	}
	r.state = models.JobStateRunning
	r.updatedAt = s.now()
}

// Heartbeat replaces progress, optionally replaces partial results, adds a
// metrics delta, and appends a log line. Ignored on terminal jobs.
func (s *Store) Heartbeat(id string, phase models.Phase, pct int, partial []models.Insight, delta *models.MetricsDelta, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok || r.state.Terminal() {
		return
	}
	r.progress = models.JobProgress{Phase: phase, Pct: pct}
	if partial != nil {
		r.partial = append([]models.Insight(nil), partial...)
	}
	if delta != nil {
		r.metrics.NotesConsidered += delta.NotesConsidered
		r.metrics.Clusters += delta.Clusters
		r.metrics.LLMCalls += delta.LLMCalls
		if delta.ElapsedMS > 0 {
			r.metrics.ElapsedMS = delta.ElapsedMS
		}
	}
	if message != "" {
		r.log = append(r.log, message)
	}
	r.updatedAt = s.now()
}

// Complete marks a job SUCCEEDED with its result. First terminal
// transition wins; later ones are ignored.
func (s *Store) Complete(id string, result *models.JobResult) {
	s.terminal(id, models.JobStateSucceeded, func(r *record) {
		r.result = result
		r.progress = models.JobProgress{Phase: models.PhaseFinalizing, Pct: 100}
	})
}

// Fail marks a job FAILED with an error code and message.
func (s *Store) Fail(id, code, message string) {
	s.terminal(id, models.JobStateFailed, func(r *record) {
		r.jobErr = &models.JobError{Code: code, Message: message}
	})
}

// Cancel marks a job CANCELLED and signals the runner. The returned view
// reflects the state after the call; ok is false for unknown jobs.
func (s *Store) Cancel(id string) (models.JobView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return models.JobView{}, false
	}
	if !r.state.Terminal() {
		r.state = models.JobStateCancelled
		r.updatedAt = s.now()
		close(r.cancelCh)
		slog.Info("Cancelled job", "job_id", id)
	}
	return viewOf(r), true
}

// IsCancelled reports whether the cancel signal fired. The runner polls
// this at phase boundaries.
func (s *Store) IsCancelled(id string) bool {
	s.mu.Lock()
	r, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// CancelChan exposes the cancel signal for select-based runners.
func (s *Store) CancelChan(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.jobs[id]; ok {
		return r.cancelCh
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// EvictExpired removes jobs older than the TTL and returns how many went.
func (s *Store) EvictExpired() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted int
	for id, r := range s.jobs {
		if r.createdAt.Before(cutoff) {
			delete(s.jobs, id)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Info("Evicted expired jobs", "count", evicted)
	}
	return evicted
}

// RunEvictLoop sweeps expired jobs until ctx is done.
func (s *Store) RunEvictLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultEvictInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictExpired()
		}
	}
}

func (s *Store) terminal(id string, state models.JobState, apply func(*record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok || r.state.Terminal() {
		return
	}
	r.state = state
	apply(r)
	r.updatedAt = s.now()
}

func viewOf(r *record) models.JobView {
	view := models.JobView{
		JobID:          r.id,
		Status:         r.state,
		Progress:       &models.JobProgress{Phase: r.progress.Phase, Pct: r.progress.Pct},
		StartedAt:      r.createdAt,
		UpdatedAt:      r.updatedAt,
		Metrics:        r.metrics,
		PartialResults: append([]models.Insight(nil), r.partial...),
		Result:         r.result,
		Error:          r.jobErr,
		TraceID:        r.traceID,
	}
	if len(r.log) > 0 {
		view.Log = strings.Join(r.log, "\n")
	}
	return view
}
