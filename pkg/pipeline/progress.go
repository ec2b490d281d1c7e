package pipeline

import (
	"time"

	"github.com/synapse-notes/synapse/pkg/jobs"
	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
)

// Reporter heartbeats one job. Every heartbeat carries wall-clock elapsed
// time and the LLM calls made since the previous heartbeat.
type Reporter struct {
	store     *jobs.Store
	jobID     string
	usage     *llm.UsageRecorder
	startedAt time.Time
	lastCalls int
}

// NewReporter starts the clock for a job.
func NewReporter(store *jobs.Store, jobID string, usage *llm.UsageRecorder) *Reporter {
	r := &Reporter{
		store:     store,
		jobID:     jobID,
		usage:     usage,
		startedAt: time.Now(),
	}
	if usage != nil {
		r.lastCalls = usage.Calls()
	}
	return r
}

// Update replaces the job's progress and folds in elapsed time and the
// LLM-call delta. partial and delta may be nil.
func (r *Reporter) Update(phase models.Phase, pct int, partial []models.Insight, delta *models.MetricsDelta, message string) {
	if delta == nil {
		delta = &models.MetricsDelta{}
	}
	delta.ElapsedMS = time.Since(r.startedAt).Milliseconds()
	if r.usage != nil {
		calls := r.usage.Calls()
		delta.LLMCalls += calls - r.lastCalls
		r.lastCalls = calls
	}
	r.store.Heartbeat(r.jobID, phase, pct, partial, delta, message)
}
