package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/synapse-notes/synapse/pkg/jobs"
	"github.com/synapse-notes/synapse/pkg/llm"
	"github.com/synapse-notes/synapse/pkg/models"
)

// Runner launches orchestrator runs in the background and converts their
// outcome into terminal job states.
type Runner struct {
	orchestrator *Orchestrator
	jobs         *jobs.Store
	usage        *llm.UsageRecorder
}

// NewRunner wires a Runner.
func NewRunner(orchestrator *Orchestrator, jobStore *jobs.Store, usage *llm.UsageRecorder) *Runner {
	return &Runner{orchestrator: orchestrator, jobs: jobStore, usage: usage}
}

// Launch starts a background run for jobID, shaped by rx when non-nil.
// The returned done channel closes when the run has reached a terminal
// state; callers that do not care may discard it.
func (r *Runner) Launch(ctx context.Context, jobID, sourceNoteID string, rx *models.Prescription) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run(ctx, jobID, sourceNoteID, rx)
	}()
	return done
}

func (r *Runner) run(ctx context.Context, jobID, sourceNoteID string, rx *models.Prescription) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Pipeline run panicked", "job_id", jobID, "panic", rec)
			// The recovered value's type name is the error code, so
			// distinct panic kinds stay distinguishable to clients.
			r.jobs.Fail(jobID, fmt.Sprintf("%T", rec), fmt.Sprintf("%v", rec))
		}
	}()

	r.jobs.MarkRunning(jobID)
	progress := NewReporter(r.jobs, jobID, r.usage)

	result, err := r.orchestrator.Run(ctx, jobID, sourceNoteID, rx, progress)
	switch {
	case err == nil:
		r.jobs.Complete(jobID, result)
		slog.Info("Job succeeded", "job_id", jobID, "insights", len(result.Insights))
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		// Cancel already transitioned the job; nothing to record.
		slog.Info("Job cancelled", "job_id", jobID)
	default:
		var perr *Error
		if errors.As(err, &perr) {
			r.jobs.Fail(jobID, perr.Code, perr.Message)
		} else {
			r.jobs.Fail(jobID, "InternalError", err.Error())
		}
		slog.Error("Job failed", "job_id", jobID, "error", err)
	}
}
