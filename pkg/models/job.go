package models

import "time"

// JobState is the lifecycle state of an insight-generation job.
type JobState string

const (
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// Phase is a pipeline phase label. Order matters: progress traces must be
// non-decreasing in phase index.
type Phase string

const (
	PhaseCandidateSelection Phase = "candidate_selection"
	PhaseInitialSynthesis   Phase = "initial_synthesis"
	PhaseMultiHop           Phase = "multi_hop"
	PhaseAgentRefinement    Phase = "agent_refinement"
	PhaseFinalizing         Phase = "finalizing"
)

// PhaseIndex returns the position of p in the pipeline's phase sequence,
// or -1 for an unknown phase.
func PhaseIndex(p Phase) int {
	order := []Phase{
		PhaseCandidateSelection,
		PhaseInitialSynthesis,
		PhaseMultiHop,
		PhaseAgentRefinement,
		PhaseFinalizing,
	}
	for i, q := range order {
		if p == q {
			return i
		}
	}
	return -1
}

// JobProgress is the current phase and completion percentage of a job.
type JobProgress struct {
	Phase Phase `json:"phase"`
	Pct   int   `json:"pct"`
}

// JobMetrics accumulates counters over the lifetime of a job.
type JobMetrics struct {
	NotesConsidered int   `json:"notes_considered"`
	Clusters        int   `json:"clusters"`
	LLMCalls        int   `json:"llm_calls"`
	ElapsedMS       int64 `json:"elapsed_ms"`
}

// MetricsDelta is a partial, additive update to JobMetrics.
type MetricsDelta struct {
	NotesConsidered int
	Clusters        int
	LLMCalls        int
	ElapsedMS       int64
}

// JobError is the terminal error payload of a failed job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JobResult is the final payload of a succeeded job.
type JobResult struct {
	Version  string    `json:"version"`
	Insights []Insight `json:"insights"`
}

// JobView is the client-visible snapshot of a job.
type JobView struct {
	JobID          string       `json:"job_id"`
	Status         JobState     `json:"status"`
	Progress       *JobProgress `json:"progress,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Metrics        JobMetrics   `json:"metrics"`
	PartialResults []Insight    `json:"partial_results"`
	Result         *JobResult   `json:"result,omitempty"`
	Error          *JobError    `json:"error,omitempty"`
	TraceID        string       `json:"trace_id"`
	Log            string       `json:"log,omitempty"`
}
