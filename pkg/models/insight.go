package models

// EvidenceRef points at the chunk a quote was taken from.
type EvidenceRef struct {
	NoteID  string `json:"noteId"`
	ChildID string `json:"childId"`
	Quote   string `json:"quote"`
}

// Hypothesis is one candidate explanation inside a generated insight.
type Hypothesis struct {
	Name              string   `json:"name"`
	Statement         string   `json:"statement"`
	PredictedEvidence []string `json:"predictedEvidence"`
	Disconfirmers     []string `json:"disconfirmers"`
	Prior             float64  `json:"prior"`
	Posterior         float64  `json:"posterior"`
}

// EurekaMarkers quantify subjective qualities of an insight, each in [0,1].
type EurekaMarkers struct {
	SuddennessProxy float64 `json:"suddennessProxy"`
	Fluency         float64 `json:"fluency"`
	Conviction      float64 `json:"conviction"`
	PositiveAffect  float64 `json:"positiveAffect"`
}

// GeneratedInsight is the structured object returned by the generateInsight
// and constellation LLM tasks. Mode "none" means the model found no
// non-obvious connection and the result is discarded.
type GeneratedInsight struct {
	Mode                   string        `json:"mode"`
	ReframedProblem        string        `json:"reframedProblem"`
	InsightCore            string        `json:"insightCore"`
	SelectedHypothesisName string        `json:"selectedHypothesisName"`
	Hypotheses             []Hypothesis  `json:"hypotheses"`
	EurekaMarkers          EurekaMarkers `json:"eurekaMarkers"`
	BayesianSurprise       float64       `json:"bayesianSurprise"`
	EvidenceRefs           []EvidenceRef `json:"evidenceRefs"`
	Test                   string        `json:"test"`
	Risks                  []string      `json:"risks"`

	// Filled in by the synthesis layer, not by the model.
	CandidateNoteID string   `json:"candidateNoteId,omitempty"`
	SourceNoteIDs   []string `json:"sourceNoteIds,omitempty"`
	Score           float64  `json:"score"`
}

// VerificationCandidate is one claim submitted for verification.
type VerificationCandidate struct {
	Kind string `json:"kind"` // insightCore | hypothesis
	Text string `json:"text"`
}

// Verification is the web-grounded verdict attached to a finalized insight.
type Verification struct {
	Candidate VerificationCandidate `json:"candidate"`
	Verdict   string                `json:"verdict"` // supported | uncertain | refuted
	Notes     string                `json:"notes"`
	Citations []Citation            `json:"citations"`
}

// Citation is one supporting web result.
type Citation struct {
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Insight is the finalized artifact returned in a job result.
type Insight struct {
	InsightID         string        `json:"insight_id"`
	Title             string        `json:"title"`
	Score             float64       `json:"score"`
	Snippet           string        `json:"snippet,omitempty"`
	EvidenceRefs      []EvidenceRef `json:"evidenceRefs,omitempty"`
	AgenticTranscript string        `json:"agenticTranscript,omitempty"`
	Verification      *Verification `json:"verification,omitempty"`
	SourceNoteIDs     []string      `json:"sourceNoteIds,omitempty"`
}
