package models

// Synthesis modes a prescription may select.
const (
	ModeFusion   = "fusion"
	ModePairwise = "pairwise"
)

// Prescription is an optional recipe attached to a generation trigger.
// It narrows how the run retrieves, fuses, and verifies; absent fields
// keep the pipeline defaults. Goal is the free-text intent behind the
// run. Mode selects the synthesis shape: "fusion" (the default) also
// attempts a constellation pass, "pairwise" stops at pairwise fusion.
type Prescription struct {
	Goal         string              `json:"goal,omitempty"`
	Mode         string              `json:"mode,omitempty"`
	Retrieval    RetrievalPlan       `json:"retrieval"`
	Verification VerificationPlan    `json:"verification"`
	Toggles      PrescriptionToggles `json:"toggles"`
	Budgets      PrescriptionBudgets `json:"budgets"`
}

// RetrievalPlan shapes candidate selection.
type RetrievalPlan struct {
	Strategy string `json:"strategy,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// VerificationPlan shapes the web-verification phase.
type VerificationPlan struct {
	Enabled    bool `json:"enabled"`
	MaxSites   int  `json:"max_sites,omitempty"`
	Iterations int  `json:"iterations,omitempty"`
}

// PrescriptionToggles gate whole capability classes for a run. Web must
// be on for verification to reach the network at all.
type PrescriptionToggles struct {
	LLM bool `json:"llm"`
	Web bool `json:"web"`
}

// PrescriptionBudgets are advisory spend ceilings for a run.
type PrescriptionBudgets struct {
	USD     float64 `json:"usd,omitempty"`
	Tokens  int     `json:"tokens,omitempty"`
	TimeSec int     `json:"time_sec,omitempty"`
}
