// Package verifier checks insight claims against the web through SerpAPI.
// Without an API key it degrades to a no-op so the pipeline stays usable
// offline.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/synapse-notes/synapse/pkg/models"
)

// DefaultMaxSites caps results inspected per candidate.
const DefaultMaxSites = 3

const searchTimeout = 60 * time.Second

// Candidate is one claim to verify.
type Candidate struct {
	Kind string `json:"kind"` // "insightCore" or "hypothesis"
	Text string `json:"text"`
}

// SearchResult is one normalized web hit.
type SearchResult struct {
	Title   string
	Snippet string
	URL     string
}

// WebSearcher performs a web search. Satisfied by the SerpAPI client and
// by test doubles.
type WebSearcher interface {
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}

// SerpAPIClient queries serpapi.com's Google engine.
type SerpAPIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewSerpAPIClient builds a client; baseURL empty means the public API.
func NewSerpAPIClient(apiKey, baseURL string) *SerpAPIClient {
	if baseURL == "" {
		baseURL = "https://serpapi.com"
	}
	return &SerpAPIClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: searchTimeout},
	}
}

type serpResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"organic_results"`
}

// Search runs one query and returns up to k organic results with links.
func (c *SerpAPIClient) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	params := url.Values{
		"engine":        {"google"},
		"q":             {query},
		"num":           {strconv.Itoa(k)},
		"api_key":       {c.apiKey},
		"google_domain": {"google.com"},
		"gl":            {"us"},
		"hl":            {"en"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi status %d", resp.StatusCode)
	}

	var parsed serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding serpapi response: %w", err)
	}
	results := make([]SearchResult, 0, k)
	for _, r := range parsed.OrganicResults {
		if r.Link == "" {
			continue
		}
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		results = append(results, SearchResult{Title: title, Snippet: r.Snippet, URL: r.Link})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Verifier scores candidate claims by snippet containment.
type Verifier struct {
	searcher WebSearcher
	maxSites int
}

// New builds a Verifier. A nil searcher disables verification.
func New(searcher WebSearcher, maxSites int) *Verifier {
	if maxSites <= 0 {
		maxSites = DefaultMaxSites
	}
	return &Verifier{searcher: searcher, maxSites: maxSites}
}

// FromEnv builds a Verifier backed by SerpAPI when apiKey is set, a
// disabled one otherwise.
func FromEnv(apiKey string) *Verifier {
	if apiKey == "" {
		slog.Info("SERPAPI_API_KEY not set, verification disabled")
		return New(nil, DefaultMaxSites)
	}
	return New(NewSerpAPIClient(apiKey, ""), DefaultMaxSites)
}

// Enabled reports whether verification will do anything.
func (v *Verifier) Enabled() bool { return v.searcher != nil }

// Verify checks each candidate with the query `{query} "{text}"` and
// derives a verdict from snippet containment: supported when any snippet
// quotes the text, uncertain when results exist without a quote, refuted
// when the search comes back empty. Disabled or failing search yields no
// verification for that candidate.
func (v *Verifier) Verify(ctx context.Context, query string, candidates []Candidate) []models.Verification {
	if v.searcher == nil || len(candidates) == 0 {
		return nil
	}

	verifications := make([]models.Verification, 0, len(candidates))
	for _, cand := range candidates {
		results, err := v.searcher.Search(ctx, fmt.Sprintf("%s %q", query, cand.Text), v.maxSites)
		if err != nil {
			slog.Warn("Web search failed, skipping candidate",
				"kind", cand.Kind, "error", err)
			continue
		}

		var score int
		citations := make([]models.Citation, 0, len(results))
		needle := strings.ToLower(cand.Text)
		for _, r := range results {
			citations = append(citations, models.Citation{URL: r.URL, Snippet: r.Snippet})
			if strings.Contains(strings.ToLower(r.Snippet), needle) {
				score++
			}
		}

		verdict := "refuted"
		switch {
		case score >= 1:
			verdict = "supported"
		case len(results) > 0:
			verdict = "uncertain"
		}
		if len(citations) > v.maxSites {
			citations = citations[:v.maxSites]
		}
		verifications = append(verifications, models.Verification{
			Candidate: models.VerificationCandidate{Kind: cand.Kind, Text: cand.Text},
			Verdict:   verdict,
			Notes:     fmt.Sprintf("score=%d", score),
			Citations: citations,
		})
	}
	return verifications
}
