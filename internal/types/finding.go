package types

import "time"

// ExecutionMode selects how a perspective runs within a round.
type ExecutionMode string

const (
	ModeWorker ExecutionMode = "WORKER" // Dispatched to the parallel executor with a timeout
	ModeInline ExecutionMode = "INLINE" // Run synchronously in the calling goroutine
)

// IsValid checks if the execution mode is known
func (m ExecutionMode) IsValid() bool {
	return m == ModeWorker || m == ModeInline
}

// Finding is one issue reported by one perspective. Immutable once parsed.
type Finding struct {
	PerspectiveID string   `json:"perspective_id"`
	Severity      Severity `json:"severity"`
	Description   string   `json:"description"`
}

// RawOutput is the unparsed text a perspective produced for one round.
// Anything it claims about itself (totals, verdicts) is untrusted.
type RawOutput struct {
	PerspectiveID string        `json:"perspective_id"`
	Text          string        `json:"text"`
	Mode          ExecutionMode `json:"mode"`
	FellBack      bool          `json:"fell_back,omitempty"` // WORKER timed out and ran INLINE
	Err           string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Failed reports whether the perspective produced no usable output.
func (r RawOutput) Failed() bool {
	return r.Err != ""
}

// RoundResult is one perspective's parsed findings with counts derived from them.
type RoundResult struct {
	PerspectiveID string    `json:"perspective_id"`
	Findings      []Finding `json:"findings"`
	Critical      int       `json:"critical_count"`
	Important     int       `json:"important_count"`
	Suggestion    int       `json:"suggestion_count"`
	FellBack      bool      `json:"fell_back,omitempty"`
	Failed        bool      `json:"failed,omitempty"`
}

// NewRoundResult builds a RoundResult, counting severities from findings.
func NewRoundResult(perspectiveID string, findings []Finding) RoundResult {
	rr := RoundResult{PerspectiveID: perspectiveID, Findings: findings}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			rr.Critical++
		case SeverityImportant:
			rr.Important++
		case SeveritySuggestion:
			rr.Suggestion++
		}
	}
	return rr
}

// RoundSummary aggregates every RoundResult of one round.
type RoundSummary struct {
	Round           int           `json:"round"`
	TotalCritical   int           `json:"total_critical"`
	TotalImportant  int           `json:"total_important"`
	TotalSuggestion int           `json:"total_suggestion"`
	Findings        []Finding     `json:"findings"`
	Results         []RoundResult `json:"results"`
}

// Converged reports whether the round had zero CRITICAL and zero IMPORTANT findings.
func (s RoundSummary) Converged() bool {
	return s.TotalCritical == 0 && s.TotalImportant == 0
}

// Blocking returns the findings that prevent convergence.
func (s RoundSummary) Blocking() []Finding {
	var out []Finding
	for _, f := range s.Findings {
		if f.Severity.Blocking() {
			out = append(out, f)
		}
	}
	return out
}
