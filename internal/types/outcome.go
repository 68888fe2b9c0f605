package types

// OutcomeKind names what a review call or escalation produced.
type OutcomeKind string

// Outcome kinds
const (
	OutcomeConverged              OutcomeKind = "converged"
	OutcomeNotConverged           OutcomeKind = "not-converged"
	OutcomeStalled                OutcomeKind = "stalled"
	OutcomeAcceptedWithExceptions OutcomeKind = "accepted-with-exceptions"
	OutcomeAborted                OutcomeKind = "aborted"
	OutcomeLimitRaised            OutcomeKind = "limit-raised"
)

// Remaining holds the blocking tallies left when a loop stops short of convergence.
type Remaining struct {
	Critical   int `json:"critical"`
	Important  int `json:"important"`
	Suggestion int `json:"suggestion"`
}

// Outcome is the typed result handed back to the caller after a round or a resolution.
type Outcome struct {
	Kind       OutcomeKind    `json:"outcome"`
	Key        string         `json:"storage_key"`
	Gate       string         `json:"gate"`
	ArtifactID string         `json:"artifact_id"`
	Round      int            `json:"round"`
	MaxRounds  int            `json:"max_rounds"`
	Summary    *RoundSummary  `json:"summary,omitempty"`
	History    []HistoryEntry `json:"history"`
	Remaining  *Remaining     `json:"remaining,omitempty"`
}

// RequiresFix reports whether the caller must fix the artifact and review again.
func (o *Outcome) RequiresFix() bool {
	return o.Kind == OutcomeNotConverged
}

// NeedsEscalation reports whether a human must choose how to continue.
func (o *Outcome) NeedsEscalation() bool {
	return o.Kind == OutcomeStalled
}

// Halt reports whether the workflow must stop dispatching rounds for this key.
func (o *Outcome) Halt() bool {
	return o.Kind == OutcomeAborted
}

// Done reports whether the loop for this key has finished.
func (o *Outcome) Done() bool {
	switch o.Kind {
	case OutcomeConverged, OutcomeAcceptedWithExceptions, OutcomeAborted:
		return true
	}
	return false
}
