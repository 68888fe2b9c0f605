// Package types defines core data structures for the converge review engine.
package types

import (
	"fmt"
	"time"
)

// ArtifactKind says how a gate's artifact is located and identified.
type ArtifactKind string

const (
	ArtifactDocumentPath ArtifactKind = "document-path"  // artifact_id is the caller's path, verbatim
	ArtifactDiffByBranch ArtifactKind = "diff-by-branch" // artifact_id is the current branch name
)

// IsValid checks if the artifact kind is known
func (k ArtifactKind) IsValid() bool {
	return k == ArtifactDocumentPath || k == ArtifactDiffByBranch
}

// RecordStatus is the lifecycle state of a Record.
type RecordStatus string

// Record status constants
const (
	StatusNew           RecordStatus = "NEW"
	StatusAwaitingRerun RecordStatus = "AWAITING_RERUN"
	StatusConverged     RecordStatus = "CONVERGED"
	StatusStalled       RecordStatus = "STALLED"
	StatusAborted       RecordStatus = "ABORTED"
)

// IsValid checks if the status value is valid
func (s RecordStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusAwaitingRerun, StatusConverged, StatusStalled, StatusAborted:
		return true
	}
	return false
}

// IsTerminal reports whether a review in this status is finished. Converged
// records are removed from the store; aborted ones stay until reset.
func (s RecordStatus) IsTerminal() bool {
	return s == StatusConverged || s == StatusAborted
}

// EntryStatus is the status written on a HistoryEntry.
type EntryStatus string

// History entry status constants
const (
	EntryPendingFix EntryStatus = "pending-fix"
	EntryFixed      EntryStatus = "fixed" // display-only: a pending-fix round that was followed by another round
	EntryConverged  EntryStatus = "converged"
	EntryStalled    EntryStatus = "stalled"
)

// PerspectiveCount is one perspective's tally for one round.
type PerspectiveCount struct {
	PerspectiveID string `json:"perspective_id"`
	Critical      int    `json:"critical"`
	Important     int    `json:"important"`
	Suggestion    int    `json:"suggestion"`
	FellBack      bool   `json:"fell_back,omitempty"`
	Failed        bool   `json:"failed,omitempty"`
}

// HistoryEntry records the outcome of one dispatched round. Append-only.
type HistoryEntry struct {
	Round        int                `json:"round"`
	Critical     int                `json:"critical"`
	Important    int                `json:"important"`
	Suggestion   int                `json:"suggestion"`
	Status       EntryStatus        `json:"status"`
	Perspectives []PerspectiveCount `json:"perspectives,omitempty"`
	Findings     []Finding          `json:"findings,omitempty"`
	At           time.Time          `json:"at"`
}

// Record is the persistent review state for one (gate, artifact_id) pair.
type Record struct {
	Gate       string         `json:"gate"`
	ArtifactID string         `json:"artifact_id"`
	Round      int            `json:"round"`
	MaxRounds  int            `json:"max_rounds"`
	History    []HistoryEntry `json:"history"`
	Status     RecordStatus   `json:"status"`
	UpdatedAt  time.Time      `json:"updated_at"`

	// Resolution is set on archived records that ended by human choice
	// (accepted-with-exceptions or aborted).
	Resolution OutcomeKind `json:"resolution,omitempty"`
}

// NewRecord returns a fresh record at round 1 with no history.
func NewRecord(gate, artifactID string, maxRounds int, now time.Time) *Record {
	return &Record{
		Gate:       gate,
		ArtifactID: artifactID,
		Round:      1,
		MaxRounds:  maxRounds,
		History:    []HistoryEntry{},
		Status:     StatusNew,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.History = make([]HistoryEntry, len(r.History))
	for i, h := range r.History {
		h.Perspectives = append([]PerspectiveCount(nil), h.Perspectives...)
		h.Findings = append([]Finding(nil), h.Findings...)
		c.History[i] = h
	}
	return &c
}

// Last returns the most recent history entry, or nil if none.
func (r *Record) Last() *HistoryEntry {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// Validate checks the structural invariants of a persisted record.
func (r *Record) Validate() error {
	if r.Gate == "" {
		return fmt.Errorf("gate is required")
	}
	if r.ArtifactID == "" {
		return fmt.Errorf("artifact_id is required")
	}
	if r.Round < 1 {
		return fmt.Errorf("round must be >= 1 (got %d)", r.Round)
	}
	if r.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be >= 1 (got %d)", r.MaxRounds)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", r.Status)
	}
	want := r.Round
	if r.Status == StatusNew {
		want = 0
	}
	if len(r.History) != want {
		return fmt.Errorf("history has %d entries, want %d for round %d (%s)", len(r.History), want, r.Round, r.Status)
	}
	for i, h := range r.History {
		if h.Round != i+1 {
			return fmt.Errorf("history entry %d has round %d", i, h.Round)
		}
	}
	return nil
}
