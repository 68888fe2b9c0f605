// Package gate holds the catalog of review gates.
//
// A gate is a named, fixed bundle of independent review perspectives. Every
// round of a gate dispatches all of its perspectives, in catalog order, against
// the current state of one artifact.
//
// Gates come from two places: the builtins compiled into the binary
// (see builtin.go) and *.gate.toml / *.gate.yaml files found on the search
// path (see loader.go). A file-defined gate with a builtin's ID replaces it.
package gate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/steveyegge/converge/internal/types"
)

// ErrUnknownGate is returned when a gate ID is not in the catalog.
var ErrUnknownGate = errors.New("unknown gate")

// validID keeps gate IDs usable as the first part of a storage key.
var validID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Defaults applied when a gate does not set its own limits.
const (
	DefaultMaxRounds = 10
	DefaultTimeout   = 5 * time.Minute
)

// Perspective is one independent review lens within a gate.
type Perspective struct {
	ID      string              `json:"id"`
	Name    string              `json:"name,omitempty"`
	Payload string              `json:"payload"` // checklist/prompt handed to the executor, opaque to the engine
	Mode    types.ExecutionMode `json:"mode"`
}

// Title returns the display name, falling back to the ID.
func (p Perspective) Title() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Gate defines a named review type.
type Gate struct {
	ID           string             `json:"id"`
	Description  string             `json:"description"`
	ArtifactKind types.ArtifactKind `json:"artifact_kind"`
	Perspectives []Perspective      `json:"perspectives"`
	MaxRounds    int                `json:"max_rounds,omitempty"` // 0 means use the configured default
	Timeout      time.Duration      `json:"timeout,omitempty"`    // 0 means use the configured default
	Source       string             `json:"source,omitempty"`     // file the gate was loaded from; empty for builtins
}

// EffectiveMaxRounds returns the gate's round ceiling, or fallback when unset.
func (g *Gate) EffectiveMaxRounds(fallback int) int {
	if g.MaxRounds > 0 {
		return g.MaxRounds
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxRounds
}

// EffectiveTimeout returns the per-perspective WORKER timeout, or fallback when unset.
func (g *Gate) EffectiveTimeout(fallback time.Duration) time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// PerspectiveIDs returns perspective IDs in catalog order.
func (g *Gate) PerspectiveIDs() []string {
	ids := make([]string, len(g.Perspectives))
	for i, p := range g.Perspectives {
		ids[i] = p.ID
	}
	return ids
}

// Validate checks that a gate definition is usable.
func (g *Gate) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("gate id is required")
	}
	if !validID.MatchString(g.ID) || strings.Contains(g.ID, "--") || strings.Trim(g.ID, ".") == "" {
		return fmt.Errorf("gate id %q: use letters, digits, '.', '_' and single '-' only", g.ID)
	}
	if !g.ArtifactKind.IsValid() {
		return fmt.Errorf("gate %q: invalid artifact_kind %q (valid: document-path, diff-by-branch)", g.ID, g.ArtifactKind)
	}
	if len(g.Perspectives) == 0 {
		return fmt.Errorf("gate %q: at least one perspective is required", g.ID)
	}
	if g.MaxRounds < 0 {
		return fmt.Errorf("gate %q: max_rounds must be >= 1 (got %d)", g.ID, g.MaxRounds)
	}
	if g.Timeout < 0 {
		return fmt.Errorf("gate %q: timeout must be positive", g.ID)
	}
	seen := make(map[string]bool, len(g.Perspectives))
	for i, p := range g.Perspectives {
		if p.ID == "" {
			return fmt.Errorf("gate %q: perspective %d has no id", g.ID, i)
		}
		if seen[p.ID] {
			return fmt.Errorf("gate %q: duplicate perspective %q", g.ID, p.ID)
		}
		seen[p.ID] = true
		if !p.Mode.IsValid() {
			return fmt.Errorf("gate %q: perspective %q has invalid mode %q (valid: WORKER, INLINE)", g.ID, p.ID, p.Mode)
		}
	}
	return nil
}
