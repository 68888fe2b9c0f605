// Package identity computes the stable artifact identity and storage key
// that tie rounds of the same review together across invocations.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/steveyegge/converge/internal/types"
)

// ErrArtifactUnresolvable is returned when the context needed to identify the
// artifact is missing, e.g. no path given or no branch checked out.
var ErrArtifactUnresolvable = errors.New("artifact unresolvable")

// KeySeparator joins the gate ID and the sanitized artifact ID.
const KeySeparator = "--"

// BranchSource reports the currently checked-out branch.
type BranchSource interface {
	CurrentBranch(ctx context.Context) (string, error)
}

// Locator is the caller-supplied context used to find the artifact.
type Locator struct {
	Path   string // document-path gates: the document, used verbatim
	Branch string // diff-by-branch gates: explicit branch; empty means ask Branches
}

// Identity is a resolved artifact.
type Identity struct {
	Gate       string             `json:"gate"`
	Kind       types.ArtifactKind `json:"artifact_kind"`
	ArtifactID string             `json:"artifact_id"`
	Key        string             `json:"storage_key"`
}

// Resolver turns a gate and a Locator into an Identity.
type Resolver struct {
	Branches BranchSource
}

// NewResolver creates a resolver that reads the current branch from src.
func NewResolver(src BranchSource) *Resolver {
	return &Resolver{Branches: src}
}

// Resolve computes the artifact ID and storage key.
func (r *Resolver) Resolve(ctx context.Context, gateID string, kind types.ArtifactKind, loc Locator) (Identity, error) {
	var id string
	switch kind {
	case types.ArtifactDocumentPath:
		if strings.TrimSpace(loc.Path) == "" {
			return Identity{}, fmt.Errorf("%w: gate %q needs a document path", ErrArtifactUnresolvable, gateID)
		}
		id = loc.Path
	case types.ArtifactDiffByBranch:
		id = loc.Branch
		if id == "" {
			if r.Branches == nil {
				return Identity{}, fmt.Errorf("%w: gate %q needs a branch", ErrArtifactUnresolvable, gateID)
			}
			branch, err := r.Branches.CurrentBranch(ctx)
			if err != nil {
				return Identity{}, fmt.Errorf("%w: no checked-out branch: %v", ErrArtifactUnresolvable, err)
			}
			id = branch
		}
	default:
		return Identity{}, fmt.Errorf("%w: unknown artifact kind %q", ErrArtifactUnresolvable, kind)
	}
	return Identity{
		Gate:       gateID,
		Kind:       kind,
		ArtifactID: id,
		Key:        StorageKey(gateID, id),
	}, nil
}

// StorageKey returns gateID + "--" + Sanitize(artifactID).
func StorageKey(gateID, artifactID string) string {
	return gateID + KeySeparator + Sanitize(artifactID)
}

// Sanitize maps an artifact ID onto a string safe to use as a file name.
// Path separators become "__", ':' becomes '_', whitespace becomes '-', and
// any other byte outside [A-Za-z0-9._-] is percent-encoded. Only used for
// addressing; identity decisions compare the raw artifact ID.
func Sanitize(artifactID string) string {
	var b strings.Builder
	b.Grow(len(artifactID))
	for i := 0; i < len(artifactID); i++ {
		c := artifactID[i]
		switch {
		case c == '/' || c == '\\':
			b.WriteString("__")
		case c == ':':
			b.WriteByte('_')
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			b.WriteByte('-')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	s := b.String()
	// Keep keys from naming the directory itself or its parent.
	if s == "." || s == ".." {
		s = strings.ReplaceAll(s, ".", "%2E")
	}
	return s
}
