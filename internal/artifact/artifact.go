// Package artifact loads the content a round reviews.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/converge/internal/identity"
	"github.com/steveyegge/converge/internal/types"
)

// Differ produces the branch diff for diff-by-branch gates.
type Differ interface {
	Diff(ctx context.Context, base string) (string, error)
}

// Provider reads artifact content for a resolved identity.
type Provider struct {
	Root     string // base directory for relative document paths
	Git      Differ
	DiffBase string
}

// NewProvider creates a provider rooted at root, diffing against base.
func NewProvider(root string, git Differ, base string) *Provider {
	return &Provider{Root: root, Git: git, DiffBase: base}
}

// Load returns the artifact text. Content is read once per round and
// treated as read-only for the rest of it.
func (p *Provider) Load(ctx context.Context, id identity.Identity) (string, error) {
	switch id.Kind {
	case types.ArtifactDocumentPath:
		path := id.ArtifactID
		if !filepath.IsAbs(path) && p.Root != "" {
			path = filepath.Join(p.Root, path)
		}
		// #nosec G304 -- path is the document the user asked to review
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read artifact %s: %w", id.ArtifactID, err)
		}
		return string(data), nil
	case types.ArtifactDiffByBranch:
		if p.Git == nil {
			return "", fmt.Errorf("no git repository for diff of %s", id.ArtifactID)
		}
		base := p.DiffBase
		if base == "" {
			base = "main"
		}
		diff, err := p.Git.Diff(ctx, base)
		if err != nil {
			return "", fmt.Errorf("diff %s against %s: %w", id.ArtifactID, base, err)
		}
		if strings.TrimSpace(diff) == "" {
			return "", fmt.Errorf("branch %s has no changes against %s", id.ArtifactID, base)
		}
		return diff, nil
	}
	return "", fmt.Errorf("unknown artifact kind %q", id.Kind)
}
