package converge_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steveyegge/converge"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	store, err := converge.Open(ctx, filepath.Join(t.TempDir(), ".converge"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty store, got %d entries", len(entries))
	}
}

func TestNewEngineRequiresExecutor(t *testing.T) {
	_, _, err := converge.NewEngine(context.Background(), converge.Options{ProjectDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error without an executor")
	}
}

func TestEngineReviewsDocumentToConvergence(t *testing.T) {
	ctx := context.Background()
	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "plan.md"), []byte("# Plan\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	fixed := false
	exec := converge.ExecutorFunc(func(ctx context.Context, task converge.Task) (string, error) {
		if !strings.Contains(task.Artifact, "# Plan") {
			t.Errorf("perspective %s saw %q", task.Perspective.ID, task.Artifact)
		}
		if task.Perspective.ID == "sequencing" && !fixed {
			return "1. [CRITICAL] migration runs after the code that needs it", nil
		}
		return "No findings.", nil
	})

	e, store, err := converge.NewEngine(ctx, converge.Options{
		ProjectDir: filepath.Join(repo, ".converge"),
		RepoDir:    repo,
		Executor:   exec,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer store.Close()

	req := converge.ReviewRequest{Gate: "plan", Locator: converge.Locator{Path: "plan.md"}}
	out, err := e.Review(ctx, req)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if out.Kind != converge.OutcomeNotConverged {
		t.Fatalf("round 1: expected not-converged, got %s", out.Kind)
	}

	if _, err := e.Status(ctx, "plan", req.Locator); !errors.Is(err, converge.ErrReentryViolation) {
		t.Errorf("status between rounds: expected ErrReentryViolation, got %v", err)
	}

	fixed = true
	out, err = e.Review(ctx, req)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}
	if out.Kind != converge.OutcomeConverged || out.Round != 2 {
		t.Errorf("round 2: expected converged at round 2, got %s at %d", out.Kind, out.Round)
	}
}

func TestNewEngineCustomGate(t *testing.T) {
	ctx := context.Background()
	exec := converge.ExecutorFunc(func(context.Context, converge.Task) (string, error) {
		return "No findings.", nil
	})
	custom := &converge.Gate{
		ID:           "rfc",
		Description:  "RFC review",
		ArtifactKind: "document-path",
		Perspectives: []converge.Perspective{{ID: "clarity", Payload: "Is it clear?", Mode: "WORKER"}},
	}
	e, store, err := converge.NewEngine(ctx, converge.Options{
		Backend:  "memory",
		Executor: exec,
		Gates:    []*converge.Gate{custom},
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer store.Close()

	if _, _, err := e.Identify(ctx, "rfc", converge.Locator{Path: "rfc.md"}); err != nil {
		t.Errorf("custom gate not registered: %v", err)
	}
	if _, _, err := e.Identify(ctx, "nope", converge.Locator{Path: "x"}); !errors.Is(err, converge.ErrUnknownGate) {
		t.Errorf("expected ErrUnknownGate, got %v", err)
	}
}
