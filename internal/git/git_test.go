package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestRepo creates a repository with one commit on main.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q", "-b", "main")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	gitCmd(t, dir, "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-q", "-m", "init")
	return dir
}

func gitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func TestCurrentBranch(t *testing.T) {
	dir := setupTestRepo(t)
	gitCmd(t, dir, "checkout", "-q", "-b", "feature/x")

	got, err := NewRepo(dir).CurrentBranch(context.Background())
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if got != "feature/x" {
		t.Errorf("CurrentBranch = %q, want feature/x", got)
	}
}

func TestCurrentBranchDetached(t *testing.T) {
	dir := setupTestRepo(t)
	gitCmd(t, dir, "checkout", "-q", "--detach")

	_, err := NewRepo(dir).CurrentBranch(context.Background())
	if !errors.Is(err, ErrDetachedHead) {
		t.Errorf("CurrentBranch on detached HEAD = %v, want ErrDetachedHead", err)
	}
}

func TestCurrentBranchNotRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := NewRepo(t.TempDir()).CurrentBranch(context.Background())
	if err == nil {
		t.Fatal("expected error outside a repository")
	}
}

func TestDiff(t *testing.T) {
	dir := setupTestRepo(t)
	gitCmd(t, dir, "checkout", "-q", "-b", "feature/y")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\nworld\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gitCmd(t, dir, "commit", "-q", "-am", "change")

	diff, err := NewRepo(dir).Diff(context.Background(), "main")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(diff, "+world") {
		t.Errorf("diff missing added line:\n%s", diff)
	}
}
