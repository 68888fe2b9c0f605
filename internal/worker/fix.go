package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/types"
)

// FixCommand runs a user command between rounds so it can fix the findings
// of the round that just finished. The outcome is written to its stdin as
// JSON and summarized in CONVERGE_* environment variables.
type FixCommand struct {
	Args   []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer

	WaitDelay time.Duration
}

// NewFixCommand parses a shell-style command line.
func NewFixCommand(cmdline, dir string) (*FixCommand, error) {
	args, err := shlex.Split(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse fix command %q: %w", cmdline, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("fix command is empty")
	}
	return &FixCommand{Args: args, Dir: dir, WaitDelay: 2 * time.Second}, nil
}

// Fix runs the command once for out. A non-zero exit stops the loop.
func (f *FixCommand) Fix(ctx context.Context, out *types.Outcome) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	// #nosec G204 -- command comes from the user's --fix-cmd
	cmd := exec.CommandContext(ctx, f.Args[0], f.Args[1:]...)
	cmd.Dir = f.Dir
	cmd.Env = append(cmd.Environ(), FixEnv(out)...)
	cmd.WaitDelay = f.WaitDelay
	cmd.Stdin = strings.NewReader(string(payload))
	cmd.Stdout = f.Stdout
	cmd.Stderr = f.Stderr

	debug.Logf("fix: %s round %d: %s\n", out.Key, out.Round, strings.Join(f.Args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", f.Args[0], err)
	}
	return nil
}

// FixEnv describes the outcome to the fix command.
func FixEnv(out *types.Outcome) []string {
	env := []string{
		"CONVERGE_GATE=" + out.Gate,
		"CONVERGE_ARTIFACT=" + out.ArtifactID,
		"CONVERGE_STORAGE_KEY=" + out.Key,
		"CONVERGE_ROUND=" + strconv.Itoa(out.Round),
		"CONVERGE_MAX_ROUNDS=" + strconv.Itoa(out.MaxRounds),
	}
	if s := out.Summary; s != nil {
		env = append(env,
			"CONVERGE_CRITICAL="+strconv.Itoa(s.TotalCritical),
			"CONVERGE_IMPORTANT="+strconv.Itoa(s.TotalImportant),
		)
	}
	return env
}
