package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/dispatch"
)

// errEmptyCommand is returned when worker.command is blank.
var errEmptyCommand = errors.New("worker command is empty")

const stderrTail = 512

// Command runs a local CLI per perspective: the rendered prompt on stdin,
// the perspective's report on stdout.
type Command struct {
	Args []string
	Dir  string
	Env  []string

	// WaitDelay bounds how long a killed process may hold its pipes open.
	WaitDelay time.Duration
}

// NewCommand parses a shell-style command line such as `claude -p`.
func NewCommand(cmdline, dir string) (*Command, error) {
	args, err := shlex.Split(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse worker command %q: %w", cmdline, err)
	}
	if len(args) == 0 {
		return nil, errEmptyCommand
	}
	return &Command{Args: args, Dir: dir, WaitDelay: 2 * time.Second}, nil
}

// Execute implements dispatch.Executor.
func (c *Command) Execute(ctx context.Context, task dispatch.Task) (string, error) {
	prompt, err := Prompt(task)
	if err != nil {
		return "", err
	}

	// #nosec G204 -- command comes from the user's own config
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.WaitDelay = c.WaitDelay
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	debug.Logf("worker: %s/%s round %d: %s\n", task.Gate, task.Perspective.ID, task.Round, strings.Join(c.Args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = "..." + msg[len(msg)-stderrTail:]
		}
		if msg != "" {
			return "", fmt.Errorf("%s: %w: %s", c.Args[0], err, msg)
		}
		return "", fmt.Errorf("%s: %w", c.Args[0], err)
	}
	return stdout.String(), nil
}
