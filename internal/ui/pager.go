package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"golang.org/x/term"
)

// PagerOptions controls pager behavior
type PagerOptions struct {
	// NoPager disables the pager for this command (--no-pager flag)
	NoPager bool
}

// shouldUsePager is false for --no-pager, CONVERGE_NO_PAGER, agent mode,
// and when stdout is not a terminal.
func shouldUsePager(opts PagerOptions) bool {
	if opts.NoPager || os.Getenv("CONVERGE_NO_PAGER") != "" || IsAgentMode() {
		return false
	}
	return IsTerminal()
}

// pagerCommand checks CONVERGE_PAGER, then PAGER, and defaults to less.
func pagerCommand() []string {
	for _, env := range []string{"CONVERGE_PAGER", "PAGER"} {
		if v := os.Getenv(env); v != "" {
			if args, err := shlex.Split(v); err == nil && len(args) > 0 {
				return args
			}
		}
	}
	return []string{"less"}
}

func terminalHeight() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	_, height, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return height
}

func contentHeight(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}

// ToPager writes content through a pager when stdout is an interactive
// terminal and the content does not fit on one screen; otherwise it writes
// straight to w.
func ToPager(w io.Writer, content string, opts PagerOptions) error {
	if !shouldUsePager(opts) {
		_, err := fmt.Fprint(w, content)
		return err
	}
	if h := terminalHeight(); h > 0 && contentHeight(content) <= h-1 {
		_, err := fmt.Fprint(w, content)
		return err
	}

	args := pagerCommand()
	cmd := exec.Command(args[0], args[1:]...) // #nosec G204 - pager command is user-configurable
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	// -R: ANSI colors, -F: quit if one screen, -X: keep screen on exit
	if os.Getenv("LESS") == "" {
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	return cmd.Run()
}
