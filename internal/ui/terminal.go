package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsStdinTerminal reports whether stdin is a terminal (interactive prompts
// need one).
func IsStdinTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ShouldUseColor follows the NO_COLOR and CLICOLOR conventions:
// NO_COLOR (any value) disables color, CLICOLOR_FORCE enables it even when
// stdout is not a terminal, CLICOLOR=0 disables it. Otherwise color is used
// on a terminal.
func ShouldUseColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return IsTerminal()
}

// IsAgentMode reports whether output is being consumed by an agent rather
// than a person (CONVERGE_AGENT_MODE=1 or CLAUDECODE=1). Agent mode skips
// markdown rendering and paging.
func IsAgentMode() bool {
	if os.Getenv("CONVERGE_AGENT_MODE") == "1" {
		return true
	}
	return os.Getenv("CLAUDECODE") == "1"
}
