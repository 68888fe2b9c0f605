// Package worker provides the executors that run review perspectives:
// a local command (prompt on stdin) and the Anthropic Messages API.
package worker

import (
	"fmt"

	"github.com/steveyegge/converge/internal/config"
	"github.com/steveyegge/converge/internal/dispatch"
)

// Backend names accepted by worker.backend.
const (
	BackendCommand   = "command"
	BackendAnthropic = "anthropic"
)

// New builds the executor selected by settings. dir is the working directory
// for command workers.
func New(settings config.WorkerSettings, dir string) (dispatch.Executor, error) {
	switch settings.Backend {
	case "", BackendCommand:
		return NewCommand(settings.Command, dir)
	case BackendAnthropic:
		return NewAnthropic("", settings.Model, settings.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown worker backend %q (valid: %s, %s)", settings.Backend, BackendCommand, BackendAnthropic)
	}
}
