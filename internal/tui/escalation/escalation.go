// Package escalation asks a human how to resolve a stalled review: raise the
// round limit, accept the remaining findings, or abort the workflow.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/steveyegge/converge/internal/converge"
	"github.com/steveyegge/converge/internal/types"
	"github.com/steveyegge/converge/internal/ui"
)

var (
	// ErrCancelled is returned when the human dismisses the prompt.
	ErrCancelled = errors.New("escalation cancelled")

	// ErrNotInteractive is returned when stdin is not a terminal.
	ErrNotInteractive = errors.New("escalation needs an interactive terminal; use 'converge resolve --raise N|--accept|--abort'")
)

// Prompt is an interactive converge.Escalator backed by a huh form.
type Prompt struct {
	// Accessible switches huh to its screen-reader friendly mode.
	Accessible bool
}

var _ converge.Escalator = (*Prompt)(nil)

// Choose renders the stalled summary and asks for a resolution.
func (p *Prompt) Choose(ctx context.Context, out *types.Outcome) (converge.Resolution, error) {
	if !ui.IsStdinTerminal() {
		return converge.Resolution{}, ErrNotInteractive
	}

	action := string(converge.ActionRaise)
	limit := strconv.Itoa(SuggestedLimit(out))

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Review stalled").
				Description(Summary(out)),

			huh.NewSelect[string]().
				Title("How should this review continue?").
				Options(actionOptions()...).
				Value(&action),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("New round limit").
				Description(fmt.Sprintf("Currently %d. The next round will be round %d.", out.MaxRounds, out.Round+1)).
				Value(&limit).
				Validate(func(s string) error {
					_, err := ParseLimit(s, out.MaxRounds)
					return err
				}),
		).WithHideFunc(func() bool {
			return action != string(converge.ActionRaise)
		}),
	).WithTheme(huh.ThemeDracula()).WithAccessible(p.Accessible)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return converge.Resolution{}, ErrCancelled
		}
		return converge.Resolution{}, fmt.Errorf("escalation form: %w", err)
	}
	return ResolutionFor(action, limit, out.MaxRounds)
}

func actionOptions() []huh.Option[string] {
	return []huh.Option[string]{
		huh.NewOption("Raise the round limit and keep fixing", string(converge.ActionRaise)),
		huh.NewOption("Accept the remaining issues", string(converge.ActionAccept)),
		huh.NewOption("Abort this workflow", string(converge.ActionAbort)),
	}
}

// Summary describes what is left on a stalled outcome in a few lines.
func Summary(out *types.Outcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s on %s used all %d round(s).\n", out.Gate, out.ArtifactID, out.MaxRounds)
	if r := out.Remaining; r != nil {
		fmt.Fprintf(&sb, "Remaining: %d CRITICAL, %d IMPORTANT, %d SUGGESTION.",
			r.Critical, r.Important, r.Suggestion)
	}
	return sb.String()
}

// SuggestedLimit proposes a raised ceiling: the current one plus the rounds
// already spent, with at least one extra round.
func SuggestedLimit(out *types.Outcome) int {
	extra := out.MaxRounds
	if extra < 1 {
		extra = 1
	}
	return out.MaxRounds + extra
}

// ParseLimit validates a new round limit typed by a human.
func ParseLimit(s string, current int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("limit must be a whole number")
	}
	if n <= current {
		return 0, fmt.Errorf("limit must be greater than the current %d", current)
	}
	return n, nil
}

// ResolutionFor turns the form answers into a converge.Resolution.
func ResolutionFor(action, limit string, current int) (converge.Resolution, error) {
	switch converge.Action(action) {
	case converge.ActionRaise:
		n, err := ParseLimit(limit, current)
		if err != nil {
			return converge.Resolution{}, err
		}
		return converge.Resolution{Action: converge.ActionRaise, MaxRounds: n}, nil
	case converge.ActionAccept, converge.ActionAbort:
		return converge.Resolution{Action: converge.Action(action)}, nil
	default:
		return converge.Resolution{}, fmt.Errorf("unknown escalation action %q", action)
	}
}

// Static always answers with the same resolution. Non-interactive callers
// use it to apply --raise, --accept or --abort.
type Static converge.Resolution

var _ converge.Escalator = Static{}

// Choose returns s. A raise without a limit proposes SuggestedLimit.
func (s Static) Choose(_ context.Context, out *types.Outcome) (converge.Resolution, error) {
	res := converge.Resolution(s)
	if res.Action == converge.ActionRaise && res.MaxRounds == 0 {
		res.MaxRounds = SuggestedLimit(out)
	}
	return res, nil
}
