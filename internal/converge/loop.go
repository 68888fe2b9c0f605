package converge

import (
	"context"
	"fmt"

	"github.com/steveyegge/converge/internal/types"
)

// Fixer applies fixes to the artifact between rounds.
type Fixer interface {
	Fix(ctx context.Context, out *types.Outcome) error
}

// FixerFunc adapts a function to Fixer.
type FixerFunc func(ctx context.Context, out *types.Outcome) error

// Fix calls f.
func (f FixerFunc) Fix(ctx context.Context, out *types.Outcome) error {
	return f(ctx, out)
}

// Loop wires the collaborators Run needs.
type Loop struct {
	Fixer     Fixer
	Escalator Escalator // nil returns the stalled outcome to the caller

	// OnOutcome sees every round and resolution outcome in order.
	OnOutcome func(out *types.Outcome)
}

// Run drives review, fix, review until the artifact converges, a human
// resolves a stall, or an error occurs. No round is dispatched past the
// ceiling unless the escalator raises it.
func (e *Engine) Run(ctx context.Context, req ReviewRequest, loop Loop) (*types.Outcome, error) {
	if loop.Fixer == nil {
		return nil, fmt.Errorf("run %s: a fixer is required", req.Gate)
	}
	for {
		out, err := e.Review(ctx, req)
		if err != nil {
			return nil, err
		}
		loop.notify(out)

		switch {
		case out.RequiresFix():
			if err := loop.Fixer.Fix(ctx, out); err != nil {
				return out, fmt.Errorf("fix after round %d: %w", out.Round, err)
			}
		case out.NeedsEscalation():
			if loop.Escalator == nil {
				return out, nil
			}
			resolved, err := e.Escalate(ctx, out, loop.Escalator)
			if err != nil {
				return out, err
			}
			loop.notify(resolved)
			if resolved.Kind != types.OutcomeLimitRaised {
				return resolved, nil
			}
			// The stalled round still had blocking findings.
			if err := loop.Fixer.Fix(ctx, out); err != nil {
				return resolved, fmt.Errorf("fix after round %d: %w", out.Round, err)
			}
		default:
			return out, nil
		}
	}
}

func (l Loop) notify(out *types.Outcome) {
	if l.OnOutcome != nil {
		l.OnOutcome(out)
	}
}
