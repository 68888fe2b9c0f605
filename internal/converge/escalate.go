package converge

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/identity"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
)

// Action is one of the three ways a human may resolve a stalled review.
type Action string

// Resolution actions
const (
	ActionRaise  Action = "raise"
	ActionAccept Action = "accept"
	ActionAbort  Action = "abort"
)

// Resolution is the human's choice for a stalled record.
type Resolution struct {
	Action    Action `json:"action"`
	MaxRounds int    `json:"max_rounds,omitempty"` // new ceiling, ActionRaise only
}

// Escalator asks a human how to resolve a stalled review.
type Escalator interface {
	Choose(ctx context.Context, out *types.Outcome) (Resolution, error)
}

// EscalatorFunc adapts a function to Escalator.
type EscalatorFunc func(ctx context.Context, out *types.Outcome) (Resolution, error)

// Choose calls f.
func (f EscalatorFunc) Choose(ctx context.Context, out *types.Outcome) (Resolution, error) {
	return f(ctx, out)
}

// Escalate asks esc how to resolve a stalled outcome and applies the answer.
func (e *Engine) Escalate(ctx context.Context, out *types.Outcome, esc Escalator) (*types.Outcome, error) {
	if !out.NeedsEscalation() {
		return nil, fmt.Errorf("%w: outcome is %s", ErrNotStalled, out.Kind)
	}
	res, err := esc.Choose(ctx, out)
	if err != nil {
		return nil, err
	}
	return e.Resolve(ctx, out.Key, res)
}

// Resolve applies a human resolution to the STALLED record at key.
//
//   - raise: max_rounds grows, round is unchanged, record goes AWAITING_RERUN
//   - accept: outstanding findings stay in the final history entry, record is archived and deleted
//   - abort: record is archived and kept as ABORTED, so no later Review dispatches for key until Reset
func (e *Engine) Resolve(ctx context.Context, key string, res Resolution) (*types.Outcome, error) {
	rec, err := e.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: no review state for %s", ErrNotStalled, key)
		}
		return nil, fmt.Errorf("load review state %s: %w", key, err)
	}
	if rec.Status == types.StatusAwaitingRerun {
		return nil, reentryError(key, rec)
	}
	if rec.Status != types.StatusStalled {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotStalled, key, rec.Status)
	}

	switch res.Action {
	case ActionRaise:
		return e.raise(ctx, key, rec, res.MaxRounds)
	case ActionAccept:
		return e.settle(ctx, key, rec, types.StatusConverged, types.OutcomeAcceptedWithExceptions)
	case ActionAbort:
		return e.settle(ctx, key, rec, types.StatusAborted, types.OutcomeAborted)
	default:
		return nil, fmt.Errorf("unknown resolution %q (valid: raise, accept, abort)", res.Action)
	}
}

// Stalled returns the escalation outcome for an artifact whose record is
// STALLED, so a stall reported by an earlier process can still be resolved.
func (e *Engine) Stalled(ctx context.Context, gateID string, loc identity.Locator) (*types.Outcome, error) {
	rec, id, err := e.Show(ctx, gateID, loc)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: no review in progress for %s", ErrNotStalled, id.Key)
		}
		return nil, err
	}
	if rec.Status != types.StatusStalled {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotStalled, id.Key, rec.Status)
	}
	return outcomeFor(id.Key, rec, types.OutcomeStalled), nil
}

// Reset clears an aborted review so the artifact can be reviewed again
// from round 1. Reviews in any other state cannot be reset.
func (e *Engine) Reset(ctx context.Context, gateID string, loc identity.Locator) (*types.Record, error) {
	_, id, err := e.Identify(ctx, gateID, loc)
	if err != nil {
		return nil, err
	}
	rec, err := e.store.Load(ctx, id.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: no review in progress for %s", ErrNotAborted, id.Key)
		}
		return nil, err
	}
	switch rec.Status {
	case types.StatusAwaitingRerun:
		return nil, reentryError(id.Key, rec)
	case types.StatusAborted:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAborted, id.Key, rec.Status)
	}
	if err := e.store.Delete(ctx, id.Key); err != nil {
		return nil, fmt.Errorf("delete review state %s: %w", id.Key, err)
	}
	debug.LogEvent("escalation.reset", id.Key, fmt.Sprintf("round=%d", rec.Round))
	return rec, nil
}

func (e *Engine) raise(ctx context.Context, key string, rec *types.Record, limit int) (*types.Outcome, error) {
	if limit <= rec.MaxRounds {
		return nil, fmt.Errorf("%w: %d <= %d", ErrInvalidLimit, limit, rec.MaxRounds)
	}
	old := rec.MaxRounds
	updated, err := e.store.Update(ctx, key, func(r *types.Record) error {
		if r.Status != types.StatusStalled {
			return fmt.Errorf("%w: %s is %s", ErrNotStalled, key, r.Status)
		}
		if limit <= r.MaxRounds {
			return fmt.Errorf("%w: %d <= %d", ErrInvalidLimit, limit, r.MaxRounds)
		}
		r.MaxRounds = limit
		r.Status = types.StatusAwaitingRerun
		r.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	debug.LogEvent("escalation.raise", key, fmt.Sprintf("max_rounds=%d->%d round=%d", old, limit, updated.Round))
	return outcomeFor(key, updated, types.OutcomeLimitRaised), nil
}

func (e *Engine) settle(ctx context.Context, key string, rec *types.Record, status types.RecordStatus, kind types.OutcomeKind) (*types.Outcome, error) {
	final := rec.Clone()
	final.Status = status
	final.Resolution = kind
	final.UpdatedAt = e.now()
	if status == types.StatusAborted {
		if err := e.store.Archive(ctx, key, final); err != nil {
			return nil, fmt.Errorf("archive review state %s: %w", key, err)
		}
		if err := e.store.Create(ctx, key, final); err != nil {
			return nil, fmt.Errorf("save review state %s: %w", key, err)
		}
	} else if err := e.finish(ctx, key, final); err != nil {
		return nil, err
	}
	event := "escalation.accept"
	if kind == types.OutcomeAborted {
		event = "escalation.abort"
	}
	debug.LogEvent(event, key, fmt.Sprintf("round=%d max_rounds=%d", final.Round, final.MaxRounds))
	return outcomeFor(key, final, kind), nil
}

func outcomeFor(key string, rec *types.Record, kind types.OutcomeKind) *types.Outcome {
	out := &types.Outcome{
		Kind:       kind,
		Key:        key,
		Gate:       rec.Gate,
		ArtifactID: rec.ArtifactID,
		Round:      rec.Round,
		MaxRounds:  rec.MaxRounds,
		History:    rec.Clone().History,
	}
	if last := rec.Last(); last != nil && kind != types.OutcomeLimitRaised {
		out.Remaining = remainingOf(*last)
	}
	return out
}
