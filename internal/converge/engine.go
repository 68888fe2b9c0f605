// Package converge is the convergence engine: it drives rounds of a gate
// against one artifact until a round reports zero blocking findings or the
// round budget runs out.
//
// Each call to Review dispatches exactly one full round. Between rounds the
// caller fixes the artifact; the record for the artifact then sits in
// AWAITING_RERUN and the only legal next call is another Review, which
// increments the round. A record that hits its ceiling is STALLED until a
// human resolves it with Resolve.
package converge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/converge/internal/aggregate"
	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/identity"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/telemetry"
	"github.com/steveyegge/converge/internal/types"
)

// Catalog looks gates up by ID.
type Catalog interface {
	Lookup(id string) (*gate.Gate, error)
}

// IdentityResolver maps a gate and locator onto a storage key.
type IdentityResolver interface {
	Resolve(ctx context.Context, gateID string, kind types.ArtifactKind, loc identity.Locator) (identity.Identity, error)
}

// ContentSource loads the artifact text for one round.
type ContentSource interface {
	Load(ctx context.Context, id identity.Identity) (string, error)
}

// RoundRunner dispatches every perspective of a gate once.
type RoundRunner interface {
	Run(ctx context.Context, g *gate.Gate, artifact string, round int) ([]types.RawOutput, error)
}

// ReviewRequest is the input to Review.
type ReviewRequest struct {
	Gate    string
	Locator identity.Locator

	// MaxRounds overrides the gate's ceiling when the record is created.
	// Ignored for a record already in progress.
	MaxRounds int
}

// Engine runs review rounds. It is safe for concurrent use across keys;
// one key is expected to have a single driver at a time.
type Engine struct {
	gates    Catalog
	resolver IdentityResolver
	store    storage.Store
	content  ContentSource
	runner   RoundRunner

	defaultMaxRounds int
	metrics          *telemetry.ReviewMetrics
	now              func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultMaxRounds sets the ceiling for gates that do not define one.
func WithDefaultMaxRounds(n int) Option {
	return func(e *Engine) { e.defaultMaxRounds = n }
}

// WithMetrics records round telemetry.
func WithMetrics(m *telemetry.ReviewMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine.
func New(gates Catalog, resolver IdentityResolver, store storage.Store, content ContentSource, runner RoundRunner, opts ...Option) *Engine {
	e := &Engine{
		gates:            gates,
		resolver:         resolver,
		store:            store,
		content:          content,
		runner:           runner,
		defaultMaxRounds: gate.DefaultMaxRounds,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Identify looks up the gate and resolves the artifact identity without
// touching the store.
func (e *Engine) Identify(ctx context.Context, gateID string, loc identity.Locator) (*gate.Gate, identity.Identity, error) {
	g, err := e.gates.Lookup(gateID)
	if err != nil {
		return nil, identity.Identity{}, err
	}
	id, err := e.resolver.Resolve(ctx, g.ID, g.ArtifactKind, loc)
	if err != nil {
		return nil, identity.Identity{}, err
	}
	return g, id, nil
}

// Review dispatches one full round for the artifact and records the result.
func (e *Engine) Review(ctx context.Context, req ReviewRequest) (*types.Outcome, error) {
	g, id, err := e.Identify(ctx, req.Gate, req.Locator)
	if err != nil {
		return nil, err
	}
	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = g.EffectiveMaxRounds(e.defaultMaxRounds)
	}
	rec, err := e.loadOrCreate(ctx, id, maxRounds)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case types.StatusStalled:
		return nil, fmt.Errorf("%w: %s stalled at round %d of %d", ErrEscalationRequired, id.Key, rec.Round, rec.MaxRounds)
	case types.StatusAwaitingRerun:
		rec.Round++
	}

	content, err := e.content.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	debug.LogEvent("round.dispatched", id.Key, fmt.Sprintf("gate=%s round=%d/%d perspectives=%d", g.ID, rec.Round, rec.MaxRounds, len(g.Perspectives)))
	outputs, err := e.runner.Run(ctx, g, content, rec.Round)
	if err != nil {
		return nil, err
	}
	summary := aggregate.Aggregate(rec.Round, outputs)

	next, out := Decide(rec, summary, e.now())
	out.Key = id.Key
	if err := e.persist(ctx, id.Key, next); err != nil {
		return nil, err
	}

	e.metrics.Round(ctx, g.ID, string(out.Kind))
	e.metrics.Findings(ctx, g.ID, string(types.SeverityCritical), summary.TotalCritical)
	e.metrics.Findings(ctx, g.ID, string(types.SeverityImportant), summary.TotalImportant)
	e.metrics.Findings(ctx, g.ID, string(types.SeveritySuggestion), summary.TotalSuggestion)
	debug.LogEvent(roundEvent(out.Kind), id.Key, fmt.Sprintf("round=%d critical=%d important=%d suggestion=%d", out.Round, summary.TotalCritical, summary.TotalImportant, summary.TotalSuggestion))
	return out, nil
}

func roundEvent(kind types.OutcomeKind) string {
	switch kind {
	case types.OutcomeConverged:
		return "round.converged"
	case types.OutcomeStalled:
		return "round.stalled"
	default:
		return "round.pending_fix"
	}
}

// loadOrCreate returns the record for id, starting a fresh one when none
// exists or the stored one cannot be trusted.
func (e *Engine) loadOrCreate(ctx context.Context, id identity.Identity, maxRounds int) (*types.Record, error) {
	rec, err := e.store.Load(ctx, id.Key)
	switch {
	case err == nil:
		if rec.Gate != id.Gate || rec.ArtifactID != id.ArtifactID {
			e.logCorruption(id.Key, fmt.Errorf("key holds %s/%q, want %s/%q", rec.Gate, rec.ArtifactID, id.Gate, id.ArtifactID))
			rec = nil
		} else if rec.Status == types.StatusAborted {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowHalted, id.Key)
		} else if rec.Status.IsTerminal() {
			rec = nil
		}
	case errors.Is(err, storage.ErrNotFound):
		rec = nil
	case errors.Is(err, storage.ErrStateCorruption):
		e.logCorruption(id.Key, err)
		rec = nil
	default:
		return nil, fmt.Errorf("load review state %s: %w", id.Key, err)
	}
	if rec != nil {
		return rec, nil
	}

	rec = types.NewRecord(id.Gate, id.ArtifactID, maxRounds, e.now())
	if err := e.store.Create(ctx, id.Key, rec); err != nil {
		return nil, fmt.Errorf("create review state %s: %w", id.Key, err)
	}
	return rec, nil
}

func (e *Engine) logCorruption(key string, err error) {
	debug.Logf("converge: state for %s is unreadable, starting over at round 1: %v\n", key, err)
	debug.LogEvent("state.corrupt", key, err.Error())
}

// persist stores the decided record. Finished records are archived and
// removed so that a later review of the same artifact starts at round 1.
func (e *Engine) persist(ctx context.Context, key string, next *types.Record) error {
	if next.Status.IsTerminal() {
		return e.finish(ctx, key, next)
	}
	_, err := e.store.Update(ctx, key, func(r *types.Record) error {
		*r = *next.Clone()
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		err = e.store.Create(ctx, key, next)
	}
	if err != nil {
		return fmt.Errorf("save review state %s: %w", key, err)
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, key string, rec *types.Record) error {
	if err := e.store.Archive(ctx, key, rec); err != nil {
		return fmt.Errorf("archive review state %s: %w", key, err)
	}
	if err := e.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete review state %s: %w", key, err)
	}
	return nil
}

// Status reports the record for an artifact. An absent record reports NEW.
// A record awaiting its re-review fails with ErrReentryViolation: the fix
// must be followed by a full round, not a status check.
func (e *Engine) Status(ctx context.Context, gateID string, loc identity.Locator) (*types.Record, error) {
	g, id, err := e.Identify(ctx, gateID, loc)
	if err != nil {
		return nil, err
	}
	rec, err := e.store.Load(ctx, id.Key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return types.NewRecord(id.Gate, id.ArtifactID, g.EffectiveMaxRounds(e.defaultMaxRounds), e.now()), nil
	case errors.Is(err, storage.ErrStateCorruption):
		e.logCorruption(id.Key, err)
		return types.NewRecord(id.Gate, id.ArtifactID, g.EffectiveMaxRounds(e.defaultMaxRounds), e.now()), nil
	case err != nil:
		return nil, err
	}
	if rec.Status == types.StatusAwaitingRerun {
		return nil, reentryError(id.Key, rec)
	}
	return rec, nil
}

// Show returns the stored record for an artifact, for reporting. It never
// changes state. A record awaiting its re-review is not shown: the findings
// to fix were in the outcome of the round that produced them.
func (e *Engine) Show(ctx context.Context, gateID string, loc identity.Locator) (*types.Record, identity.Identity, error) {
	_, id, err := e.Identify(ctx, gateID, loc)
	if err != nil {
		return nil, id, err
	}
	rec, err := e.store.Load(ctx, id.Key)
	if err != nil {
		return nil, id, err
	}
	if rec.Status == types.StatusAwaitingRerun {
		return nil, id, reentryError(id.Key, rec)
	}
	return rec, id, nil
}

func reentryError(key string, rec *types.Record) error {
	return fmt.Errorf("%w: %s (round %d pending re-review)", ErrReentryViolation, key, rec.Round)
}
