// Package converge provides a minimal public API for driving review gates
// from Go programs without shelling out to the converge CLI.
//
// Callers supply the Executor that runs each perspective (an LLM client, a
// subprocess, a test fake); everything else, the gate catalog, the record
// store and the round logic, is the same machinery the CLI uses.
package converge

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/converge/internal/artifact"
	engine "github.com/steveyegge/converge/internal/converge"
	"github.com/steveyegge/converge/internal/dispatch"
	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/git"
	"github.com/steveyegge/converge/internal/identity"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/storage/factory"
	"github.com/steveyegge/converge/internal/types"
)

// Core types for driving reviews
type (
	Engine        = engine.Engine
	ReviewRequest = engine.ReviewRequest
	Resolution    = engine.Resolution
	Escalator     = engine.Escalator
	Fixer         = engine.Fixer
	Loop          = engine.Loop
	Outcome       = types.Outcome
	OutcomeKind   = types.OutcomeKind
	Record        = types.Record
	Finding       = types.Finding
	Severity      = types.Severity
	Gate          = gate.Gate
	Perspective   = gate.Perspective
	Locator       = identity.Locator
	Executor      = dispatch.Executor
	ExecutorFunc  = dispatch.ExecutorFunc
	Task          = dispatch.Task
	Store         = storage.Store
)

// Severity constants
const (
	SeverityCritical   = types.SeverityCritical
	SeverityImportant  = types.SeverityImportant
	SeveritySuggestion = types.SeveritySuggestion
)

// Resolution actions
const (
	ActionRaise  = engine.ActionRaise
	ActionAccept = engine.ActionAccept
	ActionAbort  = engine.ActionAbort
)

// Outcome kinds
const (
	OutcomeConverged              = types.OutcomeConverged
	OutcomeNotConverged           = types.OutcomeNotConverged
	OutcomeStalled                = types.OutcomeStalled
	OutcomeAcceptedWithExceptions = types.OutcomeAcceptedWithExceptions
	OutcomeAborted                = types.OutcomeAborted
	OutcomeLimitRaised            = types.OutcomeLimitRaised
)

// Errors callers are expected to match with errors.Is
var (
	ErrReentryViolation   = engine.ErrReentryViolation
	ErrEscalationRequired = engine.ErrEscalationRequired
	ErrUnknownGate        = gate.ErrUnknownGate
)

// Options configures NewEngine.
type Options struct {
	// ProjectDir is the .converge directory review state is kept under.
	ProjectDir string
	// Backend is file (default), sqlite, mysql or memory; DSN applies to mysql.
	Backend string
	DSN     string

	// RepoDir is the work tree document paths are relative to and branch
	// gates diff in. Empty means the process working directory.
	RepoDir  string
	DiffBase string

	// Executor runs every perspective; required.
	Executor Executor
	// Timeout bounds each WORKER perspective before it re-runs inline.
	Timeout time.Duration
	// MaxRounds is the limit for gates that set none.
	MaxRounds int

	// Gates replace builtins with the same ID and add new ones.
	Gates []*Gate
}

// Open opens the file-backed record store under projectDir.
func Open(ctx context.Context, projectDir string) (Store, error) {
	return factory.New(ctx, factory.Options{Dir: projectDir})
}

// NewEngine wires an engine with the builtin gates plus opts.Gates. The
// caller closes the returned store.
func NewEngine(ctx context.Context, opts Options) (*Engine, Store, error) {
	if opts.Executor == nil {
		return nil, nil, errors.New("converge: an executor is required")
	}
	reg := gate.NewRegistry()
	if err := gate.RegisterBuiltinGates(reg); err != nil {
		return nil, nil, err
	}
	for _, g := range opts.Gates {
		if err := reg.Override(g); err != nil {
			return nil, nil, err
		}
	}

	s, err := factory.New(ctx, factory.Options{Backend: opts.Backend, Dir: opts.ProjectDir, DSN: opts.DSN})
	if err != nil {
		return nil, nil, err
	}

	repo := git.NewRepo(opts.RepoDir)
	e := engine.New(
		reg,
		identity.NewResolver(repo),
		s,
		artifact.NewProvider(opts.RepoDir, repo, opts.DiffBase),
		dispatch.New(opts.Executor, opts.Executor, opts.Timeout),
		engine.WithDefaultMaxRounds(opts.MaxRounds),
	)
	return e, s, nil
}
