package main

import (
	"errors"
	"path/filepath"

	"github.com/steveyegge/converge/internal/artifact"
	"github.com/steveyegge/converge/internal/config"
	"github.com/steveyegge/converge/internal/converge"
	"github.com/steveyegge/converge/internal/dispatch"
	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/git"
	"github.com/steveyegge/converge/internal/identity"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/storage/factory"
	"github.com/steveyegge/converge/internal/telemetry"
	"github.com/steveyegge/converge/internal/worker"
)

// requireProjectDir returns the .converge directory or exits with a hint.
func requireProjectDir() string {
	projectDir, err := config.FindProjectDir(dirFlag)
	if err != nil {
		FatalErrorWithHint(err.Error(), "Run 'converge init' in the repository root")
	}
	return projectDir
}

// loadCatalog returns the builtin gates overlaid with gate files from the
// project, the user directory and gates.paths.
func loadCatalog() *gate.Registry {
	reg := gate.NewRegistry()
	if err := gate.RegisterBuiltinGates(reg); err != nil {
		FatalError("%v", err)
	}
	projectDir, _ := config.FindProjectDir(dirFlag)
	loader := gate.NewLoader(projectDir, config.GetStringSlice(config.KeyGatesPaths)...)
	if err := loader.LoadInto(reg); err != nil {
		FatalError("loading gates: %v", err)
	}
	return reg
}

// openStore opens the configured backend under the project directory.
func openStore() storage.Store {
	if store != nil {
		return store
	}
	projectDir := requireProjectDir()
	settings := config.GetReviewSettings()
	s, err := factory.New(rootCtx, factory.Options{
		Backend:     settings.Storage.Backend,
		Dir:         projectDir,
		DSN:         settings.Storage.DSN,
		LockTimeout: settings.Storage.LockTimeout,
	})
	if err != nil {
		FatalError("opening review state: %v", err)
	}
	store = telemetry.WrapStore(s)
	return store
}

// newEngine wires the catalog, identity resolver, store, artifact provider
// and dispatcher into a converge.Engine.
func newEngine() (*converge.Engine, *gate.Registry) {
	settings := config.GetReviewSettings()
	reg := loadCatalog()
	s := openStore()

	executor, err := worker.New(settings.Worker, workDir())
	if err != nil {
		FatalErrorWithHint(err.Error(), "Set worker.backend with 'converge config set worker.backend command|anthropic'")
	}
	metrics := telemetry.NewReviewMetrics()
	d := dispatch.New(executor, executor, settings.Timeout)
	d.Concurrency = settings.Worker.Concurrency
	d.Metrics = metrics

	repo := git.NewRepo(workDir())
	engine := converge.New(
		reg,
		identity.NewResolver(repo),
		s,
		artifact.NewProvider(workDir(), repo, settings.DiffBase),
		d,
		converge.WithDefaultMaxRounds(settings.MaxRounds),
		converge.WithMetrics(metrics),
	)
	return engine, reg
}

// workDir is --dir when given, else the process working directory ("").
func workDir() string {
	if dirFlag == "" {
		return ""
	}
	abs, err := filepath.Abs(dirFlag)
	if err != nil {
		return dirFlag
	}
	return abs
}

// locatorFrom builds the artifact locator from the positional path and
// --branch.
func locatorFrom(args []string, branch string) identity.Locator {
	loc := identity.Locator{Branch: branch}
	if len(args) > 1 {
		loc.Path = args[1]
	}
	return loc
}

// errorCode maps engine sentinels to stable codes for --json errors.
func errorCode(err error) string {
	switch {
	case errors.Is(err, converge.ErrReentryViolation):
		return "reentry_violation"
	case errors.Is(err, converge.ErrEscalationRequired):
		return "escalation_required"
	case errors.Is(err, converge.ErrNotStalled):
		return "not_stalled"
	case errors.Is(err, converge.ErrInvalidLimit):
		return "invalid_limit"
	case errors.Is(err, converge.ErrWorkflowHalted):
		return "workflow_halted"
	case errors.Is(err, converge.ErrNotAborted):
		return "not_aborted"
	case errors.Is(err, gate.ErrUnknownGate):
		return "unknown_gate"
	case errors.Is(err, identity.ErrArtifactUnresolvable):
		return "artifact_unresolvable"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	}
	return ""
}

// hintFor suggests the next command for errors a user can act on.
func hintFor(err error) string {
	switch {
	case errors.Is(err, converge.ErrReentryViolation):
		return "The artifact was fixed after a round; run 'converge review' to re-run every perspective"
	case errors.Is(err, converge.ErrEscalationRequired):
		return "Run 'converge resolve' to raise the limit, accept, or abort"
	case errors.Is(err, converge.ErrNotStalled):
		return "Only a stalled review can be resolved; see 'converge status'"
	case errors.Is(err, converge.ErrWorkflowHalted):
		return "The review was aborted; run 'converge reset' to start over at round 1"
	case errors.Is(err, gate.ErrUnknownGate):
		return "List available gates with 'converge gates list'"
	case errors.Is(err, identity.ErrArtifactUnresolvable):
		return "Pass the document path, or --branch for branch gates"
	}
	return ""
}

// fatalFor exits with err, a stable JSON code, and a hint when one applies.
func fatalFor(err error) {
	if jsonOutput {
		outputJSONError(err, errorCode(err))
	}
	if hint := hintFor(err); hint != "" {
		FatalErrorWithHint(err.Error(), hint)
	}
	FatalError("%v", err)
}
