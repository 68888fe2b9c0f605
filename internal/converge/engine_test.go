package converge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/converge/internal/dispatch"
	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/identity"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/storage/file"
	"github.com/steveyegge/converge/internal/storage/memory"
	"github.com/steveyegge/converge/internal/types"
)

// script maps round -> perspective -> report. Missing entries report no findings.
type script map[int]map[string]string

type fakeBranch string

func (b fakeBranch) CurrentBranch(context.Context) (string, error) {
	if b == "" {
		return "", errors.New("HEAD is detached")
	}
	return string(b), nil
}

type staticContent string

func (c staticContent) Load(context.Context, identity.Identity) (string, error) {
	return string(c), nil
}

type harness struct {
	engine *Engine
	store  storage.Store

	mu    sync.Mutex
	calls map[int]map[string]int // round -> perspective -> executions
}

func (h *harness) executor(s script) dispatch.Executor {
	return dispatch.ExecutorFunc(func(ctx context.Context, task dispatch.Task) (string, error) {
		h.mu.Lock()
		if h.calls[task.Round] == nil {
			h.calls[task.Round] = map[string]int{}
		}
		h.calls[task.Round][task.Perspective.ID]++
		h.mu.Unlock()
		if text, ok := s[task.Round][task.Perspective.ID]; ok {
			return text, nil
		}
		return "No findings.", nil
	})
}

func newHarness(t *testing.T, s script, store storage.Store) *harness {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	reg := gate.NewRegistry()
	require.NoError(t, gate.RegisterBuiltinGates(reg))

	h := &harness{store: store, calls: map[int]map[string]int{}}
	exec := h.executor(s)
	h.engine = New(reg,
		identity.NewResolver(fakeBranch("feature/x")),
		store,
		staticContent("artifact body"),
		dispatch.New(exec, exec, time.Second),
		WithClock(func() time.Time { return t0 }),
	)
	return h
}

var prCode = ReviewRequest{Gate: gate.GatePRCode}

func counts(e types.HistoryEntry) [3]int {
	return [3]int{e.Critical, e.Important, e.Suggestion}
}

func TestScenarioPRCodeConvergesInThreeRounds(t *testing.T) {
	h := newHarness(t, script{
		1: {
			"correctness":     "1. [CRITICAL] nil deref in handler\n2. [CRITICAL] lost write on retry\n3. [IMPORTANT] unchecked error",
			"security":        "1. [IMPORTANT] token in logs\n2. [IMPORTANT] missing authz",
			"tests":           "1. [IMPORTANT] no test for retry\n2. [SUGGESTION] table-drive cases",
			"maintainability": "1. [IMPORTANT] 300-line function\n2. [SUGGESTION] rename x\n3. [SUGGESTION] extract helper",
		},
		2: {
			"security": "1. [IMPORTANT] authz still missing on DELETE",
			"tests":    "1. [SUGGESTION] add fuzz test",
		},
	}, nil)
	ctx := context.Background()
	key := identity.StorageKey(gate.GatePRCode, "feature/x")
	assert.Equal(t, "pr-code--feature__x", key)

	out, err := h.engine.Review(ctx, prCode)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNotConverged, out.Kind)
	assert.True(t, out.RequiresFix())
	assert.Equal(t, key, out.Key)
	require.Len(t, out.History, 1)
	assert.Equal(t, [3]int{2, 5, 3}, counts(out.History[0]))
	assert.Equal(t, types.EntryPendingFix, out.History[0].Status)

	rec, err := h.store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingRerun, rec.Status)
	assert.Equal(t, 1, rec.Round)

	out, err = h.engine.Review(ctx, prCode)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNotConverged, out.Kind)
	require.Len(t, out.History, 2)
	assert.Equal(t, 2, out.History[1].Round)
	assert.Equal(t, [3]int{0, 1, 1}, counts(out.History[1]))
	assert.Equal(t, types.EntryPendingFix, out.History[1].Status)

	out, err = h.engine.Review(ctx, prCode)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeConverged, out.Kind)
	assert.Equal(t, 3, out.Round)
	require.Len(t, out.History, 3)
	assert.Equal(t, [3]int{0, 0, 0}, counts(out.History[2]))

	_, err = h.store.Load(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	archived := h.store.(*memory.Store).Archived()
	require.Len(t, archived, 1)
	assert.Equal(t, types.StatusConverged, archived[0].Record.Status)

	// A later, unrelated pass starts fresh.
	out, err = h.engine.Review(ctx, prCode)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Round)
	assert.Len(t, out.History, 1)
}

func TestScenarioDesignStallThenAccept(t *testing.T) {
	h := newHarness(t, script{
		1: {"feasibility": "1. [CRITICAL] needs a second datacenter"},
		2: {"risk": "1. [IMPORTANT] no rollback plan"},
	}, nil)
	ctx := context.Background()
	req := ReviewRequest{Gate: gate.GateDesign, Locator: identity.Locator{Path: "docs/x.md"}, MaxRounds: 2}

	out, err := h.engine.Review(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNotConverged, out.Kind)
	assert.Equal(t, [3]int{1, 0, 0}, counts(out.History[0]))

	out, err = h.engine.Review(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeStalled, out.Kind)
	assert.True(t, out.NeedsEscalation())
	assert.Equal(t, types.Remaining{Important: 1}, *out.Remaining)
	assert.Equal(t, types.EntryStalled, out.History[1].Status)

	// No automatic third round.
	_, err = h.engine.Review(ctx, req)
	assert.ErrorIs(t, err, ErrEscalationRequired)

	rec, err := h.engine.Status(ctx, gate.GateDesign, req.Locator)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStalled, rec.Status)

	resolved, err := h.engine.Resolve(ctx, out.Key, Resolution{Action: ActionAccept})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeAcceptedWithExceptions, resolved.Kind)
	require.Len(t, resolved.History, 2)
	final := resolved.History[1]
	assert.Equal(t, []types.Finding{{PerspectiveID: "risk", Severity: types.SeverityImportant, Description: "no rollback plan"}}, final.Findings)

	_, err = h.store.Load(ctx, out.Key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	archived := h.store.(*memory.Store).Archived()
	require.Len(t, archived, 1)
	assert.Equal(t, types.OutcomeAcceptedWithExceptions, archived[0].Record.Resolution)
}

func TestCircuitBreakerStopsAtMaxRounds(t *testing.T) {
	blocking := map[string]string{"tests": "1. [IMPORTANT] still untested"}
	h := newHarness(t, script{1: blocking, 2: blocking, 3: blocking, 4: blocking}, nil)
	fixes := 0
	out, err := h.engine.Run(context.Background(), ReviewRequest{Gate: gate.GatePRCode, MaxRounds: 3}, Loop{
		Fixer: FixerFunc(func(context.Context, *types.Outcome) error { fixes++; return nil }),
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeStalled, out.Kind)
	assert.Equal(t, 3, out.Round)
	assert.Equal(t, 2, fixes)
	assert.Nil(t, h.calls[4], "no fourth round may be dispatched")
}

func TestEveryRoundDispatchesFullCatalog(t *testing.T) {
	// Only security reports anything in round 1; round 2 must still run all five.
	h := newHarness(t, script{1: {"security": "1. [CRITICAL] injection"}}, nil)
	ctx := context.Background()
	_, err := h.engine.Review(ctx, prCode)
	require.NoError(t, err)
	_, err = h.engine.Review(ctx, prCode)
	require.NoError(t, err)

	for _, p := range gate.BuiltinGates()[0].Perspectives {
		assert.Equal(t, 1, h.calls[2][p.ID], "round 2 perspective %s", p.ID)
	}
}

func TestStatusBetweenRoundsIsReentryViolation(t *testing.T) {
	h := newHarness(t, script{1: {"tests": "1. [IMPORTANT] gap"}}, nil)
	ctx := context.Background()

	rec, err := h.engine.Status(ctx, gate.GatePRCode, identity.Locator{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNew, rec.Status)

	_, err = h.engine.Review(ctx, prCode)
	require.NoError(t, err)

	_, err = h.engine.Status(ctx, gate.GatePRCode, identity.Locator{})
	assert.ErrorIs(t, err, ErrReentryViolation)
	_, _, err = h.engine.Show(ctx, gate.GatePRCode, identity.Locator{})
	assert.ErrorIs(t, err, ErrReentryViolation)
	_, err = h.engine.Stalled(ctx, gate.GatePRCode, identity.Locator{})
	assert.ErrorIs(t, err, ErrReentryViolation)
	_, err = h.engine.Resolve(ctx, identity.StorageKey(gate.GatePRCode, "feature/x"), Resolution{Action: ActionAccept})
	assert.ErrorIs(t, err, ErrReentryViolation)
	_, err = h.engine.Reset(ctx, gate.GatePRCode, identity.Locator{})
	assert.ErrorIs(t, err, ErrReentryViolation)

	// The legal next call is another full round, which increments round.
	out, err := h.engine.Review(ctx, prCode)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Round)
	assert.Equal(t, types.OutcomeConverged, out.Kind)
}

func TestCorruptStateRestartsAtRoundOne(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store, err := file.New(dir, time.Second)
	require.NoError(t, err)
	key := identity.StorageKey(gate.GatePRCode, "feature/x")
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+".json"), []byte("{not json"), 0o600))

	h := newHarness(t, script{1: {"tests": "1. [IMPORTANT] gap"}}, store)
	out, err := h.engine.Review(context.Background(), prCode)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Round)
	assert.Equal(t, types.OutcomeNotConverged, out.Kind)

	rec, err := store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.NoError(t, rec.Validate())
	assert.Len(t, rec.History, 1)
}

func TestUnreadableStateRestartsAtRoundOne(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files without permission")
	}
	dir := filepath.Join(t.TempDir(), "state")
	store, err := file.New(dir, time.Second)
	require.NoError(t, err)
	key := identity.StorageKey(gate.GatePRCode, "feature/x")
	path := filepath.Join(dir, key+".json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0))
	t.Cleanup(func() { _ = os.Chmod(path, 0o600) })

	h := newHarness(t, script{1: {"tests": "1. [IMPORTANT] gap"}}, store)
	out, err := h.engine.Review(context.Background(), prCode)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Round)
	assert.Equal(t, types.OutcomeNotConverged, out.Kind)
}

func TestSanitizeCollisionTreatedAsNew(t *testing.T) {
	h := newHarness(t, script{1: {"tests": "1. [IMPORTANT] gap"}}, nil)
	ctx := context.Background()
	key := identity.StorageKey(gate.GatePRCode, "feature/x")

	// "feature\x" sanitizes to the same key but is a different artifact.
	other := types.NewRecord(gate.GatePRCode, `feature\x`, 10, t0)
	other.Round = 4
	other.Status = types.StatusAwaitingRerun
	other.History = []types.HistoryEntry{{Round: 1}, {Round: 2}, {Round: 3}, {Round: 4}}
	require.NoError(t, h.store.Create(ctx, key, other))

	out, err := h.engine.Review(ctx, prCode)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Round)
	assert.Equal(t, "feature/x", out.ArtifactID)
}

func TestRaiseLimitKeepsRound(t *testing.T) {
	h := newHarness(t, script{1: {"risk": "1. [IMPORTANT] a"}, 2: {"risk": "1. [IMPORTANT] b"}}, nil)
	ctx := context.Background()
	req := ReviewRequest{Gate: gate.GateDesign, Locator: identity.Locator{Path: "docs/x.md"}, MaxRounds: 2}
	_, err := h.engine.Review(ctx, req)
	require.NoError(t, err)
	out, err := h.engine.Review(ctx, req)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeStalled, out.Kind)

	_, err = h.engine.Resolve(ctx, out.Key, Resolution{Action: ActionRaise, MaxRounds: 2})
	assert.ErrorIs(t, err, ErrInvalidLimit)

	raised, err := h.engine.Resolve(ctx, out.Key, Resolution{Action: ActionRaise, MaxRounds: 4})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeLimitRaised, raised.Kind)
	assert.Equal(t, 2, raised.Round)
	assert.Equal(t, 4, raised.MaxRounds)

	rec, err := h.store.Load(ctx, out.Key)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingRerun, rec.Status)
	assert.Equal(t, 2, rec.Round)
	assert.Len(t, rec.History, 2)

	out, err = h.engine.Review(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Round)
	assert.Equal(t, types.OutcomeConverged, out.Kind)
}

func TestAbortHaltsWorkflow(t *testing.T) {
	h := newHarness(t, script{1: {"risk": "1. [CRITICAL] a"}}, nil)
	ctx := context.Background()
	req := ReviewRequest{Gate: gate.GateDesign, Locator: identity.Locator{Path: "docs/x.md"}, MaxRounds: 1}
	out, err := h.engine.Review(ctx, req)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeStalled, out.Kind)

	aborted, err := h.engine.Escalate(ctx, out, EscalatorFunc(func(context.Context, *types.Outcome) (Resolution, error) {
		return Resolution{Action: ActionAbort}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeAborted, aborted.Kind)
	assert.True(t, aborted.Halt())

	rec, err := h.store.Load(ctx, out.Key)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAborted, rec.Status)
	assert.Equal(t, types.OutcomeAborted, rec.Resolution)

	_, err = h.engine.Review(ctx, req)
	assert.ErrorIs(t, err, ErrWorkflowHalted)
	assert.Nil(t, h.calls[2])

	// A later process is halted too.
	later := newHarness(t, nil, h.store)
	_, err = later.engine.Review(ctx, req)
	assert.ErrorIs(t, err, ErrWorkflowHalted)
	assert.Empty(t, later.calls)
	_, err = later.engine.Resolve(ctx, out.Key, Resolution{Action: ActionAccept})
	assert.ErrorIs(t, err, ErrNotStalled)
}

func TestResetClearsAbortedReview(t *testing.T) {
	h := newHarness(t, script{1: {"risk": "1. [CRITICAL] a"}}, nil)
	ctx := context.Background()
	loc := identity.Locator{Path: "docs/x.md"}
	req := ReviewRequest{Gate: gate.GateDesign, Locator: loc, MaxRounds: 1}

	_, err := h.engine.Reset(ctx, gate.GateDesign, loc)
	assert.ErrorIs(t, err, ErrNotAborted, "nothing to reset")

	out, err := h.engine.Review(ctx, req)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeStalled, out.Kind)
	_, err = h.engine.Reset(ctx, gate.GateDesign, loc)
	assert.ErrorIs(t, err, ErrNotAborted, "stalled reviews are resolved, not reset")

	_, err = h.engine.Resolve(ctx, out.Key, Resolution{Action: ActionAbort})
	require.NoError(t, err)

	rec, err := h.engine.Reset(ctx, gate.GateDesign, loc)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAborted, rec.Status)
	_, err = h.store.Load(ctx, out.Key)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	again, err := h.engine.Review(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Round)
}

func TestResolveRequiresStalled(t *testing.T) {
	h := newHarness(t, script{1: {"tests": "1. [IMPORTANT] gap"}}, nil)
	ctx := context.Background()
	out, err := h.engine.Review(ctx, prCode)
	require.NoError(t, err)

	_, err = h.engine.Resolve(ctx, out.Key, Resolution{Action: ActionAccept})
	assert.ErrorIs(t, err, ErrReentryViolation, "a fix is pending")
	_, err = h.engine.Resolve(ctx, "pr-code--nothing", Resolution{Action: ActionAccept})
	assert.ErrorIs(t, err, ErrNotStalled)
	_, err = h.engine.Escalate(ctx, out, nil)
	assert.ErrorIs(t, err, ErrNotStalled)
}

func TestRunRaisesThenAccepts(t *testing.T) {
	blocking := map[string]string{"tests": "1. [IMPORTANT] still untested"}
	h := newHarness(t, script{1: blocking, 2: blocking, 3: blocking}, nil)
	choices := []Resolution{{Action: ActionRaise, MaxRounds: 3}, {Action: ActionAccept}}
	var kinds []types.OutcomeKind

	out, err := h.engine.Run(context.Background(), ReviewRequest{Gate: gate.GatePRCode, MaxRounds: 2}, Loop{
		Fixer: FixerFunc(func(context.Context, *types.Outcome) error { return nil }),
		Escalator: EscalatorFunc(func(context.Context, *types.Outcome) (Resolution, error) {
			c := choices[0]
			choices = choices[1:]
			return c, nil
		}),
		OnOutcome: func(o *types.Outcome) { kinds = append(kinds, o.Kind) },
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeAcceptedWithExceptions, out.Kind)
	assert.Equal(t, []types.OutcomeKind{
		types.OutcomeNotConverged,
		types.OutcomeStalled,
		types.OutcomeLimitRaised,
		types.OutcomeStalled,
		types.OutcomeAcceptedWithExceptions,
	}, kinds)
	assert.Len(t, out.History, 3)
}

func TestTimedOutWorkerFallsBackInline(t *testing.T) {
	reg := gate.NewRegistry()
	require.NoError(t, gate.RegisterBuiltinGates(reg))
	worker := dispatch.ExecutorFunc(func(ctx context.Context, task dispatch.Task) (string, error) {
		if task.Perspective.ID == "security" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "No findings.", nil
	})
	inline := dispatch.ExecutorFunc(func(ctx context.Context, task dispatch.Task) (string, error) {
		if task.Perspective.ID == "security" {
			return "1. [CRITICAL] secret committed", nil
		}
		return "No findings.", nil
	})
	e := New(reg, identity.NewResolver(fakeBranch("main")), memory.New(), staticContent("diff"),
		dispatch.New(worker, inline, 20*time.Millisecond))

	out, err := e.Review(context.Background(), prCode)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNotConverged, out.Kind)
	assert.Equal(t, 1, out.Summary.TotalCritical)
	var sec types.PerspectiveCount
	for _, p := range out.History[0].Perspectives {
		if p.PerspectiveID == "security" {
			sec = p
		}
	}
	assert.True(t, sec.FellBack)
	assert.Equal(t, 1, sec.Critical)
}

func TestReviewErrors(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.engine.Review(ctx, ReviewRequest{Gate: "nope"})
	assert.ErrorIs(t, err, gate.ErrUnknownGate)

	_, err = h.engine.Review(ctx, ReviewRequest{Gate: gate.GateDesign})
	assert.ErrorIs(t, err, identity.ErrArtifactUnresolvable)

	reg := gate.NewRegistry()
	require.NoError(t, gate.RegisterBuiltinGates(reg))
	detached := New(reg, identity.NewResolver(fakeBranch("")), memory.New(), staticContent(""), dispatch.New(nil, nil, time.Second))
	_, err = detached.Review(ctx, prCode)
	assert.ErrorIs(t, err, identity.ErrArtifactUnresolvable)
}

func TestSameBranchSameRecordAcrossEngines(t *testing.T) {
	store := memory.New()
	first := newHarness(t, script{1: {"tests": "1. [IMPORTANT] gap"}}, store)
	out1, err := first.engine.Review(context.Background(), prCode)
	require.NoError(t, err)

	second := newHarness(t, nil, store)
	out2, err := second.engine.Review(context.Background(), prCode)
	require.NoError(t, err)
	assert.Equal(t, out1.Key, out2.Key)
	assert.Equal(t, 2, out2.Round)
}

func TestStalledReloadsEscalationOutcome(t *testing.T) {
	h := newHarness(t, script{1: {"risk": "1. [CRITICAL] a\n2. [SUGGESTION] b"}}, nil)
	ctx := context.Background()
	loc := identity.Locator{Path: "docs/x.md"}

	_, err := h.engine.Stalled(ctx, gate.GateDesign, loc)
	assert.ErrorIs(t, err, ErrNotStalled, "no record yet")

	out, err := h.engine.Review(ctx, ReviewRequest{Gate: gate.GateDesign, Locator: loc, MaxRounds: 1})
	require.NoError(t, err)
	require.Equal(t, types.OutcomeStalled, out.Kind)

	// A later process only knows the gate and the locator.
	other := New(gateCatalog(t), identity.NewResolver(fakeBranch("")), h.store, staticContent(""), dispatch.New(nil, nil, time.Second))
	stalled, err := other.Stalled(ctx, gate.GateDesign, loc)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeStalled, stalled.Kind)
	assert.Equal(t, out.Key, stalled.Key)
	assert.Equal(t, types.Remaining{Critical: 1, Suggestion: 1}, *stalled.Remaining)
	assert.True(t, stalled.NeedsEscalation())
}

func gateCatalog(t *testing.T) *gate.Registry {
	t.Helper()
	reg := gate.NewRegistry()
	require.NoError(t, gate.RegisterBuiltinGates(reg))
	return reg
}
