package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/types"
)

func testGate() *gate.Gate {
	return &gate.Gate{
		ID:           "pr-code",
		ArtifactKind: types.ArtifactDiffByBranch,
		Perspectives: []gate.Perspective{
			{ID: "correctness", Payload: "c", Mode: types.ModeWorker},
			{ID: "security", Payload: "s", Mode: types.ModeWorker},
			{ID: "conventions", Payload: "v", Mode: types.ModeInline},
			{ID: "tests", Payload: "t", Mode: types.ModeWorker},
		},
	}
}

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recorder) record(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[id]++
}

func TestRunReturnsCatalogOrder(t *testing.T) {
	var rec recorder
	exec := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		rec.record(task.Perspective.ID)
		// Finish in reverse order of the catalog.
		if task.Perspective.ID == "correctness" {
			time.Sleep(20 * time.Millisecond)
		}
		return "report from " + task.Perspective.ID, nil
	})
	d := New(exec, nil, time.Second)

	outs, err := d.Run(context.Background(), testGate(), "diff", 1)
	require.NoError(t, err)
	require.Len(t, outs, 4)
	for i, p := range testGate().Perspectives {
		assert.Equal(t, p.ID, outs[i].PerspectiveID)
		assert.Equal(t, "report from "+p.ID, outs[i].Text)
		assert.Equal(t, p.Mode, outs[i].Mode)
		assert.False(t, outs[i].FellBack)
	}
}

func TestRunDispatchesFullCatalogEveryRound(t *testing.T) {
	var rec recorder
	exec := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		rec.record(task.Perspective.ID)
		return "No findings.", nil
	})
	d := New(exec, exec, time.Second)
	for round := 1; round <= 3; round++ {
		outs, err := d.Run(context.Background(), testGate(), "diff", round)
		require.NoError(t, err)
		assert.Len(t, outs, 4)
	}
	for _, p := range testGate().Perspectives {
		assert.Equal(t, 3, rec.calls[p.ID], p.ID)
	}
}

func TestRunTimeoutFallsBackInline(t *testing.T) {
	worker := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		if task.Perspective.ID == "security" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "No findings.", nil
	})
	var inlineCalls recorder
	inline := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		inlineCalls.record(task.Perspective.ID)
		return "1. [IMPORTANT] found inline", nil
	})

	g := testGate()
	g.Timeout = 30 * time.Millisecond
	outs, err := New(worker, inline, time.Hour).Run(context.Background(), g, "diff", 1)
	require.NoError(t, err)
	require.Len(t, outs, 4)

	sec := outs[1]
	assert.Equal(t, "security", sec.PerspectiveID)
	assert.True(t, sec.FellBack)
	assert.Equal(t, types.ModeInline, sec.Mode)
	assert.Empty(t, sec.Err)
	assert.Equal(t, "1. [IMPORTANT] found inline", sec.Text)

	assert.Equal(t, 1, inlineCalls.calls["security"])
	assert.Equal(t, 1, inlineCalls.calls["conventions"])
	assert.Zero(t, inlineCalls.calls["correctness"])
}

func TestRunTimeoutIgnoredByWorker(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	worker := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		if task.Perspective.ID == "security" {
			<-release
			return "late report", nil
		}
		return "No findings.", nil
	})
	inline := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		return "No findings.", nil
	})

	g := testGate()
	g.Timeout = 20 * time.Millisecond
	start := time.Now()
	outs, err := New(worker, inline, time.Hour).Run(context.Background(), g, "diff", 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	sec := outs[1]
	assert.True(t, sec.FellBack)
	assert.Equal(t, types.ModeInline, sec.Mode)
	assert.Equal(t, "No findings.", sec.Text)
}

func TestRunRecordsWorkerError(t *testing.T) {
	worker := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		if task.Perspective.ID == "tests" {
			return "", errors.New("exit status 2")
		}
		return "No findings.", nil
	})
	outs, err := New(worker, nil, time.Second).Run(context.Background(), testGate(), "diff", 1)
	require.NoError(t, err)
	assert.Equal(t, "exit status 2", outs[3].Err)
	assert.False(t, outs[3].FellBack)
	assert.True(t, outs[3].Failed())
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	_, err := New(exec, nil, time.Second).Run(ctx, testGate(), "diff", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunNoExecutor(t *testing.T) {
	_, err := (&Dispatcher{}).Run(context.Background(), testGate(), "diff", 1)
	assert.Error(t, err)
}

func TestRunConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	exec := ExecutorFunc(func(ctx context.Context, task Task) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "No findings.", nil
	})
	d := New(exec, ExecutorFunc(func(context.Context, Task) (string, error) { return "No findings.", nil }), time.Second)
	d.Concurrency = 1
	_, err := d.Run(context.Background(), testGate(), "diff", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, peak)
}
