// Package dispatch runs one review round: every perspective of a gate,
// WORKER perspectives concurrently under a timeout, INLINE perspectives in
// the calling goroutine, and timed-out WORKERs re-run INLINE before the
// round completes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/gate"
	"github.com/steveyegge/converge/internal/telemetry"
	"github.com/steveyegge/converge/internal/types"
)

// ErrPerspectiveTimeout marks a WORKER perspective that exceeded its deadline.
// It is recovered by the INLINE fallback and never reaches the caller.
var ErrPerspectiveTimeout = errors.New("perspective timed out")

// Task is one perspective's work for one round.
type Task struct {
	Gate        string
	Perspective gate.Perspective
	Artifact    string
	Round       int
}

// Executor runs a review task and returns the perspective's raw report.
type Executor interface {
	Execute(ctx context.Context, task Task) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task Task) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task Task) (string, error) {
	return f(ctx, task)
}

// Dispatcher runs rounds. Worker handles WORKER perspectives, Inline handles
// INLINE perspectives and timeout fallbacks; a nil Inline reuses Worker.
type Dispatcher struct {
	Worker      Executor
	Inline      Executor
	Timeout     time.Duration // default per-perspective WORKER timeout
	Concurrency int           // max WORKERs in flight; 0 means unlimited
	Metrics     *telemetry.ReviewMetrics
}

// New creates a dispatcher with the given executors and default timeout.
func New(worker, inline Executor, timeout time.Duration) *Dispatcher {
	return &Dispatcher{Worker: worker, Inline: inline, Timeout: timeout}
}

// Run dispatches every perspective of g against artifact and returns one
// RawOutput per perspective, in catalog order. Failures are recorded on the
// RawOutput; Run only returns an error when ctx is cancelled or no executor
// is configured.
func (d *Dispatcher) Run(ctx context.Context, g *gate.Gate, artifact string, round int) ([]types.RawOutput, error) {
	inline := d.Inline
	if inline == nil {
		inline = d.Worker
	}
	if inline == nil {
		return nil, fmt.Errorf("dispatch %s: no executor configured", g.ID)
	}
	worker := d.Worker
	if worker == nil {
		worker = inline
	}
	timeout := g.EffectiveTimeout(d.Timeout)

	outputs := make([]types.RawOutput, len(g.Perspectives))
	timedOut := make([]bool, len(g.Perspectives))

	var eg errgroup.Group
	if d.Concurrency > 0 {
		eg.SetLimit(d.Concurrency)
	}
	var inlineIdx []int
	for i, p := range g.Perspectives {
		task := Task{Gate: g.ID, Perspective: p, Artifact: artifact, Round: round}
		if p.Mode == types.ModeInline {
			inlineIdx = append(inlineIdx, i)
			continue
		}
		i := i
		eg.Go(func() error {
			outputs[i], timedOut[i] = d.runWorker(ctx, worker, task, timeout)
			return nil
		})
	}

	// INLINE perspectives run here while the workers are in flight.
	for _, i := range inlineIdx {
		task := Task{Gate: g.ID, Perspective: g.Perspectives[i], Artifact: artifact, Round: round}
		outputs[i] = d.runInline(ctx, inline, task, false)
	}

	_ = eg.Wait()

	// Timed-out workers are not skipped: each is re-run inline, one at a time.
	for i, to := range timedOut {
		if !to {
			continue
		}
		task := Task{Gate: g.ID, Perspective: g.Perspectives[i], Artifact: artifact, Round: round}
		debug.LogEvent("perspective.timeout", g.ID, fmt.Sprintf("round=%d perspective=%s timeout=%s fallback=inline", round, task.Perspective.ID, timeout))
		outputs[i] = d.runInline(ctx, inline, task, true)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dispatch %s round %d: %w", g.ID, round, err)
	}
	return outputs, nil
}

func (d *Dispatcher) runWorker(ctx context.Context, exec Executor, task Task, timeout time.Duration) (types.RawOutput, bool) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	// Buffered so an executor that ignores ctx can finish after we stop waiting.
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		text, err := exec.Execute(wctx, task)
		done <- result{text, err}
	}()

	var (
		text     string
		err      error
		timedOut bool
	)
	select {
	case r := <-done:
		text, err = r.text, r.err
		timedOut = err != nil && ctx.Err() == nil && errors.Is(wctx.Err(), context.DeadlineExceeded)
	case <-wctx.Done():
		// The deadline wins even if the worker reports later.
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			timedOut = true
		}
	}
	elapsed := time.Since(start)

	d.Metrics.Perspective(ctx, task.Gate, task.Perspective.ID, string(types.ModeWorker), elapsed, timedOut)
	if timedOut {
		debug.Logf("dispatch: %s/%s round %d: %v after %s\n", task.Gate, task.Perspective.ID, task.Round, ErrPerspectiveTimeout, elapsed)
		return types.RawOutput{}, true
	}

	out := types.RawOutput{
		PerspectiveID: task.Perspective.ID,
		Text:          text,
		Mode:          types.ModeWorker,
		Duration:      elapsed,
	}
	if err != nil {
		out.Err = err.Error()
		debug.LogEvent("perspective.failed", task.Gate, fmt.Sprintf("round=%d perspective=%s err=%v", task.Round, task.Perspective.ID, err))
	}
	return out, false
}

func (d *Dispatcher) runInline(ctx context.Context, exec Executor, task Task, fellBack bool) types.RawOutput {
	start := time.Now()
	text, err := exec.Execute(ctx, task)
	elapsed := time.Since(start)
	d.Metrics.Perspective(ctx, task.Gate, task.Perspective.ID, string(types.ModeInline), elapsed, false)

	out := types.RawOutput{
		PerspectiveID: task.Perspective.ID,
		Text:          text,
		Mode:          types.ModeInline,
		FellBack:      fellBack,
		Duration:      elapsed,
	}
	if err != nil {
		out.Err = err.Error()
		debug.LogEvent("perspective.failed", task.Gate, fmt.Sprintf("round=%d perspective=%s err=%v", task.Round, task.Perspective.ID, err))
	}
	return out
}
