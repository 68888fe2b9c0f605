package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const reviewScopeName = "github.com/steveyegge/converge/review"

// ReviewMetrics records round and perspective measurements. The zero value
// from NewReviewMetrics is safe to use when telemetry is disabled: the global
// meter provider is then a no-op.
type ReviewMetrics struct {
	rounds   metric.Int64Counter
	duration metric.Float64Histogram
	timeouts metric.Int64Counter
	findings metric.Int64Counter
}

// NewReviewMetrics creates the review instruments on the global meter.
func NewReviewMetrics() *ReviewMetrics {
	m := Meter(reviewScopeName)
	rounds, _ := m.Int64Counter("converge.rounds",
		metric.WithDescription("Review rounds completed, by gate and outcome"),
	)
	duration, _ := m.Float64Histogram("converge.perspective.duration",
		metric.WithDescription("Wall time of one perspective in one round"),
		metric.WithUnit("ms"),
	)
	timeouts, _ := m.Int64Counter("converge.perspective.timeouts",
		metric.WithDescription("WORKER perspectives that timed out and fell back to INLINE"),
	)
	findings, _ := m.Int64Counter("converge.findings",
		metric.WithDescription("Findings parsed from perspective output, by severity"),
	)
	return &ReviewMetrics{rounds: rounds, duration: duration, timeouts: timeouts, findings: findings}
}

// Round records one completed round.
func (r *ReviewMetrics) Round(ctx context.Context, gate, outcome string) {
	if r == nil || r.rounds == nil {
		return
	}
	r.rounds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("converge.gate", gate),
		attribute.String("converge.outcome", outcome),
	))
}

// Perspective records one perspective execution.
func (r *ReviewMetrics) Perspective(ctx context.Context, gate, perspective, mode string, d time.Duration, timedOut bool) {
	if r == nil || r.duration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("converge.gate", gate),
		attribute.String("converge.perspective", perspective),
		attribute.String("converge.mode", mode),
	)
	r.duration.Record(ctx, float64(d.Milliseconds()), attrs)
	if timedOut {
		r.timeouts.Add(ctx, 1, attrs)
	}
}

// Findings records n findings of one severity.
func (r *ReviewMetrics) Findings(ctx context.Context, gate, severity string, n int) {
	if r == nil || r.findings == nil || n == 0 {
		return
	}
	r.findings.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("converge.gate", gate),
		attribute.String("converge.severity", severity),
	))
}
