package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
)

const storageScopeName = "github.com/steveyegge/converge/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in converge.store.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s)
}

func newInstrumentedStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("converge.store.operations",
		metric.WithDescription("Total record store operations executed"),
	)
	dur, _ := m.Float64Histogram("converge.store.operation.duration",
		metric.WithDescription("Record store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("converge.store.errors",
		metric.WithDescription("Total record store operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Unwrap returns the underlying store.
func (s *InstrumentedStore) Unwrap() storage.Store {
	return s.inner
}

// op starts a span and records a metric for the named store operation.
func (s *InstrumentedStore) op(ctx context.Context, name, key string) (context.Context, trace.Span, time.Time, []attribute.KeyValue) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", name),
		attribute.String("converge.storage_key", key),
	}
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(attrs[0]))
	return ctx, span, time.Now(), attrs
}

// done ends the span, records duration and optional error.
// ErrNotFound is an expected answer, not a failure.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs[0]))
	if err != nil && !isNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs[0]))
	}
	span.End()
}

func (s *InstrumentedStore) Load(ctx context.Context, key string) (*types.Record, error) {
	ctx, span, t, attrs := s.op(ctx, "Load", key)
	rec, err := s.inner.Load(ctx, key)
	s.done(ctx, span, t, err, attrs)
	return rec, err
}

func (s *InstrumentedStore) Create(ctx context.Context, key string, rec *types.Record) error {
	ctx, span, t, attrs := s.op(ctx, "Create", key)
	err := s.inner.Create(ctx, key, rec)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) Update(ctx context.Context, key string, fn storage.Mutator) (*types.Record, error) {
	ctx, span, t, attrs := s.op(ctx, "Update", key)
	rec, err := s.inner.Update(ctx, key, fn)
	if rec != nil {
		span.SetAttributes(
			attribute.Int("converge.round", rec.Round),
			attribute.String("converge.status", string(rec.Status)),
		)
	}
	s.done(ctx, span, t, err, attrs)
	return rec, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	ctx, span, t, attrs := s.op(ctx, "Delete", key)
	err := s.inner.Delete(ctx, key)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context) ([]storage.Entry, error) {
	ctx, span, t, attrs := s.op(ctx, "List", "")
	entries, err := s.inner.List(ctx)
	span.SetAttributes(attribute.Int("converge.record.count", len(entries)))
	s.done(ctx, span, t, err, attrs)
	return entries, err
}

func (s *InstrumentedStore) Archive(ctx context.Context, key string, rec *types.Record) error {
	ctx, span, t, attrs := s.op(ctx, "Archive", key)
	err := s.inner.Archive(ctx, key, rec)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
