package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"quotaguard/internal/models"
	"quotaguard/internal/storage"
)

// InstrumentedStorage decorates a storage.Storage with spans, a latency
// histogram and an error counter per operation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// NewInstrumentedStorage wraps inner. Instruments come from mp, or from the
// global meter provider when mp is nil.
func NewInstrumentedStorage(inner storage.Storage, mp metric.MeterProvider) (*InstrumentedStorage, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("quotaguard/storage")

	duration, err := meter.Float64Histogram(
		"quotaguard.storage.operation.duration",
		metric.WithDescription("Duration of cache storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"quotaguard.storage.operation.errors",
		metric.WithDescription("Number of cache storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   otel.Tracer("quotaguard/storage"),
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (s *InstrumentedStorage) Load(ctx context.Context, taskID string) (*models.CacheEntry, error) {
	ctx, span := s.startSpan(ctx, "Load", attribute.String("task_id", taskID))
	start := time.Now()
	entry, err := s.inner.Load(ctx, taskID)
	s.record(ctx, span, "Load", start, err)
	return entry, err
}

func (s *InstrumentedStorage) Save(ctx context.Context, entry *models.CacheEntry) error {
	ctx, span := s.startSpan(ctx, "Save",
		attribute.String("task_id", entry.TaskID),
		attribute.Int("payload_bytes", len(entry.Payload)),
	)
	start := time.Now()
	err := s.inner.Save(ctx, entry)
	s.record(ctx, span, "Save", start, err)
	return err
}

func (s *InstrumentedStorage) Delete(ctx context.Context, taskID string) error {
	ctx, span := s.startSpan(ctx, "Delete", attribute.String("task_id", taskID))
	start := time.Now()
	err := s.inner.Delete(ctx, taskID)
	s.record(ctx, span, "Delete", start, err)
	return err
}

func (s *InstrumentedStorage) List(ctx context.Context) ([]*models.CacheEntry, error) {
	ctx, span := s.startSpan(ctx, "List")
	start := time.Now()
	entries, err := s.inner.List(ctx)
	span.SetAttributes(attribute.Int("entries", len(entries)))
	s.record(ctx, span, "List", start, err)
	return entries, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
