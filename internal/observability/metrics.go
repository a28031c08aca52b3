package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsServer serves the Prometheus registry on its own port.
type MetricsServer struct {
	server *http.Server
	logger *slog.Logger
}

// NewMetricsServer exposes the provider registry at path. A nil provider, or
// one with metrics disabled, yields a server that answers 404 everywhere.
func NewMetricsServer(port int, path string, provider *Provider, logger *slog.Logger) *MetricsServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	if gatherer := provider.Gatherer(); gatherer != nil {
		mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler is the underlying mux, used by tests.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start blocks serving metrics. Returns http.ErrServerClosed after Shutdown.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Cache lookup outcomes reported by RecordLookup.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupStale = "stale"
	LookupError = "error"
)

// GaugeSnapshot is the throttler state sampled on every collection.
type GaugeSnapshot struct {
	DefaultReads   int64
	RemainingReads int64
	Delay          time.Duration
	Suspended      bool
	TaskTimeouts   map[string]time.Duration
}

// GaugeSource is polled by the observable gauges of ThrottlerMetrics.
type GaugeSource interface {
	Gauges() GaugeSnapshot
}

// ThrottlerMetrics records remote call traffic, cache lookups and flow
// transitions. It implements the provider call observer.
type ThrottlerMetrics struct {
	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	lookups         metric.Int64Counter
	rejections      metric.Int64Counter
	recoveries      metric.Int64Counter
	meter           metric.Meter
	registration    metric.Registration
}

// NewThrottlerMetrics creates the instruments on mp.
func NewThrottlerMetrics(mp metric.MeterProvider) (*ThrottlerMetrics, error) {
	meter := mp.Meter("quotaguard/throttler")
	m := &ThrottlerMetrics{meter: meter}

	var err error
	if m.requests, err = meter.Int64Counter(
		"quotaguard.provider.requests",
		metric.WithDescription("Remote read requests by response status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram(
		"quotaguard.provider.request.duration",
		metric.WithDescription("Latency of remote read requests in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.lookups, err = meter.Int64Counter(
		"quotaguard.task.lookups",
		metric.WithDescription("Task value lookups by outcome"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter(
		"quotaguard.throttler.rejections",
		metric.WithDescription("Times the provider rejected a request for exceeding the quota"),
	); err != nil {
		return nil, err
	}
	if m.recoveries, err = meter.Int64Counter(
		"quotaguard.throttler.recoveries",
		metric.WithDescription("Times the throttler returned to the normal flow"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveCall records one completed remote request. Status 0 means the
// request failed before a response arrived.
func (m *ThrottlerMetrics) ObserveCall(ctx context.Context, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status_code", strconv.Itoa(status)))
	m.requests.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *ThrottlerMetrics) RecordLookup(ctx context.Context, taskID, outcome string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", taskID),
		attribute.String("outcome", outcome),
	))
}

func (m *ThrottlerMetrics) RecordRejection(ctx context.Context) {
	m.rejections.Add(ctx, 1)
}

func (m *ThrottlerMetrics) RecordRecovery(ctx context.Context) {
	m.recoveries.Add(ctx, 1)
}

// RegisterGauges polls source on every collection. Calling it again replaces
// the previous source.
func (m *ThrottlerMetrics) RegisterGauges(source GaugeSource) error {
	remaining, err := m.meter.Int64ObservableGauge(
		"quotaguard.throttler.remaining_reads",
		metric.WithDescription("Reads left in the current quota window"),
	)
	if err != nil {
		return err
	}
	defaults, err := m.meter.Int64ObservableGauge(
		"quotaguard.throttler.default_reads",
		metric.WithDescription("Reads granted per quota window"),
	)
	if err != nil {
		return err
	}
	suspended, err := m.meter.Int64ObservableGauge(
		"quotaguard.throttler.suspended",
		metric.WithDescription("1 while the throttler is in the suspended flow"),
	)
	if err != nil {
		return err
	}
	delay, err := m.meter.Float64ObservableGauge(
		"quotaguard.throttler.delay",
		metric.WithDescription("Delay applied before each remote request"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	timeouts, err := m.meter.Float64ObservableGauge(
		"quotaguard.task.timeout",
		metric.WithDescription("Cache extension granted to each task by the throttler"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.Gauges()
		o.ObserveInt64(remaining, snap.RemainingReads)
		o.ObserveInt64(defaults, snap.DefaultReads)
		var s int64
		if snap.Suspended {
			s = 1
		}
		o.ObserveInt64(suspended, s)
		o.ObserveFloat64(delay, snap.Delay.Seconds())
		for id, timeout := range snap.TaskTimeouts {
			o.ObserveFloat64(timeouts, timeout.Seconds(), metric.WithAttributes(attribute.String("task", id)))
		}
		return nil
	}, remaining, defaults, suspended, delay, timeouts)
	if err != nil {
		return err
	}

	if m.registration != nil {
		if err := m.registration.Unregister(); err != nil {
			return err
		}
	}
	m.registration = reg
	return nil
}
