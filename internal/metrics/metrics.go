// Package metrics exposes monitor counters and gauges in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/doorbell-monitor/internal/logger"
)

const (
	namespace = "doorbell"

	// Result label values of NotificationsTotal.
	ResultSent   = "sent"
	ResultFailed = "failed"

	// Kind label values of CaptureFaultsTotal.
	FaultTransient = "transient"
	FaultFatal     = "fatal"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Metrics holds the collectors of one monitor run.
type Metrics struct {
	registry *prometheus.Registry

	chunksTotal        prometheus.Counter
	captureFaultsTotal *prometheus.CounterVec
	detectionsTotal    *prometheus.CounterVec
	bandMagnitude      *prometheus.GaugeVec
	suppressed         prometheus.Gauge
	notificationsTotal *prometheus.CounterVec
	inflight           prometheus.Gauge
	deliverySeconds    *prometheus.HistogramVec
}

// New registers all collectors on registry. A nil registry gets a fresh one
// with the Go and process collectors attached.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		chunksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_processed_total",
			Help:      "Audio chunks evaluated by the detector.",
		}),
		captureFaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_faults_total",
			Help:      "Capture read faults by kind.",
		}, []string{"kind"}),
		detectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Doorbell detections by band.",
		}, []string{"band", "label"}),
		bandMagnitude: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "band_magnitude",
			Help:      "Latest smoothed magnitude per band.",
		}, []string{"band", "label"}),
		suppressed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "suppressed",
			Help:      "1 while detection is suppressed by the cooldown.",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by transport and result.",
		}, []string{"transport", "result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_inflight",
			Help:      "Dispatches that have not finished all deliveries.",
		}),
		deliverySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_delivery_seconds",
			Help:      "Delivery latency by transport.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport"}),
	}

	registry.MustRegister(
		m.chunksTotal,
		m.captureFaultsTotal,
		m.detectionsTotal,
		m.bandMagnitude,
		m.suppressed,
		m.notificationsTotal,
		m.inflight,
		m.deliverySeconds,
	)

	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ChunkProcessed records one evaluated chunk and its band magnitudes.
func (m *Metrics) ChunkProcessed(labels []string, magnitudes []float64) {
	m.chunksTotal.Inc()

	for i, v := range magnitudes {
		if i < len(labels) {
			m.bandMagnitude.WithLabelValues(strconv.Itoa(i), labels[i]).Set(v)
		}
	}
}

// CaptureFault records a transient or fatal capture fault.
func (m *Metrics) CaptureFault(kind string) {
	m.captureFaultsTotal.WithLabelValues(kind).Inc()
}

// Detection records a fired band.
func (m *Metrics) Detection(band int, label string) {
	m.detectionsTotal.WithLabelValues(strconv.Itoa(band), label).Inc()
}

// SetSuppressed mirrors the alarm state.
func (m *Metrics) SetSuppressed(suppressed bool) {
	if suppressed {
		m.suppressed.Set(1)
		return
	}

	m.suppressed.Set(0)
}

// DispatchStarted and DispatchFinished track in-flight dispatches.
func (m *Metrics) DispatchStarted() { m.inflight.Inc() }

// DispatchFinished marks a dispatch whose deliveries all returned.
func (m *Metrics) DispatchFinished() { m.inflight.Dec() }

// Delivery records the outcome of one transport delivery.
func (m *Metrics) Delivery(transport string, elapsed time.Duration, err error) {
	result := ResultSent
	if err != nil {
		result = ResultFailed
	}

	m.notificationsTotal.WithLabelValues(transport, result).Inc()
	m.deliverySeconds.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// Serve exposes /metrics on addr until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	logger.InfoKV(ctx, "Metrics listening", "listen_address", lis.Addr().String())

	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WarnKV(ctx, "Metrics shutdown failed", "error", err)
		}
	}()

	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}

	<-done

	return nil
}
