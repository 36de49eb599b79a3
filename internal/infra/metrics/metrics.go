package metrics

// Prometheus collectors for the address monitors.
// Metrics implements watcher.Recorder, so the watcher package stays free of
// any prometheus import.

import (
	"context"
	"errors"
	"net/http"
	"time"

	logging "kol-monitor/internal/infra/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	namespace       = "kol_monitor"
	endpointMetrics = "/metrics"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	rpcErrors      *prometheus.CounterVec
	rotations      *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	signaturesSeen *prometheus.CounterVec
	activeMonitors prometheus.Gauge
	probes         *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Failed signature fetches, by endpoint.",
		}, []string{"endpoint"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_rotations_total",
			Help:      "Endpoint pool rotations, by the endpoint rotated to.",
		}, []string{"endpoint"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications dispatched to the sink, by address and result.",
		}, []string{"address", "result"}),
		signaturesSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_signatures_total",
			Help:      "Signatures recorded as new in the ledger, by address.",
		}, []string{"address"}),
		activeMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_monitors",
			Help:      "Address monitors currently running.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_probes_total",
			Help:      "Endpoint pool liveness probes, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.rpcErrors, m.rotations, m.notifications, m.signaturesSeen, m.activeMonitors, m.probes)
	return m
}

func (m *Metrics) RPCError(endpoint string) {
	m.rpcErrors.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) Rotated(endpoint string) {
	m.rotations.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) NewSignature(address string) {
	m.signaturesSeen.WithLabelValues(address).Inc()
}

func (m *Metrics) Notified(address string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(address, result).Inc()
}

func (m *Metrics) MonitorsActive(n int) {
	m.activeMonitors.Set(float64(n))
}

func (m *Metrics) Probed(reachable bool) {
	result := "reachable"
	if !reachable {
		result = "unreachable"
	}
	m.probes.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve blocks serving /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(endpointMetrics, m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.LogInfo("Serving metrics", zap.String("addr", addr), zap.String("path", endpointMetrics))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
