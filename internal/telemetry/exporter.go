// Package telemetry exposes live run metrics to Prometheus while a run is in
// progress. The exporter is fed through the collector's Observer hook.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/limitprobe/internal/contract"
	"github.com/torosent/limitprobe/internal/metrics"
)

const namespace = "limitprobe"

var _ metrics.Observer = (*Exporter)(nil)

// Exporter translates recorded outcomes into Prometheus series.
type Exporter struct {
	gatherer prometheus.Gatherer

	requests  *prometheus.CounterVec
	violation *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	abandoned *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewExporter registers the limitprobe series on a private registry.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Exporter{
		gatherer: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Classified responses by scenario and outcome",
			},
			[]string{"scenario", "outcome"},
		),
		violation: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contract_violations_total",
				Help:      "Response contract violations by scenario and kind",
			},
			[]string{"scenario", "violation"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_iterations_total",
				Help:      "Arrival-rate iterations dropped for lack of a free worker",
			},
			[]string{"scenario"},
		),
		abandoned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "abandoned_requests_total",
				Help:      "Requests still in flight when their grace period expired",
			},
			[]string{"scenario"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request latency by scenario and outcome",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"scenario", "outcome"},
		),
	}
}

func (e *Exporter) ObserveOutcome(scenario string, o contract.Outcome) {
	kind := o.Kind.String()
	e.requests.WithLabelValues(scenario, kind).Inc()
	e.latency.WithLabelValues(scenario, kind).Observe(o.Latency.Seconds())
	for _, v := range o.Violations {
		e.violation.WithLabelValues(scenario, string(v)).Inc()
	}
}

func (e *Exporter) ObserveDropped(scenario string) {
	e.dropped.WithLabelValues(scenario).Inc()
}

func (e *Exporter) ObserveAbandoned(scenario string) {
	e.abandoned.WithLabelValues(scenario).Inc()
}

// Gatherer exposes the private registry, mainly for tests.
func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.gatherer
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{DisableCompression: true})
}

// Server is a running /metrics endpoint.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *zap.Logger
}

// Serve starts serving /metrics on addr in the background.
func Serve(addr string, e *Exporter, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
		log: log,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
