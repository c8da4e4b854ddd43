// Package metrics exposes the bridge's Prometheus collectors and the optional
// scrape server.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "elastic_hive_sync"

// Metrics holds all collectors on a private registry so that several
// instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	alertsFetched   prometheus.Counter
	alertsForwarded *prometheus.CounterVec
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	processedIDs    prometheus.Gauge
	lastSuccessTS   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.alertsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_fetched_total",
		Help:      "Alerts returned by Elasticsearch searches",
	})
	m.alertsForwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_forwarded_total",
		Help:      "Submissions to TheHive by outcome",
	}, []string{"outcome"})
	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Sync cycles by result (ok, partial, fetch_error, panic)",
	}, []string{"result"})
	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one fetch-and-forward cycle",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	m.processedIDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "processed_ids",
		Help:      "Size of the processed ID set",
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last cycle without errors",
	})

	m.registry.MustRegister(
		m.alertsFetched, m.alertsForwarded, m.cycles,
		m.cycleDuration, m.processedIDs, m.lastSuccessTS,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) AddFetched(n int) { m.alertsFetched.Add(float64(n)) }

func (m *Metrics) IncForwarded(outcome string) { m.alertsForwarded.WithLabelValues(outcome).Inc() }

// ObserveCycle records one finished cycle. result "ok" also bumps the
// last-success timestamp.
func (m *Metrics) ObserveCycle(result string, d time.Duration, end time.Time) {
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
	if result == "ok" {
		m.lastSuccessTS.Set(float64(end.Unix()))
	}
}

func (m *Metrics) SetProcessed(n int) { m.processedIDs.Set(float64(n)) }

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type Server struct {
	server *http.Server
}

func NewServer(addr string, m *Metrics) *Server {
	return &Server{server: &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Serve blocks until Shutdown; a clean shutdown returns nil.
func (s *Server) Serve() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(l net.Listener) error {
	err := s.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Addr() string { return s.server.Addr }

func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
