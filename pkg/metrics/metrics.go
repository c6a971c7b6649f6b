// Package metrics exposes engine counters to Prometheus. A nil *Metrics is
// valid and records nothing, so components can run without instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "likegrab"

// Metrics holds the engine's collectors
type Metrics struct {
	registry *prometheus.Registry

	resolutions      *prometheus.CounterVec
	strategyCalls    *prometheus.CounterVec
	strategyStops    *prometheus.CounterVec
	downloads        *prometheus.CounterVec
	downloadBytes    prometheus.Counter
	downloadDuration *prometheus.HistogramVec
	dedupHits        prometheus.Counter
	retries          *prometheus.CounterVec
	inFlight         prometheus.Gauge
}

// New creates the collectors and registers them on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Post resolution outcomes by strategy.",
			},
			[]string{"strategy", "outcome"},
		),
		strategyCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_calls_total",
				Help:      "Lookup calls issued per resolution strategy, retries included.",
			},
			[]string{"strategy"},
		),
		strategyStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_stops_total",
				Help:      "Times a strategy was abandoned before finishing its ids.",
			},
			[]string{"strategy", "reason"},
		),
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Media download outcomes by status.",
			},
			[]string{"status"},
		),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes fetched from media hosts.",
		}),
		downloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Time to fetch one media item, retries included.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Downloads whose content matched an already stored file.",
		}),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retry attempts by component.",
			},
			[]string{"component"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_flight",
			Help:      "Downloads currently being fetched.",
		}),
	}

	m.registry.MustRegister(
		m.resolutions, m.strategyCalls, m.strategyStops,
		m.downloads, m.downloadBytes, m.downloadDuration,
		m.dedupHits, m.retries, m.inFlight,
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Resolution(strategy, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) StrategyCall(strategy string) {
	if m == nil {
		return
	}
	m.strategyCalls.WithLabelValues(strategy).Inc()
}

func (m *Metrics) StrategyStopped(strategy, reason string) {
	if m == nil {
		return
	}
	m.strategyStops.WithLabelValues(strategy, reason).Inc()
}

func (m *Metrics) Download(status string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(status).Inc()
	if bytes > 0 {
		m.downloadBytes.Add(float64(bytes))
	}
	if d > 0 {
		m.downloadDuration.WithLabelValues(status).Observe(d.Seconds())
	}
}

func (m *Metrics) DedupHit() {
	if m == nil {
		return
	}
	m.dedupHits.Inc()
}

func (m *Metrics) Retry(component string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(component).Inc()
}

// FetchStarted and FetchDone track in-flight downloads
func (m *Metrics) FetchStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) FetchDone() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
