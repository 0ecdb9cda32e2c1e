// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// Registry owns the service collectors. Progress metrics live in the
// Prometheus progress sink and register with the same Registerer.
type Registry struct {
	reg prometheus.Registerer

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	pacerWaitSeconds           *prometheus.HistogramVec
}

// New registers the HTTP and politeness collectors with reg.
func New(reg prometheus.Registerer) (*Registry, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Registry{
		reg: reg,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
		pacerWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_pacer_wait_seconds",
				Help:    "Time a lane waited for politeness delay and the shared rate limit.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"lane"},
		),
	}
	for _, c := range []prometheus.Collector{r.httpRequestsTotal, r.httpRequestDurationSeconds, r.pacerWaitSeconds} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return r, nil
}

// Registerer returns the registerer the collectors were added to.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// ObserveHTTPRequest records one served request.
func (r *Registry) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePacerWait matches probe.PacerConfig.OnWait.
func (r *Registry) ObservePacerWait(lane int, waited time.Duration) {
	r.pacerWaitSeconds.WithLabelValues(strconv.Itoa(lane)).Observe(waited.Seconds())
}

// StatsSource is the part of a cache the entries collector reads.
type StatsSource interface {
	Stats(ctx context.Context) (map[discovery.Status]int64, error)
}

// RegisterCacheStats adds a gauge of cache entries by status, computed on
// each scrape.
func (r *Registry) RegisterCacheStats(src StatsSource, timeout time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &cacheStatsCollector{
		src:     src,
		timeout: timeout,
		logger:  logger,
		desc: prometheus.NewDesc(
			"discovery_cache_entries",
			"Discovery cache entries by status.",
			[]string{"status"}, nil,
		),
	}
	if err := r.reg.Register(c); err != nil {
		return fmt.Errorf("register cache stats: %w", err)
	}
	return nil
}

// HitCounter reports look-aside hits and misses.
type HitCounter interface {
	HitCounts() (hits, misses uint64)
}

// RegisterLookaside exposes look-aside hit and miss totals.
func (r *Registry) RegisterLookaside(src HitCounter) error {
	hits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "discovery_lookaside_hits_total",
		Help: "Cache lookups answered by the look-aside tier.",
	}, func() float64 {
		h, _ := src.HitCounts()
		return float64(h)
	})
	misses := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "discovery_lookaside_misses_total",
		Help: "Cache lookups that fell through to the backing store.",
	}, func() float64 {
		_, m := src.HitCounts()
		return float64(m)
	})
	for _, c := range []prometheus.Collector{hits, misses} {
		if err := r.reg.Register(c); err != nil {
			return fmt.Errorf("register lookaside metrics: %w", err)
		}
	}
	return nil
}

type cacheStatsCollector struct {
	src     StatsSource
	timeout time.Duration
	logger  *zap.Logger
	desc    *prometheus.Desc
}

func (c *cacheStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *cacheStatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	stats, err := c.src.Stats(ctx)
	if err != nil {
		c.logger.Warn("cache stats scrape failed", zap.Error(err))
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for _, s := range []discovery.Status{
		discovery.StatusUnresolved, discovery.StatusConfirmedExists,
		discovery.StatusConfirmedAbsent, discovery.StatusTransientError,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(stats[s]), string(s))
	}
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
