package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/competition-discovery/internal/progress"
)

// PrometheusSink turns progress events into run and probe metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	probes        *prometheus.CounterVec
	probeBytes    prometheus.Counter
	probeDuration *prometheus.HistogramVec

	mu     sync.Mutex
	active map[string]struct{}
}

// NewPrometheusSink registers its collectors with reg (default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discovery_runs_completed_total",
			Help: "Crawl runs finished, by final session state.",
		}, []string{"state"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discovery_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discovery_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 21600},
		}, []string{"state"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discovery_probes_total",
			Help: "Completed probes by outcome status and HTTP status code.",
		}, []string{"status", "code"}),
		probeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_probe_bytes_total",
			Help: "Response bytes read by probes.",
		}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discovery_probe_duration_seconds",
			Help:    "Probe round-trip time by outcome status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status"}),
		active: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsActive, s.runDuration,
		s.probes, s.probeBytes, s.probeDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.SessionID, true) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			state := string(evt.State)
			s.runsCompleted.WithLabelValues(state).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(state).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.SessionID, false) {
				s.runsActive.Dec()
			}
		case progress.StageProbeDone:
			code := "none"
			if evt.HTTPStatus > 0 {
				code = strconv.Itoa(evt.HTTPStatus)
			}
			s.probes.WithLabelValues(string(evt.Status), code).Inc()
			if evt.Bytes > 0 {
				s.probeBytes.Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.probeDuration.WithLabelValues(string(evt.Status)).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// track records a session as active (start) or finished and reports whether
// the set changed.
func (s *PrometheusSink) track(id string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	if start {
		if ok {
			return false
		}
		s.active[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.active, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
