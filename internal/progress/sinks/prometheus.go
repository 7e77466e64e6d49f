package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/activity-harvester/internal/progress"
)

// PrometheusSink exports harvest progress via Prometheus. It owns the run
// lifecycle collectors and the per-credential classification counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	events          *prometheus.CounterVec
	classifications *prometheus.CounterVec
	classifyLatency *prometheus.HistogramVec
	listings        *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Total harvest runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Total harvest runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_runs_running",
			Help: "Current number of running harvest runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_run_runtime_seconds",
			Help:    "Wall time per completed harvest run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 43200, 86400},
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_progress_events_total",
			Help: "Per-identifier progress events partitioned by credential and stage.",
		}, []string{"credential", "stage"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_classifications_total",
			Help: "Recorded classifications partitioned by credential and kind.",
		}, []string{"credential", "classification"}),
		classifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_classified_fetch_seconds",
			Help:    "Fetch duration of classified identifiers partitioned by kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"classification"}),
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_listings_total",
			Help: "Listings harvested alongside classifications, per credential.",
		}, []string{"credential"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.events,
		s.classifications,
		s.classifyLatency,
		s.listings,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	default:
		s.handleIdentifierEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleIdentifierEvent(evt progress.Event) {
	credential := evt.Credential
	if credential == "" {
		credential = "unknown"
	}
	s.events.WithLabelValues(credential, string(evt.Stage)).Inc()
	if evt.Stage != progress.StageClassified {
		return
	}
	s.classifications.WithLabelValues(credential, evt.Classification).Inc()
	if evt.Dur > 0 {
		s.classifyLatency.WithLabelValues(evt.Classification).Observe(evt.Dur.Seconds())
	}
	if evt.Listings > 0 {
		s.listings.WithLabelValues(credential).Add(float64(evt.Listings))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
