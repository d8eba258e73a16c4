// Package track is the online half of the profiler: the allocator
// intercept, the per-producer collection handles, and the session
// verbs (start, snapshot, end).
//
// A process runs at most one session at a time. The session owns every
// component behind typed handles; nothing is globally mutable after
// initialization.
package track

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/burrow/adapter"
	"github.com/pithecene-io/burrow/convert"
	"github.com/pithecene-io/burrow/export"
	"github.com/pithecene-io/burrow/log"
	"github.com/pithecene-io/burrow/metrics"
	"github.com/pithecene-io/burrow/registry"
	"github.com/pithecene-io/burrow/sampling"
	"github.com/pithecene-io/burrow/strategy"
	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// Session is a live tracking session. Obtain per-producer Tracker
// handles with Tracker(); call Snapshot to export and End to finish.
type Session struct {
	id       string
	config   Config
	topology types.Topology
	env      strategy.Environment

	registry   *registry.Registry
	scopes     *registry.ScopeTracker
	callSites  *sampling.CallSiteAggregator
	aggregator *export.Aggregator
	metrics    *metrics.Collector
	governor   *metrics.Governor
	recovery   *trackerr.Engine
	logger     *log.Logger

	// trackers maps producer ID to its Tracker. sync.Map: written once
	// per producer, read on every Tracker() call.
	trackers sync.Map

	mu    sync.Mutex
	ended bool

	// now is swappable for tests.
	now func() uint64
}

// StartSession validates the configuration, probes the environment,
// selects a topology, and returns a live session.
func StartSession(config Config) (*Session, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.ArtifactPrefix == "" {
		config.ArtifactPrefix = "burrow"
	}

	env := strategy.Probe(config.TaskProvider)
	topology, err := strategy.Select(env, config.Strategy)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(log.SessionMeta{SessionID: id, Topology: string(topology)})
	}

	collector := metrics.NewCollector(id, string(topology))
	reg := registry.New()

	agg, err := export.NewAggregator(export.Options{
		Sink:            config.Sink,
		ArtifactPrefix:  config.ArtifactPrefix,
		SessionID:       id,
		Compress:        config.Compress,
		StringPoolLimit: config.StringPoolLimit,
		SpillDir:        config.SpillDir,
		Logger:          logger,
		Metrics:         collector,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:         id,
		config:     config,
		topology:   topology,
		env:        env,
		registry:   reg,
		scopes:     registry.NewScopeTracker(reg),
		callSites:  sampling.NewCallSiteAggregator(),
		aggregator: agg,
		metrics:    collector,
		governor:   metrics.NewGovernor(config.MaxOverheadPercent),
		recovery:   trackerr.NewEngine(),
		logger:     logger,
		now:        func() uint64 { return uint64(time.Now().UnixNano()) },
	}

	logger.Info("session started", map[string]any{
		"topology":        string(topology),
		"units":           env.SchedulableUnits,
		"buffer_capacity": config.BufferCapacity,
	})
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Topology returns the selected collection topology.
func (s *Session) Topology() types.Topology { return s.topology }

// Registry exposes the variable association map.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Scopes exposes the scope tracker.
func (s *Session) Scopes() *registry.ScopeTracker { return s.scopes }

// Metrics returns a snapshot of the profiler's self-observation.
func (s *Session) Metrics() metrics.Snapshot { return s.metrics.Snapshot() }

// Tracker returns the collection handle for a producer, creating it on
// first use. Under the global topology every caller shares producer 0.
// The returned Tracker must only be used by the goroutine that owns
// that producer identity.
func (s *Session) Tracker(threadID uint64) *Tracker {
	if s.topology == types.TopologyGlobalDirect {
		threadID = 0
	}
	if t, ok := s.trackers.Load(threadID); ok {
		return t.(*Tracker)
	}
	t := newTracker(s, threadID)
	actual, loaded := s.trackers.LoadOrStore(threadID, t)
	if loaded {
		return actual.(*Tracker)
	}
	s.aggregator.Register(t.ring)
	return t
}

// Drain moves buffered events from all rings into the aggregator.
// Called periodically by hosts that snapshot rarely; Snapshot drains
// on its own.
func (s *Session) Drain(ctx context.Context) (int, error) {
	s.observeOverhead()
	return s.aggregator.Drain(ctx)
}

// observeOverhead feeds the governor and pushes the resulting sampling
// pressure to every tracker.
func (s *Session) observeOverhead() {
	level := s.governor.Observe(s.metrics.OverheadPercent())
	s.trackers.Range(func(_, v any) bool {
		v.(*Tracker).setPressure(level)
		return true
	})
}

// Snapshot drains every ring and writes the configured artifacts.
// Returns the container artifact name. A PartialExport error is
// success-with-warning: the artifact exists and is marked partial.
func (s *Session) Snapshot(ctx context.Context) (string, error) {
	s.observeOverhead()
	s.syncObserved()

	input := export.SnapshotInput{
		CreatedAtNs: s.now(),
		CallSites:   s.callSites,
		Registry:    s.registry,
	}
	name, data, err := s.aggregator.Snapshot(ctx, input)
	if err != nil {
		if pe, ok := err.(*trackerr.PartialExportError); ok {
			// Views over a partial container are still valid views.
			if viewErr := s.writeViews(ctx, data); viewErr != nil {
				s.logger.Warn("view conversion failed", map[string]any{"error": viewErr.Error()})
			}
			return name, pe
		}
		action := s.recovery.Decide(err)
		s.logger.Error("snapshot failed", map[string]any{
			"error":  err.Error(),
			"action": string(action.Kind),
		})
		if action.Kind == trackerr.ActionRetry {
			for attempt := 1; attempt < action.MaxAttempts; attempt++ {
				time.Sleep(action.Delay)
				name, data, err = s.aggregator.Snapshot(ctx, input)
				if err == nil {
					s.recovery.RecordSuccess()
					break
				}
				s.recovery.RecordFailure()
			}
		}
		if err != nil {
			return "", err
		}
	}

	if err := s.writeViews(ctx, data); err != nil {
		return name, err
	}
	return name, nil
}

// writeViews converts the container to JSON views when configured.
func (s *Session) writeViews(ctx context.Context, container []byte) error {
	format := s.config.OutputFormat
	if format != OutputJSONViews && format != OutputBoth {
		return nil
	}
	if len(container) == 0 {
		return nil
	}
	return convert.WriteViews(ctx, s.config.Sink, container, convert.Options{
		Prefix:    s.config.ArtifactPrefix,
		CreatedAt: s.now(),
	})
}

// syncObserved pushes per-tracker observation counters to the
// aggregator so header totals reflect every push call.
func (s *Session) syncObserved() {
	var events, drops uint64
	s.trackers.Range(func(_, v any) bool {
		t := v.(*Tracker)
		events += t.takeObserved()
		drops += t.takeDropped()
		return true
	})
	s.aggregator.AddObserved(events, drops)
}

// End snapshots one final time and closes the session. Further
// tracking calls on existing Trackers are suppressed.
func (s *Session) End(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return "", trackerr.New(trackerr.KindInvalidConfig, "session_end",
			"session already ended", nil)
	}
	s.ended = true
	s.mu.Unlock()

	// Stop accepting events before the final drain.
	s.trackers.Range(func(_, v any) bool {
		v.(*Tracker).stop()
		return true
	})

	name, err := s.Snapshot(ctx)

	snap := s.metrics.Snapshot()
	s.logger.Info("session ended", map[string]any{
		"events_observed":     snap.EventsObserved,
		"events_kept":         snap.EventsKept,
		"dropped_sampling":    snap.DroppedSampling,
		"dropped_overflow":    snap.DroppedOverflow,
		"overhead_percent":    snap.OverheadPercent,
		"sampling_efficiency": snap.SamplingEfficiency,
	})

	s.publishCompletion(ctx, name, err, snap)
	return name, err
}

// publishCompletion notifies the configured adapter that the session
// finished. Publish failures are logged, never surfaced: artifacts are
// already on disk and the notification is best-effort.
func (s *Session) publishCompletion(ctx context.Context, containerPath string, endErr error, snap metrics.Snapshot) {
	if s.config.Adapter == nil {
		return
	}

	outcome := "success"
	if endErr != nil {
		outcome = "partial"
	}
	event := &adapter.SessionCompletedEvent{
		EventType:       "session_completed",
		SessionID:       s.id,
		Topology:        string(s.topology),
		Outcome:         outcome,
		ContainerPath:   containerPath,
		EventsObserved:  snap.EventsObserved,
		EventsKept:      snap.EventsKept,
		EventsDropped:   snap.DroppedSampling + snap.DroppedOverflow,
		OverheadPercent: snap.OverheadPercent,
		DurationMs:      (snap.TrackingNanos + snap.WorkloadNanos) / 1e6,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.config.Adapter.Publish(ctx, event); err != nil {
		s.logger.Warn("completion notification failed", map[string]any{"error": err.Error()})
	}
	_ = s.config.Adapter.Close()
}
