// Package metrics provides the profiler's self-observation.
//
// The Collector accumulates counters during a single session. It is a
// leaf package with no internal dependencies. Hot-path components
// record through nil-safe increment methods; ring drop counters are
// absorbed from the export path at drain time rather than recorded
// live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all self-observation
// metrics. Returned by Collector.Snapshot(). Safe to read concurrently
// after creation.
type Snapshot struct {
	// Event flow
	EventsObserved   int64
	EventsKept       int64
	DroppedSampling  int64
	DroppedOverflow  int64
	DroppedReentrant int64

	// Tracking overhead
	TrackingNanos   int64
	WorkloadNanos   int64
	OverheadPercent float64
	// AvgEventLatencyNanos is tracking time divided by observed events.
	AvgEventLatencyNanos int64

	// Buffers
	BufferHighWatermark int
	BufferCapacity      int

	// SamplingEfficiency is kept / observed, in [0,1]. 1 with no events.
	SamplingEfficiency float64

	// Export
	SnapshotsWritten   int64
	ExportFailures     int64
	SpillFramesWritten int64

	// Dimensions, set at construction.
	SessionID string
	Topology  string
}

// Collector accumulates self-observation metrics during one session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver
// safe so components can run unobserved in tests.
type Collector struct {
	mu sync.Mutex

	eventsObserved   int64
	eventsKept       int64
	droppedSampling  int64
	droppedOverflow  int64
	droppedReentrant int64

	trackingNanos int64
	workloadNanos int64

	bufferHighWatermark int
	bufferCapacity      int

	snapshotsWritten   int64
	exportFailures     int64
	spillFramesWritten int64

	sessionID string
	topology  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, topology string) *Collector {
	return &Collector{
		sessionID: sessionID,
		topology:  topology,
	}
}

// RecordEvent counts one observed event and whether it was kept.
func (c *Collector) RecordEvent(kept bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsObserved++
	if kept {
		c.eventsKept++
	} else {
		c.droppedSampling++
	}
	c.mu.Unlock()
}

// RecordReentrantSuppression counts an event suppressed by the
// reentrancy guard.
func (c *Collector) RecordReentrantSuppression() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.droppedReentrant++
	c.mu.Unlock()
}

// AddTrackingNanos accumulates time spent inside the tracking path.
func (c *Collector) AddTrackingNanos(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.trackingNanos += n
	c.mu.Unlock()
}

// AddWorkloadNanos accumulates host workload time, the denominator of
// the overhead ratio.
func (c *Collector) AddWorkloadNanos(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.workloadNanos += n
	c.mu.Unlock()
}

// ObserveBufferDepth updates the buffer high-watermark.
func (c *Collector) ObserveBufferDepth(depth, capacity int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if depth > c.bufferHighWatermark {
		c.bufferHighWatermark = depth
	}
	c.bufferCapacity = capacity
	c.mu.Unlock()
}

// AbsorbRingDrops folds ring overflow counters in at drain time.
// The caller passes the delta since the previous drain.
func (c *Collector) AbsorbRingDrops(n int64) {
	if c == nil || n == 0 {
		return
	}
	c.mu.Lock()
	c.droppedOverflow += n
	c.mu.Unlock()
}

// IncSnapshotWritten records a completed container write.
func (c *Collector) IncSnapshotWritten() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snapshotsWritten++
	c.mu.Unlock()
}

// IncExportFailure records a failed export attempt.
func (c *Collector) IncExportFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.exportFailures++
	c.mu.Unlock()
}

// IncSpillFrames records spill frames written between snapshots.
func (c *Collector) IncSpillFrames(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.spillFramesWritten += n
	c.mu.Unlock()
}

// OverheadPercent returns the current measured overhead ratio as a
// percentage. Zero when no workload time has been recorded.
func (c *Collector) OverheadPercent() float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return overheadPercent(c.trackingNanos, c.workloadNanos)
}

func overheadPercent(tracking, workload int64) float64 {
	if workload <= 0 {
		return 0
	}
	return 100 * float64(tracking) / float64(workload)
}

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		EventsObserved:   c.eventsObserved,
		EventsKept:       c.eventsKept,
		DroppedSampling:  c.droppedSampling,
		DroppedOverflow:  c.droppedOverflow,
		DroppedReentrant: c.droppedReentrant,

		TrackingNanos:   c.trackingNanos,
		WorkloadNanos:   c.workloadNanos,
		OverheadPercent: overheadPercent(c.trackingNanos, c.workloadNanos),

		BufferHighWatermark: c.bufferHighWatermark,
		BufferCapacity:      c.bufferCapacity,

		SnapshotsWritten:   c.snapshotsWritten,
		ExportFailures:     c.exportFailures,
		SpillFramesWritten: c.spillFramesWritten,

		SessionID: c.sessionID,
		Topology:  c.topology,
	}
	if c.eventsObserved > 0 {
		s.AvgEventLatencyNanos = c.trackingNanos / c.eventsObserved
		s.SamplingEfficiency = float64(c.eventsKept) / float64(c.eventsObserved)
	} else {
		s.SamplingEfficiency = 1
	}
	return s
}
