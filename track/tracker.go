package track

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/burrow/metrics"
	"github.com/pithecene-io/burrow/ring"
	"github.com/pithecene-io/burrow/sampling"
	"github.com/pithecene-io/burrow/strategy"
	"github.com/pithecene-io/burrow/types"
)

// Tracker is the per-producer collection handle: the allocator
// intercept for one worker. Exactly one goroutine may call its
// tracking methods; the ring buffer behind it assumes a single
// producer.
//
// Tracking methods never block and never surface errors; their result
// is a PushOutcome. Association and scope methods are off-path and
// return typed errors.
type Tracker struct {
	session  *Session
	threadID uint64
	ring     *ring.Buffer
	decider  *sampling.Decider

	// inTracking is the reentrancy guard. It is raised on entry to
	// every tracking method and lowered on every exit path; profiler
	// code that re-enters the intercept is suppressed instead of
	// recursing.
	inTracking bool

	// seq is the producer-local sequence number.
	seq uint64
	// kept counts events stored, enforcing MaxRecordsPerThread.
	kept uint64

	// observed/dropped accumulate for header totals; read by the
	// session at snapshot time, hence atomic.
	observed atomic.Uint64
	dropped  atomic.Uint64

	// pressure is the sampling pressure level this tracker last
	// applied; compared against the session governor's level.
	pressure      int
	pressureLevel atomic.Int32

	// stopped suppresses all tracking after session end.
	stopped atomic.Bool
}

func newTracker(s *Session, threadID uint64) *Tracker {
	cfg := s.config.Sampling
	return &Tracker{
		session:  s,
		threadID: threadID,
		ring:     ring.New(threadID, s.config.BufferCapacity),
		decider:  sampling.NewDecider(cfg),
	}
}

// ThreadID returns the producer identity this tracker collects for.
func (t *Tracker) ThreadID() uint64 { return t.threadID }

// setPressure is called by the session's governor; the owning
// goroutine applies it on its next event.
func (t *Tracker) setPressure(level int) {
	t.pressureLevel.Store(int32(level))
}

func (t *Tracker) stop() {
	t.stopped.Store(true)
}

// applyPressure retunes the decider when the governor's level moved.
func (t *Tracker) applyPressure() {
	level := int(t.pressureLevel.Load())
	if level == t.pressure {
		return
	}
	t.pressure = level
	base := t.session.config.Sampling
	small, medium, interval := metrics.ApplyPressure(level,
		base.SmallSampleRate, base.MediumSampleRate, base.FrequencySampleInterval)
	t.decider.SetRates(small, medium, interval)
}

// TrackAlloc observes one allocation. name and typeName may be empty;
// when both are empty the call-site fingerprint comes from the caller's
// program counters instead.
func (t *Tracker) TrackAlloc(ptr, size uint64, name, typeName string) types.PushOutcome {
	if t.stopped.Load() {
		return types.DroppedReentrant
	}
	if t.inTracking {
		t.session.metrics.RecordReentrantSuppression()
		return types.DroppedReentrant
	}
	t.inTracking = true
	defer func() { t.inTracking = false }()

	start := time.Now()
	outcome := t.trackEvent(types.EventKindAllocation, ptr, size, name, typeName)
	t.session.metrics.AddTrackingNanos(time.Since(start).Nanoseconds())
	return outcome
}

// TrackFree observes one deallocation. The matching allocation's size
// is recovered from the registry; an unknown pointer records size zero
// with the size-unknown flag.
func (t *Tracker) TrackFree(ptr uint64) types.PushOutcome {
	if t.stopped.Load() {
		return types.DroppedReentrant
	}
	if t.inTracking {
		t.session.metrics.RecordReentrantSuppression()
		return types.DroppedReentrant
	}
	t.inTracking = true
	defer func() { t.inTracking = false }()

	start := time.Now()
	outcome := t.trackEvent(types.EventKindDeallocation, ptr, 0, "", "")
	t.session.metrics.AddTrackingNanos(time.Since(start).Nanoseconds())
	return outcome
}

// trackEvent is the shared intercept body. Caller holds the guard.
func (t *Tracker) trackEvent(kind types.EventKind, ptr, size uint64, name, typeName string) types.PushOutcome {
	t.applyPressure()
	t.observed.Add(1)

	now := uint64(time.Now().UnixNano())
	producerID, taskAttributed := strategy.Attribute(t.session.topology, t.session.env, t.threadID)

	var fp types.Fingerprint
	var flags uint32
	switch kind {
	case types.EventKindAllocation:
		fp = t.fingerprint(name, typeName)
		t.session.registry.TrackAllocation(ptr, size, now, fp)
	case types.EventKindDeallocation:
		size, fp = t.session.registry.TrackDeallocation(ptr, now)
		if size == 0 {
			flags |= types.EventFlagSizeUnknown
		}
	}
	if taskAttributed {
		flags |= types.EventFlagTaskAttributed
	}

	if t.session.config.Sampling.EnableFingerprintUpdate {
		t.session.callSites.Record(fp, size, name, typeName)
	}

	decision := t.decider.Decide(kind, ptr, size, fp)
	t.session.metrics.RecordEvent(decision.Keep)
	if !decision.Keep {
		t.dropped.Add(1)
		return types.DroppedSampling
	}
	if decision.Probabilistic {
		flags |= types.EventFlagSampled
	}

	if limit := t.session.config.Sampling.MaxRecordsPerThread; limit > 0 && t.kept >= limit {
		t.dropped.Add(1)
		t.ring.AddDropped(1)
		return types.DroppedOverflow
	}

	t.seq++
	ev := types.EventRecord{
		TaskOrThreadID: producerID,
		Ptr:            ptr,
		Size:           size,
		Timestamp:      now,
		Kind:           kind,
		Flags:          flags,
		Fingerprint:    fp,
		Seq:            t.seq,
	}

	if t.session.config.OnOverflow == OverflowBlock {
		// Offline/testing policy: wait for the aggregator instead of
		// dropping. Never legal on a live hot path. Waiting before the
		// push keeps the drop counter clean.
		for t.ring.Len() >= t.ring.Capacity() {
			runtime.Gosched()
		}
	}

	if t.ring.Push(&ev) {
		t.kept++
		return types.Pushed
	}

	// The ring already counted the drop; mirror it for header totals.
	t.dropped.Add(1)
	return types.DroppedOverflow
}

// fingerprint derives the call-site identity. Names win when present
// so fingerprints stay stable across runs; otherwise the caller's
// program counters identify the site within this run.
func (t *Tracker) fingerprint(name, typeName string) types.Fingerprint {
	if name != "" || typeName != "" {
		return sampling.FingerprintFromNames(name, typeName)
	}
	var pcs [4]uintptr
	n := runtime.Callers(4, pcs[:])
	return sampling.FingerprintFromPCs(pcs[:n])
}

// takeObserved returns and resets the observed counter.
func (t *Tracker) takeObserved() uint64 {
	return t.observed.Swap(0)
}

// takeDropped returns and resets the dropped counter.
func (t *Tracker) takeDropped() uint64 {
	return t.dropped.Swap(0)
}

// Associate attaches variable metadata to a live allocation, scoped to
// the producer's current open scope.
func (t *Tracker) Associate(ptr uint64, name, typeName string) error {
	scope := t.session.scopes.Current(t.threadID)
	return t.session.registry.Associate(ptr, name, typeName, scope)
}

// OpenScope pushes a named scope for this producer.
func (t *Tracker) OpenScope(name string) types.ScopeID {
	return t.session.scopes.Open(t.threadID, name, uint64(time.Now().UnixNano()))
}

// CloseScope pops the producer's current scope.
func (t *Tracker) CloseScope(id types.ScopeID) error {
	return t.session.scopes.Close(t.threadID, id, uint64(time.Now().UnixNano()))
}

// ObserveBorrow records a borrow observation for ptr.
func (t *Tracker) ObserveBorrow(ptr uint64, mutable bool, concurrent uint64) {
	t.session.registry.ObserveBorrow(ptr, uint64(time.Now().UnixNano()), mutable, concurrent)
}

// ObserveClone links a derivative allocation to its source.
func (t *Tracker) ObserveClone(sourcePtr, clonePtr uint64) {
	t.session.registry.ObserveClone(sourcePtr, clonePtr)
}

// StampPassport marks ptr as crossing a trust boundary.
func (t *Tracker) StampPassport(ptr uint64, boundary, direction string) {
	t.session.registry.StampPassport(ptr, uint64(time.Now().UnixNano()), boundary, direction)
}
