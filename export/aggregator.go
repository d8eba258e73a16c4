package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/log"
	"github.com/pithecene-io/burrow/metrics"
	"github.com/pithecene-io/burrow/registry"
	"github.com/pithecene-io/burrow/ring"
	"github.com/pithecene-io/burrow/sampling"
	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// Options configures an Aggregator.
type Options struct {
	// Sink receives finished containers. Required.
	Sink Sink
	// ArtifactPrefix names output artifacts: <prefix>_<session>.msco.
	ArtifactPrefix string
	// SessionID tags artifacts and log entries.
	SessionID string
	// Compress stores container segments zstd-compressed.
	Compress bool
	// StringPoolLimit bounds the container's intern table.
	StringPoolLimit int
	// SpillDir, when set, lets Drain move events to disk between
	// snapshots instead of accumulating them in memory.
	SpillDir string
	// Logger is optional; nil logs nothing.
	Logger *log.Logger
	// Metrics is optional self-observation.
	Metrics *metrics.Collector
}

// Aggregator drains ring buffers, merges per-producer state, and
// writes containers. One aggregator serves one session; a single
// goroutine calls its methods (the hot path never does).
type Aggregator struct {
	opts Options

	mu    sync.Mutex
	rings []*ring.Buffer
	// drained accumulates popped events between snapshots when no
	// spill directory is configured.
	drained []types.EventRecord
	spill   *SpillWriter
	// absorbedDrops remembers ring drop counts already absorbed.
	absorbedDrops map[uint64]uint64
	// observed counts every event the trackers pushed or dropped.
	observedEvents uint64
	observedDrops  uint64

	logger *log.Logger
}

// NewAggregator creates an aggregator for a session.
func NewAggregator(opts Options) (*Aggregator, error) {
	if opts.Sink == nil {
		return nil, trackerr.New(trackerr.KindInvalidConfig, "aggregator",
			"provide an export sink", fmt.Errorf("%w: nil sink", trackerr.ErrInvalidConfig))
	}
	if opts.ArtifactPrefix == "" {
		opts.ArtifactPrefix = "burrow"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Aggregator{
		opts:          opts,
		absorbedDrops: make(map[uint64]uint64),
		logger:        logger,
	}, nil
}

// Register adds a producer's ring. Called by the dispatcher as
// producers appear; safe to call while draining is idle.
func (a *Aggregator) Register(b *ring.Buffer) {
	a.mu.Lock()
	a.rings = append(a.rings, b)
	a.mu.Unlock()
}

// AddObserved accounts events the trackers saw, kept or not. The
// header's totals come from these counters.
func (a *Aggregator) AddObserved(events, drops uint64) {
	a.mu.Lock()
	a.observedEvents += events
	a.observedDrops += drops
	a.mu.Unlock()
}

// Drain pops every registered ring in round-robin order, preserving
// per-producer ordering. Between snapshots the drained events go to
// the spill file when one is configured. Returns the number of events
// drained.
//
// The context is checked between rings; a cancelled drain returns what
// it has with the remaining producers listed in the error.
func (a *Aggregator) Drain(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainLocked(ctx)
}

func (a *Aggregator) drainLocked(ctx context.Context) (int, error) {
	total := 0
	var missing []uint64
	cancelled := false

	for _, b := range a.rings {
		if cancelled {
			missing = append(missing, b.ProducerID())
			continue
		}
		if err := ctx.Err(); err != nil {
			cancelled = true
			missing = append(missing, b.ProducerID())
			continue
		}

		a.opts.Metrics.ObserveBufferDepth(b.Len(), b.Capacity())

		batchStart := len(a.drained)
		var ev types.EventRecord
		for b.Pop(&ev) {
			a.drained = append(a.drained, ev)
			total++
		}

		// Absorb the delta of the ring's drop counter.
		drops := b.Dropped()
		if prev := a.absorbedDrops[b.ProducerID()]; drops > prev {
			a.opts.Metrics.AbsorbRingDrops(int64(drops - prev))
			a.absorbedDrops[b.ProducerID()] = drops
		}

		if a.spillEnabled() && len(a.drained) > batchStart {
			if err := a.ensureSpill(); err == nil {
				batch := a.drained[batchStart:]
				if err := a.spill.WriteBatch(b.ProducerID(), batch); err == nil {
					a.drained = a.drained[:batchStart]
					a.opts.Metrics.IncSpillFrames(1)
				}
				// A spill failure silently falls back to memory: the
				// events are still in a.drained.
			}
		}
	}

	if cancelled {
		return total, &trackerr.PartialExportError{MissingThreads: missing}
	}
	return total, nil
}

func (a *Aggregator) spillEnabled() bool {
	return a.opts.SpillDir != ""
}

func (a *Aggregator) ensureSpill() error {
	if a.spill != nil {
		return nil
	}
	if err := os.MkdirAll(a.opts.SpillDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(a.opts.SpillDir, fmt.Sprintf("%s_%s.spill", a.opts.ArtifactPrefix, a.opts.SessionID))
	w, err := NewSpillWriter(path)
	if err != nil {
		return err
	}
	a.spill = w
	return nil
}

// SnapshotInput carries the merged session state a snapshot serializes.
type SnapshotInput struct {
	CreatedAtNs uint64
	CallSites   *sampling.CallSiteAggregator
	Registry    *registry.Registry
}

// Snapshot drains all rings, merges state, and writes one container.
// Returns the artifact name and the encoded container bytes (so
// downstream converters need not read the sink back). Cancellation
// between steps produces a partial container: the write still happens,
// the partial flag is set, and the returned error wraps PartialExport
// so callers can treat it as success-with-warning.
func (a *Aggregator) Snapshot(ctx context.Context, in SnapshotInput) (string, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, drainErr := a.drainLocked(ctx)
	var partial *trackerr.PartialExportError
	if drainErr != nil {
		if pe, ok := drainErr.(*trackerr.PartialExportError); ok {
			partial = pe
		} else {
			return "", nil, drainErr
		}
	}

	events, err := a.collectEventsLocked()
	if err != nil {
		return "", nil, err
	}

	// Global order: timestamps, then producer, then sequence. Stable
	// per producer because each producer's timestamps and sequences
	// are monotone.
	sort.SliceStable(events, func(i, j int) bool {
		a, b := &events[i], &events[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.TaskOrThreadID != b.TaskOrThreadID {
			return a.TaskOrThreadID < b.TaskOrThreadID
		}
		return a.Seq < b.Seq
	})

	payload := &binfmt.Payload{Events: events}
	if in.CallSites != nil {
		payload.Frequency = in.CallSites.Snapshot()
	}
	if in.Registry != nil {
		payload.Registry = in.Registry.Snapshot()
	}

	opts := binfmt.WriteOptions{
		CreatedAtNs:     in.CreatedAtNs,
		TotalEvents:     a.observedEvents,
		TotalDropped:    a.observedDrops,
		Compress:        a.opts.Compress,
		Partial:         partial != nil,
		StringPoolLimit: a.opts.StringPoolLimit,
	}

	var buf bytes.Buffer
	n, err := binfmt.Write(&buf, payload, opts)
	if err != nil {
		a.opts.Metrics.IncExportFailure()
		return "", nil, err
	}

	name := fmt.Sprintf("%s_%s.msco", a.opts.ArtifactPrefix, a.opts.SessionID)
	// A cancelled drain still writes its partial container.
	putCtx := ctx
	if partial != nil {
		putCtx = context.WithoutCancel(ctx)
	}
	if err := a.opts.Sink.Put(putCtx, name, buf.Bytes()); err != nil {
		a.opts.Metrics.IncExportFailure()
		return "", nil, err
	}
	a.opts.Metrics.IncSnapshotWritten()

	a.logger.Info("container written", map[string]any{
		"artifact":     name,
		"bytes":        n,
		"events":       len(events),
		"total_events": a.observedEvents,
		"dropped":      a.observedDrops,
		"partial":      partial != nil,
	})

	// A consumed snapshot resets the in-memory batch; the spill file
	// was folded in by collectEventsLocked.
	a.drained = a.drained[:0]

	if partial != nil {
		partial.BytesWritten = n
		return name, buf.Bytes(), partial
	}
	return name, buf.Bytes(), nil
}

// collectEventsLocked merges spilled and resident events, in drain
// order, and retires the spill file.
func (a *Aggregator) collectEventsLocked() ([]types.EventRecord, error) {
	if a.spill == nil {
		out := make([]types.EventRecord, len(a.drained))
		copy(out, a.drained)
		return out, nil
	}

	if err := a.spill.Close(); err != nil {
		return nil, trackerr.New(trackerr.KindIO, "spill_close", "spill file unwritable", err)
	}
	path := filepath.Join(a.opts.SpillDir, fmt.Sprintf("%s_%s.spill", a.opts.ArtifactPrefix, a.opts.SessionID))
	f, err := os.Open(path)
	if err != nil {
		return nil, trackerr.New(trackerr.KindIO, "spill_read", "spill file missing", err)
	}
	spilled, readErr := ReadSpill(f)
	closeErr := f.Close()
	removeErr := os.Remove(path)
	a.spill = nil

	if err := multierr.Combine(readErr, closeErr, removeErr); err != nil {
		// Intact frames still count; log and continue with what we
		// recovered.
		a.logger.Warn("spill readback incomplete", map[string]any{"error": err.Error()})
	}

	out := make([]types.EventRecord, 0, len(spilled)+len(a.drained))
	out = append(out, spilled...)
	out = append(out, a.drained...)
	return out, nil
}
