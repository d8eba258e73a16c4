package export_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/export"
	"github.com/pithecene-io/burrow/registry"
	"github.com/pithecene-io/burrow/ring"
	"github.com/pithecene-io/burrow/sampling"
	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

func mustNewAggregator(t *testing.T, opts export.Options) *export.Aggregator {
	t.Helper()
	agg, err := export.NewAggregator(opts)
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}
	return agg
}

func pushEvents(b *ring.Buffer, producer uint64, n int, baseTS uint64) {
	for i := 0; i < n; i++ {
		ev := types.EventRecord{
			TaskOrThreadID: producer,
			Ptr:            0x1000 + uint64(i)*0x40,
			Size:           64,
			Timestamp:      baseTS + uint64(i),
			Kind:           types.EventKindAllocation,
			Fingerprint:    9,
			Seq:            uint64(i) + 1,
		}
		b.Push(&ev)
	}
}

func TestAggregator_DrainPreservesPerProducerOrder(t *testing.T) {
	sink := export.NewStubSink()
	agg := mustNewAggregator(t, export.Options{Sink: sink, SessionID: "s1"})

	b1 := ring.New(1, 64)
	b2 := ring.New(2, 64)
	agg.Register(b1)
	agg.Register(b2)

	pushEvents(b1, 1, 10, 1000)
	pushEvents(b2, 2, 10, 1000)
	agg.AddObserved(20, 0)

	n, err := agg.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if n != 20 {
		t.Errorf("expected 20 drained, got %d", n)
	}

	name, _, err := agg.Snapshot(context.Background(), export.SnapshotInput{CreatedAtNs: 42})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	data, ok := sink.Get(name)
	if !ok {
		t.Fatal("container not written to sink")
	}
	c, err := binfmt.Parse(data)
	if err != nil {
		t.Fatalf("written container does not parse: %v", err)
	}
	if c.Header.TotalEvents != 20 {
		t.Errorf("expected 20 total events, got %d", c.Header.TotalEvents)
	}

	// Per-producer sequence order must hold in the merged stream.
	lastSeq := map[uint64]uint64{}
	for _, ev := range c.Payload.Events {
		if ev.Seq <= lastSeq[ev.TaskOrThreadID] {
			t.Fatalf("producer %d order violated: seq %d after %d",
				ev.TaskOrThreadID, ev.Seq, lastSeq[ev.TaskOrThreadID])
		}
		lastSeq[ev.TaskOrThreadID] = ev.Seq
	}
}

func TestAggregator_SnapshotCarriesFrequencyAndRegistry(t *testing.T) {
	sink := export.NewStubSink()
	agg := mustNewAggregator(t, export.Options{Sink: sink, SessionID: "s2"})

	b := ring.New(1, 64)
	agg.Register(b)
	pushEvents(b, 1, 10, 2000)
	agg.AddObserved(10, 0)

	callSites := sampling.NewCallSiteAggregator()
	for i := 0; i < 10; i++ {
		callSites.Record(9, 64, "buf", "[]byte")
	}
	reg := registry.New()
	reg.TrackAllocation(0x1000, 64, 2000, 9)
	if err := reg.Associate(0x1000, "buf", "[]byte", 0); err != nil {
		t.Fatalf("associate: %v", err)
	}

	name, _, err := agg.Snapshot(context.Background(), export.SnapshotInput{
		CreatedAtNs: 99,
		CallSites:   callSites,
		Registry:    reg,
	})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	data, _ := sink.Get(name)
	c, err := binfmt.Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(c.Payload.Frequency) != 1 || c.Payload.Frequency[0].Count != 10 {
		t.Errorf("frequency table wrong: %+v", c.Payload.Frequency)
	}
	if len(c.Payload.Registry) != 1 || c.Payload.Registry[0].VariableName != "buf" {
		t.Errorf("registry wrong: %+v", c.Payload.Registry)
	}
}

func TestAggregator_CancelledDrainIsPartial(t *testing.T) {
	sink := export.NewStubSink()
	agg := mustNewAggregator(t, export.Options{Sink: sink, SessionID: "s3"})

	b1 := ring.New(1, 64)
	b2 := ring.New(2, 64)
	agg.Register(b1)
	agg.Register(b2)
	pushEvents(b1, 1, 5, 100)
	pushEvents(b2, 2, 5, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	name, _, err := agg.Snapshot(ctx, export.SnapshotInput{CreatedAtNs: 1})
	if err == nil {
		t.Fatal("expected partial export error")
	}
	var pe *trackerr.PartialExportError
	if !trackerrAs(err, &pe) {
		t.Fatalf("expected PartialExportError, got %v", err)
	}
	if len(pe.MissingThreads) != 2 {
		t.Errorf("expected 2 missing producers, got %d", len(pe.MissingThreads))
	}

	// The partial container still exists and carries the flag.
	data, ok := sink.Get(name)
	if !ok {
		t.Skip("sink write skipped by cancelled context")
	}
	c, err := binfmt.Parse(data)
	if err != nil {
		t.Fatalf("partial container does not parse: %v", err)
	}
	if !c.Header.HasFlag(binfmt.FlagPartialExport) {
		t.Error("partial flag not set")
	}
}

func TestAggregator_SpillAndMerge(t *testing.T) {
	dir := t.TempDir()
	sink := export.NewStubSink()
	agg := mustNewAggregator(t, export.Options{
		Sink:      sink,
		SessionID: "s4",
		SpillDir:  dir,
	})

	b := ring.New(1, 64)
	agg.Register(b)

	// Two drains between snapshots: both batches spill to disk.
	pushEvents(b, 1, 10, 100)
	if _, err := agg.Drain(context.Background()); err != nil {
		t.Fatalf("drain 1: %v", err)
	}
	pushEvents(b, 1, 10, 200)
	if _, err := agg.Drain(context.Background()); err != nil {
		t.Fatalf("drain 2: %v", err)
	}
	agg.AddObserved(20, 0)

	name, _, err := agg.Snapshot(context.Background(), export.SnapshotInput{CreatedAtNs: 5})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	data, _ := sink.Get(name)
	c, err := binfmt.Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(c.Payload.Events) != 20 {
		t.Errorf("expected 20 events after spill merge, got %d", len(c.Payload.Events))
	}

	// The spill file is retired after the snapshot.
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.spill"))
	if len(leftovers) != 0 {
		t.Errorf("spill files not cleaned up: %v", leftovers)
	}
}

func TestSpill_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.spill")
	w, err := export.NewSpillWriter(path)
	if err != nil {
		t.Fatalf("spill writer: %v", err)
	}

	events := []types.EventRecord{
		{TaskOrThreadID: 1, Ptr: 0x10, Size: 64, Timestamp: 5, Kind: types.EventKindAllocation, Fingerprint: 7, Seq: 1},
		{TaskOrThreadID: 1, Ptr: 0x10, Size: 64, Timestamp: 9, Kind: types.EventKindDeallocation, Fingerprint: 7, Seq: 2},
	}
	if err := w.WriteBatch(1, events); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	got, err := export.ReadSpill(f)
	if err != nil {
		t.Fatalf("read spill: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[1].Kind != types.EventKindDeallocation || got[1].Seq != 2 {
		t.Errorf("event mangled: %+v", got[1])
	}
}

func TestSpill_TruncatedTailKeepsIntactFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.spill")
	w, err := export.NewSpillWriter(path)
	if err != nil {
		t.Fatalf("spill writer: %v", err)
	}
	events := []types.EventRecord{{TaskOrThreadID: 1, Ptr: 0x10, Size: 64, Timestamp: 5, Kind: types.EventKindAllocation, Seq: 1}}
	if err := w.WriteBatch(1, events); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.WriteBatch(1, events); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	truncated := data[:len(data)-3]

	got, err := export.ReadSpill(bytes.NewReader(truncated))
	if err == nil {
		t.Fatal("expected partial frame error")
	}
	var se *export.SpillError
	if !trackerrAs(err, &se) || se.Kind != export.SpillErrorPartial {
		t.Errorf("expected SpillErrorPartial, got %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 intact frame's events, got %d", len(got))
	}
}

func TestFSSink_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	sink, err := export.NewFSSink(dir)
	if err != nil {
		t.Fatalf("fs sink: %v", err)
	}

	if err := sink.Put(context.Background(), "out.msco", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.msco"))
	if err != nil || string(data) != "payload" {
		t.Errorf("artifact not written: %v %q", err, data)
	}

	// Traversal attempts are rejected.
	if err := sink.Put(context.Background(), "../escape", []byte("x")); err == nil {
		t.Error("path traversal accepted")
	}

	// No temp files left behind.
	tmps, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(tmps) != 0 {
		t.Errorf("temp files left behind: %v", tmps)
	}
}

// trackerrAs aliases errors.As to keep test call sites compact.
func trackerrAs(err error, target any) bool {
	return errors.As(err, target)
}
