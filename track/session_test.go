package track_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/convert"
	"github.com/pithecene-io/burrow/export"
	"github.com/pithecene-io/burrow/log"
	"github.com/pithecene-io/burrow/sampling"
	"github.com/pithecene-io/burrow/track"
	"github.com/pithecene-io/burrow/types"
)

// keepAllSampling keeps every event: no probabilistic rules in play.
func keepAllSampling() sampling.Config {
	cfg := sampling.DefaultConfig()
	cfg.CriticalSizeThreshold = 1 // everything is critical
	cfg.MediumSizeThreshold = 1
	return cfg
}

func startSession(t *testing.T, mutate func(*track.Config)) (*track.Session, *export.StubSink) {
	t.Helper()
	sink := export.NewStubSink()
	cfg := track.DefaultConfig(sink)
	cfg.Sampling = keepAllSampling()
	cfg.Logger = log.Nop()
	cfg.Strategy = types.TopologyThreadLocal
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := track.StartSession(cfg)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return s, sink
}

func parseContainer(t *testing.T, sink *export.StubSink, name string) *binfmt.Container {
	t.Helper()
	data, ok := sink.Get(name)
	if !ok {
		t.Fatalf("container %s not in sink", name)
	}
	c, err := binfmt.Parse(data)
	if err != nil {
		t.Fatalf("container does not parse: %v", err)
	}
	return c
}

// Scenario: single thread, 10 allocations of sizes 64..640.
func TestSession_SingleThreadTenAllocations(t *testing.T) {
	s, sink := startSession(t, nil)

	tr := s.Tracker(1)
	for i := uint64(1); i <= 10; i++ {
		ptr := 0x1000 + i*0x100
		if out := tr.TrackAlloc(ptr, 64*i, "buf", "[]byte"); out != types.Pushed {
			t.Fatalf("alloc %d: outcome %s", i, out)
		}
	}

	name, err := s.End(context.Background())
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}

	c := parseContainer(t, sink, name)
	if c.Header.TotalEvents != 10 || c.Header.TotalDropped != 0 {
		t.Errorf("totals wrong: events=%d dropped=%d", c.Header.TotalEvents, c.Header.TotalDropped)
	}
	if len(c.Payload.Events) != 10 {
		t.Errorf("expected 10 kept events, got %d", len(c.Payload.Events))
	}
	if len(c.Payload.Frequency) != 1 {
		t.Fatalf("expected one frequency entry, got %d", len(c.Payload.Frequency))
	}
	if c.Payload.Frequency[0].Count != 10 {
		t.Errorf("frequency count = %d, want 10", c.Payload.Frequency[0].Count)
	}

	// Events ascend in time within the single producer.
	for i := 1; i < len(c.Payload.Events); i++ {
		if c.Payload.Events[i].Timestamp < c.Payload.Events[i-1].Timestamp {
			t.Fatal("events not in ascending timestamp order")
		}
	}
}

// Scenario: two threads of small allocations under 1% sampling keep
// approximately 1% while CallSiteStats stays exact.
func TestSession_TwoThreadsSampledSmallAllocations(t *testing.T) {
	s, sink := startSession(t, func(cfg *track.Config) {
		cfg.Sampling = sampling.Config{
			CriticalSizeThreshold:   1 << 20,
			MediumSizeThreshold:     64 << 10,
			MediumSampleRate:        0,
			SmallSampleRate:         0.01,
			FrequencySampleInterval: 0,
			EnableFingerprintUpdate: true,
			Seed:                    7,
		}
		cfg.BufferCapacity = 4096
	})

	var wg sync.WaitGroup
	for thread := uint64(1); thread <= 2; thread++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			tr := s.Tracker(id)
			for i := uint64(0); i < 1000; i++ {
				tr.TrackAlloc(id<<32|(0x1000+i*0x40), 64, "small", "[]byte")
			}
		}(thread)
	}
	wg.Wait()

	name, err := s.End(context.Background())
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}

	c := parseContainer(t, sink, name)
	if c.Header.TotalEvents != 2000 {
		t.Errorf("expected 2000 total events, got %d", c.Header.TotalEvents)
	}
	kept := len(c.Payload.Events)
	if kept < 2 || kept > 80 {
		t.Errorf("expected roughly 20 kept events at 1%%, got %d", kept)
	}
	if uint64(kept)+c.Header.TotalDropped != 2000 {
		t.Errorf("kept %d + dropped %d != 2000", kept, c.Header.TotalDropped)
	}

	// Aggregates are exact despite sampling.
	if len(c.Payload.Frequency) != 1 {
		t.Fatalf("expected one call site, got %d", len(c.Payload.Frequency))
	}
	if c.Payload.Frequency[0].Count != 2000 {
		t.Errorf("call site count = %d, want 2000", c.Payload.Frequency[0].Count)
	}
}

// Scenario: deallocation of an unknown pointer records size zero and
// raises no error.
func TestSession_UnknownPointerDeallocation(t *testing.T) {
	s, sink := startSession(t, nil)

	tr := s.Tracker(1)
	if out := tr.TrackFree(0xDEAD); !out.Kept() {
		t.Fatalf("keep-all sampling should keep the free, got %s", out)
	}

	name, err := s.End(context.Background())
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}

	c := parseContainer(t, sink, name)
	if len(c.Payload.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(c.Payload.Events))
	}
	ev := c.Payload.Events[0]
	if ev.Kind != types.EventKindDeallocation || ev.Size != 0 {
		t.Errorf("unknown free should record size 0: %+v", ev)
	}
	if ev.Flags&types.EventFlagSizeUnknown == 0 {
		t.Error("size-unknown flag not set")
	}
}

func TestSession_VariableAssociationFlow(t *testing.T) {
	s, sink := startSession(t, nil)
	tr := s.Tracker(1)

	scope := tr.OpenScope("request")
	tr.TrackAlloc(0x2000, 256, "", "")
	if err := tr.Associate(0x2000, "payload", "bytes.Buffer"); err != nil {
		t.Fatalf("associate: %v", err)
	}
	tr.ObserveBorrow(0x2000, false, 1)
	tr.TrackAlloc(0x2100, 256, "", "")
	tr.ObserveClone(0x2000, 0x2100)
	tr.StampPassport(0x2100, "cgo", "out")
	if err := tr.CloseScope(scope); err != nil {
		t.Fatalf("close scope: %v", err)
	}

	// Associating an untracked pointer is a typed failure.
	if err := tr.Associate(0x9999, "ghost", "int"); err == nil || !strings.Contains(err.Error(), "pointer_not_found") {
		t.Errorf("expected pointer_not_found, got %v", err)
	}

	name, err := s.End(context.Background())
	if err != nil {
		t.Fatalf("End: %v", err)
	}

	c := parseContainer(t, sink, name)
	var found *types.AllocationInfo
	for i := range c.Payload.Registry {
		if c.Payload.Registry[i].Ptr == 0x2000 {
			found = &c.Payload.Registry[i]
		}
	}
	if found == nil {
		t.Fatal("associated record missing from registry segment")
	}
	if found.VariableName != "payload" || found.TypeName != "bytes.Buffer" {
		t.Errorf("association lost: %+v", found)
	}
	if found.ScopeID == nil || *found.ScopeID != scope {
		t.Errorf("scope not recorded: %+v", found.ScopeID)
	}
	if found.Borrow == nil || found.Borrow.ImmutableCount != 1 {
		t.Errorf("borrow observation lost: %+v", found.Borrow)
	}
	if found.Clone == nil || found.Clone.CloneCount != 1 {
		t.Errorf("clone edge lost: %+v", found.Clone)
	}
}

func TestSession_JSONViewsOutput(t *testing.T) {
	s, sink := startSession(t, func(cfg *track.Config) {
		cfg.OutputFormat = track.OutputBoth
		cfg.ArtifactPrefix = "app"
	})

	tr := s.Tracker(1)
	tr.TrackAlloc(0x3000, 128, "conn", "net.Conn")

	if _, err := s.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}

	for _, view := range convert.AllViews() {
		if _, ok := sink.Get("app_" + view + ".json"); !ok {
			t.Errorf("view %s missing from sink", view)
		}
	}
}

func TestSession_SameWorkloadTwiceBinaryStable(t *testing.T) {
	run := func() []byte {
		s, sink := startSession(t, func(cfg *track.Config) {
			cfg.Sampling.Seed = 99
		})
		tr := s.Tracker(1)
		for i := uint64(1); i <= 5; i++ {
			tr.TrackAlloc(0x100*i, 64*i, "v", "V")
		}
		name, err := s.End(context.Background())
		if err != nil {
			t.Fatalf("End: %v", err)
		}
		data, _ := sink.Get(name)
		return data
	}

	a, b := run(), run()
	ca, err := binfmt.Parse(a)
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	cb, err := binfmt.Parse(b)
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}
	// Timestamps differ between runs; structure and totals must not.
	if ca.Header.TotalEvents != cb.Header.TotalEvents ||
		len(ca.Payload.Events) != len(cb.Payload.Events) ||
		len(ca.Payload.Frequency) != len(cb.Payload.Frequency) {
		t.Error("identical workloads produced structurally different containers")
	}
}

func TestSession_InvalidConfigRejected(t *testing.T) {
	sink := export.NewStubSink()

	cfg := track.DefaultConfig(sink)
	cfg.BufferCapacity = 100 // not a power of two
	if _, err := track.StartSession(cfg); !strings.Contains(err.Error(), "invalid_configuration") {
		t.Errorf("expected invalid_configuration, got %v", err)
	}

	cfg = track.DefaultConfig(sink)
	cfg.Sampling.SmallSampleRate = 2
	if _, err := track.StartSession(cfg); err == nil {
		t.Error("out-of-range sample rate accepted")
	}

	cfg = track.DefaultConfig(nil)
	if _, err := track.StartSession(cfg); err == nil {
		t.Error("nil sink accepted")
	}

	cfg = track.DefaultConfig(sink)
	cfg.Strategy = types.TopologyTaskLocal // no task provider registered
	if _, err := track.StartSession(cfg); !strings.Contains(err.Error(), "invalid_configuration") {
		t.Errorf("expected invalid_configuration for task topology, got %v", err)
	}
}

func TestSession_TaskAttribution(t *testing.T) {
	s, sink := startSession(t, func(cfg *track.Config) {
		cfg.Strategy = types.TopologyHybrid
		cfg.TaskProvider = func() (uint64, bool) { return 42, true }
	})

	tr := s.Tracker(1)
	tr.TrackAlloc(0x4000, 64, "t", "T")

	name, err := s.End(context.Background())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	c := parseContainer(t, sink, name)
	ev := c.Payload.Events[0]
	if ev.TaskOrThreadID != 42 {
		t.Errorf("expected task attribution to 42, got %d", ev.TaskOrThreadID)
	}
	if ev.Flags&types.EventFlagTaskAttributed == 0 {
		t.Error("task-attributed flag not set")
	}
}

func TestSession_EndTwiceRejected(t *testing.T) {
	s, _ := startSession(t, nil)
	if _, err := s.End(context.Background()); err != nil {
		t.Fatalf("first End: %v", err)
	}
	if _, err := s.End(context.Background()); err == nil {
		t.Error("second End accepted")
	}
}
