package convert_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/convert"
	"github.com/pithecene-io/burrow/export"
	"github.com/pithecene-io/burrow/types"
)

func u64ptr(v uint64) *uint64 { return &v }

func sampleContainer(t *testing.T) []byte {
	t.Helper()
	payload := &binfmt.Payload{
		Events: []types.EventRecord{
			{TaskOrThreadID: 1, Ptr: 0x1000, Size: 64, Timestamp: 1000, Kind: types.EventKindAllocation, Fingerprint: 7, Seq: 1},
			{TaskOrThreadID: 1, Ptr: 0x2000, Size: 128, Timestamp: 2000, Kind: types.EventKindAllocation, Fingerprint: 7, Seq: 2},
			{TaskOrThreadID: 1, Ptr: 0x1000, Size: 64, Timestamp: 3000, Kind: types.EventKindDeallocation, Fingerprint: 7, Seq: 3},
		},
		Frequency: []types.CallSiteStats{
			{Fingerprint: 7, Count: 3, TotalBytes: 256, RepresentativeName: "buf", RepresentativeType: "[]byte"},
		},
		Registry: []types.AllocationInfo{
			{
				Ptr: 0x1000, Size: 64, AllocatedAt: 1000, FreedAt: u64ptr(3000), Fingerprint: 7,
				VariableName: "buf", TypeName: "[]byte",
				Borrow: &types.BorrowInfo{ImmutableCount: 2, LastBorrowAt: 1500},
			},
			{
				Ptr: 0x2000, Size: 128, AllocatedAt: 2000, Fingerprint: 7,
				VariableName: "copy", TypeName: "[]byte",
				Clone:    &types.CloneInfo{SourcePtr: 0x1000},
				Passport: &types.MemoryPassport{Boundary: "cgo", Direction: "out", StampedAt: 2500},
			},
		},
	}
	var buf bytes.Buffer
	opts := binfmt.WriteOptions{CreatedAtNs: 1, TotalEvents: 3, TotalDropped: 0}
	if _, err := binfmt.Write(&buf, payload, opts); err != nil {
		t.Fatalf("write container: %v", err)
	}
	return buf.Bytes()
}

func writeAllViews(t *testing.T, container []byte) *export.StubSink {
	t.Helper()
	sink := export.NewStubSink()
	err := convert.WriteViews(context.Background(), sink, container, convert.Options{
		Prefix:    "test",
		CreatedAt: 42,
	})
	if err != nil {
		t.Fatalf("WriteViews failed: %v", err)
	}
	return sink
}

func decodeView(t *testing.T, sink *export.StubSink, view string) map[string]any {
	t.Helper()
	data, ok := sink.Get("test_" + view + ".json")
	if !ok {
		t.Fatalf("view %s not written", view)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("view %s is not valid JSON: %v", view, err)
	}
	return doc
}

func TestWriteViews_AllViewsValidJSON(t *testing.T) {
	sink := writeAllViews(t, sampleContainer(t))

	for _, view := range convert.AllViews() {
		doc := decodeView(t, sink, view)
		meta, ok := doc["metadata"].(map[string]any)
		if !ok {
			t.Fatalf("view %s missing metadata", view)
		}
		if meta["version"] != types.Version {
			t.Errorf("view %s version = %v", view, meta["version"])
		}
		if meta["created_at"] != float64(42) {
			t.Errorf("view %s created_at = %v", view, meta["created_at"])
		}
		if meta["source_binary_sha256"] == "" {
			t.Errorf("view %s missing source hash", view)
		}
	}
}

func TestMemoryAnalysis_RecordsAndSummary(t *testing.T) {
	sink := writeAllViews(t, sampleContainer(t))
	doc := decodeView(t, sink, convert.ViewMemoryAnalysis)

	ma := doc["memory_analysis"].(map[string]any)
	allocs := ma["allocations"].([]any)
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocation records, got %d", len(allocs))
	}

	// Ascending allocated_at order.
	first := allocs[0].(map[string]any)
	second := allocs[1].(map[string]any)
	if first["allocated_at"].(float64) > second["allocated_at"].(float64) {
		t.Error("allocations not in ascending allocated_at order")
	}
	if first["ptr"] != "0x1000" || first["variable_name"] != "buf" {
		t.Errorf("variable metadata missing: %+v", first)
	}

	summary := ma["summary"].(map[string]any)
	if summary["kept_allocations"].(float64) != 2 || summary["kept_deallocations"].(float64) != 1 {
		t.Errorf("summary wrong: %+v", summary)
	}
	if summary["live_allocations"].(float64) != 1 {
		t.Errorf("expected 1 live allocation, got %v", summary["live_allocations"])
	}
}

func TestLifetime_TimelineEvents(t *testing.T) {
	sink := writeAllViews(t, sampleContainer(t))
	doc := decodeView(t, sink, convert.ViewLifetime)

	timelines := doc["lifecycle_events"].(map[string]any)["timelines"].([]any)
	if len(timelines) != 2 {
		t.Fatalf("expected 2 timelines, got %d", len(timelines))
	}

	first := timelines[0].(map[string]any)
	if first["ptr"] != "0x1000" {
		t.Fatalf("unexpected timeline order: %v", first["ptr"])
	}
	events := first["events"].([]any)
	kinds := make([]string, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.(map[string]any)["event"].(string))
	}
	want := []string{"Allocated", "Borrowed", "Dropped"}
	if len(kinds) != len(want) {
		t.Fatalf("expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestPerformance_DerivedStats(t *testing.T) {
	sink := writeAllViews(t, sampleContainer(t))
	doc := decodeView(t, sink, convert.ViewPerformance)

	perf := doc["performance"].(map[string]any)
	if perf["total_events"].(float64) != 3 || perf["kept_events"].(float64) != 3 {
		t.Errorf("event counts wrong: %+v", perf)
	}
	if perf["drop_rate"].(float64) != 0 {
		t.Errorf("expected 0 drop rate, got %v", perf["drop_rate"])
	}
	sites := perf["call_sites"].([]any)
	if len(sites) != 1 {
		t.Fatalf("expected 1 call site, got %d", len(sites))
	}
	if sites[0].(map[string]any)["count"].(float64) != 3 {
		t.Errorf("call site count wrong: %+v", sites[0])
	}
}

func TestUnsafeBoundary_Passports(t *testing.T) {
	sink := writeAllViews(t, sampleContainer(t))
	doc := decodeView(t, sink, convert.ViewUnsafeBoundary)

	ub := doc["unsafe_boundary"].(map[string]any)
	if ub["crossings"].(float64) != 1 {
		t.Errorf("expected 1 crossing, got %v", ub["crossings"])
	}
	passports := ub["passports"].([]any)
	p := passports[0].(map[string]any)
	if p["ptr"] != "0x2000" || p["boundary"] != "cgo" || p["direction"] != "out" {
		t.Errorf("passport wrong: %+v", p)
	}
}

func TestComplexTypes_Categorization(t *testing.T) {
	sink := writeAllViews(t, sampleContainer(t))
	doc := decodeView(t, sink, convert.ViewComplexTypes)

	cats := doc["complex_types"].(map[string]any)["categories"].([]any)
	if len(cats) != 1 {
		t.Fatalf("expected 1 category, got %d", len(cats))
	}
	cat := cats[0].(map[string]any)
	if cat["category"] != "collection" {
		t.Errorf("[]byte should categorize as collection, got %v", cat["category"])
	}
	if cat["count"].(float64) != 2 || cat["total_bytes"].(float64) != 192 {
		t.Errorf("category totals wrong: %+v", cat)
	}
}

func TestWriteViews_Idempotent(t *testing.T) {
	container := sampleContainer(t)

	run := func() map[string][]byte {
		sink := export.NewStubSink()
		err := convert.WriteViews(context.Background(), sink, container, convert.Options{
			Prefix:    "idem",
			CreatedAt: 7,
		})
		if err != nil {
			t.Fatalf("WriteViews: %v", err)
		}
		return sink.Files
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("different artifact counts: %d vs %d", len(a), len(b))
	}
	for name, data := range a {
		if !bytes.Equal(data, b[name]) {
			t.Errorf("view %s not byte-identical across conversions", name)
		}
	}
}

func TestWriteViews_EmptyContainerEmitsEmptyArrays(t *testing.T) {
	var buf bytes.Buffer
	if _, err := binfmt.Write(&buf, &binfmt.Payload{}, binfmt.WriteOptions{CreatedAtNs: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	sink := writeAllViews(t, buf.Bytes())

	ma := decodeView(t, sink, convert.ViewMemoryAnalysis)["memory_analysis"].(map[string]any)
	if _, ok := ma["allocations"].([]any); !ok {
		t.Error("empty container must emit an empty allocations array, not null")
	}
	ub := decodeView(t, sink, convert.ViewUnsafeBoundary)["unsafe_boundary"].(map[string]any)
	if _, ok := ub["passports"].([]any); !ok {
		t.Error("empty container must emit an empty passports array, not null")
	}
}

func TestWriteViews_SelectedSubset(t *testing.T) {
	sink := export.NewStubSink()
	err := convert.WriteViews(context.Background(), sink, sampleContainer(t), convert.Options{
		Prefix:    "sub",
		CreatedAt: 1,
		Views:     []string{convert.ViewPerformance},
	})
	if err != nil {
		t.Fatalf("WriteViews: %v", err)
	}
	if len(sink.Files) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(sink.Files))
	}
	if _, ok := sink.Get("sub_performance.json"); !ok {
		t.Error("selected view not written")
	}
}
