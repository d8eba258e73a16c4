package registry_test

import (
	"errors"
	"testing"

	"github.com/pithecene-io/burrow/registry"
	"github.com/pithecene-io/burrow/trackerr"
)

func TestRegistry_TrackAndAssociate(t *testing.T) {
	r := registry.New()

	r.TrackAllocation(0x1000, 128, 100, 42)

	if err := r.Associate(0x1000, "buf", "[]byte", 0); err != nil {
		t.Fatalf("associate failed: %v", err)
	}
	// Idempotent on identical inputs.
	if err := r.Associate(0x1000, "buf", "[]byte", 0); err != nil {
		t.Fatalf("repeat associate failed: %v", err)
	}

	info, ok := r.Lookup(0x1000)
	if !ok {
		t.Fatal("live record missing")
	}
	if info.VariableName != "buf" || info.TypeName != "[]byte" {
		t.Errorf("association not stored: %+v", info)
	}
	if !info.Live() {
		t.Error("record should be live")
	}
}

func TestRegistry_AssociateUnknownPointer(t *testing.T) {
	r := registry.New()

	err := r.Associate(0xBEEF, "x", "int", 0)
	if err == nil {
		t.Fatal("expected PointerNotFound")
	}
	if !errors.Is(err, trackerr.ErrPointerNotFound) {
		t.Errorf("expected ErrPointerNotFound, got %v", err)
	}
	if trackerr.KindOf(err) != trackerr.KindPointerNotFound {
		t.Errorf("expected kind pointer_not_found, got %s", trackerr.KindOf(err))
	}
}

func TestRegistry_DeallocationMovesToHistory(t *testing.T) {
	r := registry.New()

	r.TrackAllocation(0x2000, 64, 100, 1)
	size, fp := r.TrackDeallocation(0x2000, 200)
	if size != 64 || fp != 1 {
		t.Errorf("expected size 64 and fingerprint 1, got %d and %d", size, fp)
	}
	if _, ok := r.Lookup(0x2000); ok {
		t.Error("freed record still live")
	}

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 record in snapshot, got %d", len(snap))
	}
	rec := snap[0]
	if rec.FreedAt == nil {
		t.Fatal("FreedAt not set")
	}
	if *rec.FreedAt <= rec.AllocatedAt {
		t.Errorf("FreedAt %d not monotone above AllocatedAt %d", *rec.FreedAt, rec.AllocatedAt)
	}
}

func TestRegistry_FreedAtMonotoneUnderClockTies(t *testing.T) {
	r := registry.New()

	r.TrackAllocation(0x3000, 64, 500, 1)
	r.TrackDeallocation(0x3000, 500) // same timestamp

	snap := r.Snapshot()
	if *snap[0].FreedAt <= snap[0].AllocatedAt {
		t.Error("FreedAt must exceed AllocatedAt even on clock ties")
	}
}

func TestRegistry_UnknownDeallocationReturnsZero(t *testing.T) {
	r := registry.New()
	if size, fp := r.TrackDeallocation(0x4000, 100); size != 0 || fp != 0 {
		t.Errorf("expected zeros for unknown pointer, got %d and %d", size, fp)
	}
}

func TestRegistry_AddressReuseFlagsLeak(t *testing.T) {
	r := registry.New()

	r.TrackAllocation(0x5000, 32, 100, 1)
	// Same address allocated again without a free in between.
	r.TrackAllocation(0x5000, 48, 200, 1)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 records, got %d", len(snap))
	}
	if !snap[0].IsLeaked {
		t.Error("superseded record not flagged as leaked")
	}
	if snap[1].Size != 48 {
		t.Errorf("expected live record size 48, got %d", snap[1].Size)
	}
}

func TestRegistry_BorrowAndCloneObservations(t *testing.T) {
	r := registry.New()

	r.TrackAllocation(0x6000, 64, 100, 1)
	r.TrackAllocation(0x6100, 64, 110, 1)

	r.ObserveBorrow(0x6000, 120, false, 1)
	r.ObserveBorrow(0x6000, 130, true, 3)
	r.ObserveClone(0x6000, 0x6100)

	src, _ := r.Lookup(0x6000)
	if src.Borrow == nil || src.Borrow.ImmutableCount != 1 || src.Borrow.MutableCount != 1 {
		t.Errorf("borrow counters wrong: %+v", src.Borrow)
	}
	if src.Borrow.MaxConcurrent != 3 {
		t.Errorf("expected max concurrent 3, got %d", src.Borrow.MaxConcurrent)
	}
	if src.Clone == nil || src.Clone.CloneCount != 1 || len(src.Clone.ClonedPtrs) != 1 {
		t.Errorf("clone edge missing on source: %+v", src.Clone)
	}

	dst, _ := r.Lookup(0x6100)
	if dst.Clone == nil || dst.Clone.SourcePtr != 0x6000 {
		t.Errorf("clone back-edge missing: %+v", dst.Clone)
	}

	// Observations on unknown pointers are ignored, not errors.
	r.ObserveBorrow(0xFFFF, 100, false, 1)
	r.ObserveClone(0xFFFF, 0xEEEE)
}

func TestScopeTracker_OpenCloseNesting(t *testing.T) {
	r := registry.New()
	st := registry.NewScopeTracker(r)

	outer := st.Open(1, "outer", 100)
	inner := st.Open(1, "inner", 110)

	if cur := st.Current(1); cur != inner {
		t.Errorf("expected current scope %d, got %d", inner, cur)
	}

	// Closing the outer scope while inner is open is a mismatch.
	err := st.Close(1, outer, 120)
	if !errors.Is(err, trackerr.ErrScopeMismatch) {
		t.Errorf("expected ScopeMismatch, got %v", err)
	}

	if err := st.Close(1, inner, 130); err != nil {
		t.Fatalf("close inner failed: %v", err)
	}
	if err := st.Close(1, outer, 140); err != nil {
		t.Fatalf("close outer failed: %v", err)
	}

	// Double close is rejected but does not panic.
	if err := st.Close(1, outer, 150); !errors.Is(err, trackerr.ErrScopeMismatch) {
		t.Errorf("expected ScopeMismatch on double close, got %v", err)
	}

	scopes := st.Snapshot()
	if len(scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(scopes))
	}
	if scopes[1].ParentID == nil || *scopes[1].ParentID != outer {
		t.Errorf("inner scope parent not linked: %+v", scopes[1])
	}
	for _, s := range scopes {
		if s.Open() {
			t.Errorf("scope %d still open", s.ID)
		}
	}
}

func TestScopeTracker_PerThreadStacks(t *testing.T) {
	st := registry.NewScopeTracker(nil)

	a := st.Open(1, "a", 100)
	b := st.Open(2, "b", 100)

	// Thread 2 cannot close thread 1's scope.
	if err := st.Close(2, a, 110); !errors.Is(err, trackerr.ErrScopeMismatch) {
		t.Errorf("cross-thread close should mismatch, got %v", err)
	}
	if err := st.Close(1, a, 110); err != nil {
		t.Errorf("close a: %v", err)
	}
	if err := st.Close(2, b, 110); err != nil {
		t.Errorf("close b: %v", err)
	}
}
