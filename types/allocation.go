package types

// Fingerprint is a stable hash identifying a logical allocation site.
// Two allocations originating from the same site share the fingerprint.
type Fingerprint = uint64

// AllocationInfo is the registry record for a tracked allocation.
// Exactly one live AllocationInfo exists per ptr; after deallocation
// the record moves to the history list with FreedAt set.
type AllocationInfo struct {
	Ptr         uint64
	Size        uint64
	AllocatedAt uint64
	// FreedAt is nil while the allocation is live. When set it is
	// strictly greater than AllocatedAt.
	FreedAt      *uint64
	ScopeID      *uint32
	VariableName string
	TypeName     string
	Fingerprint  Fingerprint
	Borrow       *BorrowInfo
	Clone        *CloneInfo
	// Passport marks an allocation whose pointer crossed a trust
	// boundary, recorded for the unsafe_boundary view.
	Passport *MemoryPassport

	IsLeaked                  bool
	OwnershipHistoryAvailable bool
}

// Live reports whether the allocation has not been freed.
func (a *AllocationInfo) Live() bool {
	return a.FreedAt == nil
}

// BorrowInfo accumulates borrow observations for an allocation.
// Counters are best-effort observations recorded by the tracking side;
// nothing enforces borrow discipline.
type BorrowInfo struct {
	ImmutableCount uint64 `json:"immutable_count"`
	MutableCount   uint64 `json:"mutable_count"`
	// MaxConcurrent is the high-water mark of simultaneously observed
	// borrows.
	MaxConcurrent uint64 `json:"max_concurrent"`
	LastBorrowAt  uint64 `json:"last_borrow_at,omitempty"`
}

// CloneInfo links a derivative allocation to its source, forming a DAG.
// Edges are ptr values, not references; cycles are impossible because a
// clone is always created after its source.
type CloneInfo struct {
	SourcePtr uint64 `json:"source_ptr,omitempty"`
	// ClonedPtrs lists allocations cloned from this one.
	ClonedPtrs []uint64 `json:"cloned_ptrs,omitempty"`
	CloneCount uint64   `json:"clone_count"`
}

// MemoryPassport records a trust-boundary crossing for an allocation.
type MemoryPassport struct {
	Boundary  string `json:"boundary"`
	Direction string `json:"direction"` // "in" or "out"
	StampedAt uint64 `json:"stamped_at"`
}

// CallSiteStats aggregates frequency and volume per call site.
// Updated on every event regardless of the sampling decision, so
// aggregate counts stay exact even when per-event detail is dropped.
type CallSiteStats struct {
	Fingerprint        Fingerprint
	Count              uint64
	TotalBytes         uint64
	RepresentativeName string
	RepresentativeType string
}

// OwnershipEventKind enumerates lifetime timeline events.
type OwnershipEventKind string

const (
	OwnershipAllocated       OwnershipEventKind = "Allocated"
	OwnershipCloned          OwnershipEventKind = "Cloned"
	OwnershipBorrowed        OwnershipEventKind = "Borrowed"
	OwnershipMutablyBorrowed OwnershipEventKind = "MutablyBorrowed"
	OwnershipTransferred     OwnershipEventKind = "OwnershipTransferred"
	OwnershipDropped         OwnershipEventKind = "Dropped"
)

// OwnershipEvent is one entry in an allocation's lifetime timeline.
type OwnershipEvent struct {
	Kind      OwnershipEventKind `json:"event"`
	Timestamp uint64             `json:"timestamp"`
	// Detail carries event-specific context, e.g. the clone target.
	Detail string `json:"detail,omitempty"`
}
