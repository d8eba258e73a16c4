package types

// EventKind represents the kind of heap event.
type EventKind uint32

// Event kind constants. Values are part of the on-disk format and must
// not be renumbered.
const (
	EventKindAllocation   EventKind = 1
	EventKindDeallocation EventKind = 2
)

// String returns the lowercase wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventKindAllocation:
		return "allocation"
	case EventKindDeallocation:
		return "deallocation"
	default:
		return "unknown"
	}
}

// Valid reports whether the kind is a known event kind.
func (k EventKind) Valid() bool {
	return k == EventKindAllocation || k == EventKindDeallocation
}

// Event flag bits stored in EventRecord.Flags.
const (
	// EventFlagSampled marks a record that survived a probabilistic
	// sampling decision (as opposed to a deterministic keep).
	EventFlagSampled uint32 = 1 << 0
	// EventFlagTaskAttributed marks a record attributed to a cooperative
	// task rather than an OS thread.
	EventFlagTaskAttributed uint32 = 1 << 1
	// EventFlagSizeUnknown marks a deallocation whose matching allocation
	// was never observed; Size is zero.
	EventFlagSizeUnknown uint32 = 1 << 2
)

// EventRecordSize is the fixed encoded size of an EventRecord in bytes.
// Records are cache-line sized so a ring buffer slot never straddles
// two lines.
const EventRecordSize = 64

// EventRecord describes one allocation or deallocation.
//
// The record is fixed-width and value-typed: it is copied into and out
// of ring buffer slots without touching the heap. Ptr is an opaque
// identifier and is never dereferenced.
type EventRecord struct {
	// TaskOrThreadID identifies the producer: an OS thread ID, or a
	// cooperative task ID when EventFlagTaskAttributed is set.
	TaskOrThreadID uint64
	// Ptr is the allocation address, treated as an opaque key.
	Ptr uint64
	// Size is the allocation size in bytes. Always > 0 for
	// allocations; for deallocations it is the matching allocation's
	// size, or 0 with EventFlagSizeUnknown set.
	Size uint64
	// Timestamp is nanoseconds since the Unix epoch.
	Timestamp uint64
	// Kind discriminates allocation from deallocation.
	Kind EventKind
	// Flags carries EventFlag bits.
	Flags uint32
	// Fingerprint is the call-site fingerprint this event belongs to.
	// Carried per-record so a frequency table can be rebuilt from an
	// events segment alone.
	Fingerprint uint64
	// Seq is the producer-local sequence number, starting at 1.
	// Breaks timestamp ties when merging across producers.
	Seq uint64

	_ [8]byte // reserved; pads the record to EventRecordSize
}

// IsAllocation reports whether the record describes an allocation.
func (e *EventRecord) IsAllocation() bool {
	return e.Kind == EventKindAllocation
}

// IsDeallocation reports whether the record describes a deallocation.
func (e *EventRecord) IsDeallocation() bool {
	return e.Kind == EventKindDeallocation
}
