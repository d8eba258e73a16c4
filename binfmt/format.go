// Package binfmt implements the versioned binary container and its
// decoders.
//
// A container is a 64-byte header, a sequence of length-prefixed
// segments, and a trailer carrying the index offset and a CRC32 over
// the header and segment directory. The index segment is always last
// before the trailer, so readers can seek to any segment without
// scanning. All integers are little-endian.
package binfmt

// Container framing constants. Values are part of the on-disk format.
const (
	// MagicHeader is "MSCO" spelled most-significant byte first; stored
	// little-endian, the file's first four bytes are "OCSM".
	MagicHeader uint32 = 0x4D53434F
	// MagicFooter is "OCSM".
	MagicFooter uint32 = 0x4F43534D

	// HeaderSize is the fixed header length including padding to a
	// 64-byte boundary.
	HeaderSize = 64
	// SegmentHeaderSize is the fixed per-segment header length.
	SegmentHeaderSize = 16
	// TrailerSize is index offset + CRC32 + footer magic.
	TrailerSize = 12
)

// Header flag bits.
const (
	FlagHasChecksum   uint16 = 1 << 0
	FlagHasStringPool uint16 = 1 << 1
	FlagCompressed    uint16 = 1 << 2
	FlagPartialExport uint16 = 1 << 3
)

// Segment kinds.
const (
	SegmentEvents           uint32 = 1
	SegmentFrequency        uint32 = 2
	SegmentStringPool       uint32 = 3
	SegmentVariableRegistry uint32 = 4
	SegmentIndex            uint32 = 5
)

// SegmentKindName returns a printable name for diagnostics.
func SegmentKindName(kind uint32) string {
	switch kind {
	case SegmentEvents:
		return "events"
	case SegmentFrequency:
		return "frequency"
	case SegmentStringPool:
		return "string_pool"
	case SegmentVariableRegistry:
		return "variable_registry"
	case SegmentIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Header is the decoded file header.
type Header struct {
	Version      uint16
	Flags        uint16
	CreatedAtNs  uint64
	TotalEvents  uint64
	TotalDropped uint64
	SegmentCount uint32
}

// HasFlag reports whether a header flag bit is set.
func (h *Header) HasFlag(flag uint16) bool {
	return h.Flags&flag != 0
}

// SegmentHeader is the decoded per-segment header. Length counts
// payload bytes only.
type SegmentHeader struct {
	Kind       uint32
	Length     uint32
	EntryCount uint32
	Reserved   uint32
}

// IndexEntry locates one segment for selective reads. Offset is the
// byte offset of the segment header from the start of the file.
type IndexEntry struct {
	SegmentKind uint32
	ByteOffset  uint32
	ByteLength  uint32
	EntryCount  uint32
}

// IndexEntrySize is the encoded size of one index entry.
const IndexEntrySize = 16

// Variable registry record flag bits.
const (
	regFlagLeaked      uint32 = 1 << 0
	regFlagHistory     uint32 = 1 << 1
	regFlagHasBorrow   uint32 = 1 << 2
	regFlagHasClone    uint32 = 1 << 3
	regFlagHasPassport uint32 = 1 << 4
	regFlagHasScope    uint32 = 1 << 5
)
