package binfmt

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// Payload is the logical content of a container: everything except
// framing. The writer encodes it deterministically, so encoding the
// same payload twice produces byte-identical files apart from the
// created-at timestamp.
type Payload struct {
	Events    []types.EventRecord
	Frequency []types.CallSiteStats
	Registry  []types.AllocationInfo
}

// WriteOptions controls container framing.
type WriteOptions struct {
	// CreatedAtNs stamps the header. The caller supplies it so exports
	// are reproducible under test.
	CreatedAtNs uint64
	// TotalEvents is the number of push calls observed, kept or not.
	TotalEvents uint64
	// TotalDropped is the number of events lost to sampling/overflow.
	TotalDropped uint64
	// Compress stores segment payloads zstd-compressed (header flag
	// bit2). The index segment stays raw so selective readers can walk
	// it without a decompressor.
	Compress bool
	// Partial marks a container produced by an interrupted export.
	Partial bool
	// StringPoolLimit bounds the intern table; zero means unbounded.
	StringPoolLimit int
}

// Write encodes a container to w. Returns the number of bytes written.
func Write(w io.Writer, payload *Payload, opts WriteOptions) (int64, error) {
	pool := NewStringPool(opts.StringPoolLimit)

	// Encode data segment payloads first: interning populates the pool
	// in encounter order, and the pool itself encodes after its users.
	eventsBody := encodeEvents(payload.Events)
	frequencyBody := encodeFrequency(payload.Frequency, pool)
	registryBody := encodeRegistry(payload.Registry, pool)

	var poolEnc bufEncoder
	pool.encode(&poolEnc)
	poolBody := poolEnc.buf

	var compressor *zstd.Encoder
	if opts.Compress {
		var err error
		compressor, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return 0, trackerr.New(trackerr.KindIO, "write_container", "zstd unavailable", err)
		}
		defer compressor.Close()
	}

	type rawSegment struct {
		kind       uint32
		entryCount uint32
		body       []byte
	}
	segments := []rawSegment{
		{SegmentEvents, uint32(len(payload.Events)), eventsBody},
		{SegmentFrequency, uint32(len(payload.Frequency)), frequencyBody},
		{SegmentStringPool, uint32(pool.Len()), poolBody},
		{SegmentVariableRegistry, uint32(len(payload.Registry)), registryBody},
	}

	// Compress data segment bodies; the stored form carries the raw
	// length so decoders can size their buffers.
	if opts.Compress {
		for i := range segments {
			var enc bufEncoder
			enc.u32(uint32(len(segments[i].body)))
			enc.bytes(compressor.EncodeAll(segments[i].body, nil))
			segments[i].body = enc.buf
		}
	}

	// The writer always computes the directory CRC, so every container
	// advertises it; readers that trust the flag verify accordingly.
	flags := FlagHasChecksum
	if pool.Len() > 0 {
		flags |= FlagHasStringPool
	}
	if opts.Compress {
		flags |= FlagCompressed
	}
	if opts.Partial {
		flags |= FlagPartialExport
	}

	// Lay out offsets: header, four data segments, index, trailer.
	offset := uint32(HeaderSize)
	index := make([]IndexEntry, 0, len(segments)+1)
	for _, seg := range segments {
		index = append(index, IndexEntry{
			SegmentKind: seg.kind,
			ByteOffset:  offset,
			ByteLength:  uint32(len(seg.body)),
			EntryCount:  seg.entryCount,
		})
		offset += SegmentHeaderSize + uint32(len(seg.body))
	}
	indexOffset := offset
	indexBody := encodeIndex(append(index, IndexEntry{
		SegmentKind: SegmentIndex,
		ByteOffset:  indexOffset,
		ByteLength:  uint32((len(index) + 1) * IndexEntrySize),
		EntryCount:  uint32(len(index) + 1),
	}))

	// Header.
	var hdr bufEncoder
	hdr.u32(MagicHeader)
	hdr.u16(types.FormatVersion)
	hdr.u16(flags)
	hdr.u64(opts.CreatedAtNs)
	hdr.u64(opts.TotalEvents)
	hdr.u64(opts.TotalDropped)
	hdr.u32(uint32(len(segments)) + 1)
	hdr.zeros(HeaderSize - len(hdr.buf))

	// Assemble the file and the CRC input (header + segment directory).
	var out bufEncoder
	out.bytes(hdr.buf)
	crc := crc32.NewIEEE()
	_, _ = crc.Write(crcHeaderBytes(hdr.buf))

	writeSegment := func(kind, entryCount uint32, body []byte) {
		var sh bufEncoder
		sh.u32(kind)
		sh.u32(uint32(len(body)))
		sh.u32(entryCount)
		sh.u32(0)
		_, _ = crc.Write(sh.buf)
		out.bytes(sh.buf)
		out.bytes(body)
	}
	for _, seg := range segments {
		writeSegment(seg.kind, seg.entryCount, seg.body)
	}
	writeSegment(SegmentIndex, uint32(len(index)+1), indexBody)

	// Trailer.
	out.u32(indexOffset)
	out.u32(crc.Sum32())
	out.u32(MagicFooter)

	n, err := w.Write(out.buf)
	if err != nil {
		return int64(n), trackerr.New(trackerr.KindIO, "write_container",
			"check destination space and permissions", err)
	}
	if n != len(out.buf) {
		return int64(n), trackerr.New(trackerr.KindIO, "write_container",
			"short write", fmt.Errorf("wrote %d of %d bytes", n, len(out.buf)))
	}
	return int64(n), nil
}

// crcHeaderBytes returns the header with the created-at field zeroed,
// so two otherwise-identical exports differ only in that one field.
func crcHeaderBytes(hdr []byte) []byte {
	out := make([]byte, len(hdr))
	copy(out, hdr)
	for i := 8; i < 16 && i < len(out); i++ {
		out[i] = 0
	}
	return out
}

func encodeEvents(events []types.EventRecord) []byte {
	var e bufEncoder
	e.buf = make([]byte, 0, len(events)*types.EventRecordSize)
	for i := range events {
		ev := &events[i]
		e.u64(ev.TaskOrThreadID)
		e.u64(ev.Ptr)
		e.u64(ev.Size)
		e.u64(ev.Timestamp)
		e.u32(uint32(ev.Kind))
		e.u32(ev.Flags)
		e.u64(ev.Fingerprint)
		e.u64(ev.Seq)
		e.zeros(8)
	}
	return e.buf
}

func encodeFrequency(stats []types.CallSiteStats, pool *StringPool) []byte {
	var e bufEncoder
	for i := range stats {
		s := &stats[i]
		e.u64(s.Fingerprint)
		e.u64(s.Count)
		e.u64(s.TotalBytes)
		e.u32(pool.Intern(s.RepresentativeName))
		e.u32(pool.Intern(s.RepresentativeType))
	}
	return e.buf
}

func encodeRegistry(records []types.AllocationInfo, pool *StringPool) []byte {
	var e bufEncoder
	for i := range records {
		r := &records[i]

		flags := uint32(0)
		if r.IsLeaked {
			flags |= regFlagLeaked
		}
		if r.OwnershipHistoryAvailable {
			flags |= regFlagHistory
		}
		if r.Borrow != nil {
			flags |= regFlagHasBorrow
		}
		if r.Clone != nil {
			flags |= regFlagHasClone
		}
		if r.Passport != nil {
			flags |= regFlagHasPassport
		}
		if r.ScopeID != nil {
			flags |= regFlagHasScope
		}

		e.u64(r.Ptr)
		e.u64(r.Size)
		e.u64(r.AllocatedAt)
		if r.FreedAt != nil {
			e.u64(*r.FreedAt)
		} else {
			e.u64(0)
		}
		e.u64(r.Fingerprint)
		if r.ScopeID != nil {
			e.u32(*r.ScopeID)
		} else {
			e.u32(0)
		}
		e.u32(flags)
		e.u32(pool.Intern(r.VariableName))
		e.u32(pool.Intern(r.TypeName))

		if r.Borrow != nil {
			e.u64(r.Borrow.ImmutableCount)
			e.u64(r.Borrow.MutableCount)
			e.u64(r.Borrow.MaxConcurrent)
			e.u64(r.Borrow.LastBorrowAt)
		}
		if r.Clone != nil {
			e.u64(r.Clone.SourcePtr)
			e.u64(r.Clone.CloneCount)
			e.u32(uint32(len(r.Clone.ClonedPtrs)))
			for _, p := range r.Clone.ClonedPtrs {
				e.u64(p)
			}
		}
		if r.Passport != nil {
			e.u32(pool.Intern(r.Passport.Boundary))
			e.u32(pool.Intern(r.Passport.Direction))
			e.u64(r.Passport.StampedAt)
		}
	}
	return e.buf
}

func encodeIndex(entries []IndexEntry) []byte {
	var e bufEncoder
	for _, entry := range entries {
		e.u32(entry.SegmentKind)
		e.u32(entry.ByteOffset)
		e.u32(entry.ByteLength)
		e.u32(entry.EntryCount)
	}
	return e.buf
}
