package binfmt

import (
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"

	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// Container is a fully parsed file: framing plus decoded payload.
type Container struct {
	Header  Header
	Index   []IndexEntry
	Payload Payload
	// Strings is the decoded string pool, retained for diagnostics.
	Strings []string
}

// WriteOptionsForReencode derives options that reproduce this container
// byte-for-byte, apart from the created-at stamp the caller chooses.
func (c *Container) WriteOptionsForReencode(createdAtNs uint64) WriteOptions {
	return WriteOptions{
		CreatedAtNs:  createdAtNs,
		TotalEvents:  c.Header.TotalEvents,
		TotalDropped: c.Header.TotalDropped,
		Compress:     c.Header.HasFlag(FlagCompressed),
		Partial:      c.Header.HasFlag(FlagPartialExport),
	}
}

// Parse decodes a container held fully in memory, validating framing,
// CRC, offset monotonicity, and index consistency. Any structural
// defect yields a typed CorruptedBinary error carrying a recovery hint;
// RebuildIndex can often salvage such files.
func Parse(data []byte) (*Container, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	if err := verifyTrailer(data, hdr); err != nil {
		return nil, err
	}

	c := &Container{Header: hdr}

	// Walk the segment directory sequentially, validating lengths.
	offset := HeaderSize
	segmentsEnd := len(data) - TrailerSize
	var headers []SegmentHeader
	var offsets []int
	for i := uint32(0); i < hdr.SegmentCount; i++ {
		sh, err := parseSegmentHeader(data, offset, segmentsEnd)
		if err != nil {
			return nil, err
		}
		headers = append(headers, sh)
		offsets = append(offsets, offset)
		offset += SegmentHeaderSize + int(sh.Length)
	}
	if offset != segmentsEnd {
		return nil, &trackerr.CorruptionError{
			Offset:         int64(offset),
			ExpectedLength: uint32(segmentsEnd),
			ActualLength:   uint32(offset),
			Msg:            "segment directory does not cover the file body",
		}
	}
	if len(headers) == 0 || headers[len(headers)-1].Kind != SegmentIndex {
		return nil, &trackerr.CorruptionError{
			Offset: int64(offset),
			Msg:    "index segment missing or not last",
		}
	}

	if err := decodeContainerBody(c, data, headers, offsets); err != nil {
		return nil, err
	}

	// The index must agree with what the directory walk found.
	for _, entry := range c.Index {
		if entry.SegmentKind == SegmentEvents && entry.EntryCount != uint32(len(c.Payload.Events)) {
			return nil, &trackerr.CorruptionError{
				SegmentKind:    SegmentEvents,
				ExpectedLength: entry.EntryCount,
				ActualLength:   uint32(len(c.Payload.Events)),
				Msg:            "index event count disagrees with events segment",
			}
		}
	}
	var prev uint32
	for _, entry := range c.Index {
		if entry.ByteOffset < prev {
			return nil, &trackerr.CorruptionError{
				SegmentKind: entry.SegmentKind,
				Offset:      int64(entry.ByteOffset),
				Msg:         "index offsets not monotonic",
			}
		}
		prev = entry.ByteOffset
	}

	return c, nil
}

func parseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize+TrailerSize {
		return Header{}, &trackerr.CorruptionError{
			ExpectedLength: HeaderSize + TrailerSize,
			ActualLength:   uint32(len(data)),
			Msg:            "file shorter than header and trailer",
		}
	}

	d := bufDecoder{buf: data[:HeaderSize]}
	magic := d.u32()
	if magic != MagicHeader {
		return Header{}, &trackerr.CorruptionError{
			Msg: fmt.Sprintf("bad magic 0x%08X", magic),
		}
	}

	hdr := Header{
		Version:      d.u16(),
		Flags:        d.u16(),
		CreatedAtNs:  d.u64(),
		TotalEvents:  d.u64(),
		TotalDropped: d.u64(),
		SegmentCount: d.u32(),
	}
	if hdr.Version != types.FormatVersion {
		return Header{}, trackerr.New(trackerr.KindUnsupportedVersion, "parse_header",
			"re-export with a current writer or use a legacy reader",
			fmt.Errorf("%w: container version %d, reader supports %d",
				trackerr.ErrUnsupportedVersion, hdr.Version, types.FormatVersion))
	}
	return hdr, nil
}

func verifyTrailer(data []byte, hdr Header) error {
	d := bufDecoder{buf: data[len(data)-TrailerSize:]}
	indexOffset := d.u32()
	storedCRC := d.u32()
	footer := d.u32()

	if footer != MagicFooter {
		return &trackerr.CorruptionError{
			Offset: int64(len(data) - 4),
			Msg:    fmt.Sprintf("bad footer magic 0x%08X", footer),
		}
	}
	if int(indexOffset) >= len(data)-TrailerSize {
		return &trackerr.CorruptionError{
			Offset: int64(indexOffset),
			Msg:    "index offset beyond file body",
		}
	}
	if !hdr.HasFlag(FlagHasChecksum) {
		// A writer that carries no checksum leaves the CRC slot
		// meaningless; nothing to verify.
		return nil
	}

	// CRC covers the header (created-at zeroed) and every segment
	// header, in file order.
	crc := crc32.NewIEEE()
	_, _ = crc.Write(crcHeaderBytes(data[:HeaderSize]))
	offset := HeaderSize
	for offset+SegmentHeaderSize <= len(data)-TrailerSize {
		sh := bufDecoder{buf: data[offset : offset+SegmentHeaderSize]}
		sh.skip(4)
		length := sh.u32()
		_, _ = crc.Write(data[offset : offset+SegmentHeaderSize])
		offset += SegmentHeaderSize + int(length)
	}
	if crc.Sum32() != storedCRC {
		return &trackerr.CorruptionError{
			Msg: fmt.Sprintf("directory CRC mismatch: stored 0x%08X computed 0x%08X", storedCRC, crc.Sum32()),
		}
	}
	return nil
}

func parseSegmentHeader(data []byte, offset, segmentsEnd int) (SegmentHeader, error) {
	if offset+SegmentHeaderSize > segmentsEnd {
		return SegmentHeader{}, &trackerr.CorruptionError{
			Offset:         int64(offset),
			ExpectedLength: SegmentHeaderSize,
			ActualLength:   uint32(segmentsEnd - offset),
			Msg:            "truncated segment header",
		}
	}
	d := bufDecoder{buf: data[offset : offset+SegmentHeaderSize]}
	sh := SegmentHeader{
		Kind:       d.u32(),
		Length:     d.u32(),
		EntryCount: d.u32(),
		Reserved:   d.u32(),
	}
	if offset+SegmentHeaderSize+int(sh.Length) > segmentsEnd {
		return SegmentHeader{}, &trackerr.CorruptionError{
			SegmentKind:    sh.Kind,
			Offset:         int64(offset),
			ExpectedLength: sh.Length,
			ActualLength:   uint32(segmentsEnd - offset - SegmentHeaderSize),
			Msg:            "segment payload truncated",
		}
	}
	return sh, nil
}

// decodeContainerBody decodes every segment payload into c. The string
// pool decodes before its consumers regardless of file order.
func decodeContainerBody(c *Container, data []byte, headers []SegmentHeader, offsets []int) error {
	compressed := c.Header.HasFlag(FlagCompressed)

	body := func(i int) ([]byte, error) {
		start := offsets[i] + SegmentHeaderSize
		raw := data[start : start+int(headers[i].Length)]
		if compressed && headers[i].Kind != SegmentIndex {
			return decompressSegment(raw, headers[i].Kind)
		}
		return raw, nil
	}

	// Pass 1: the string pool.
	for i, sh := range headers {
		if sh.Kind != SegmentStringPool {
			continue
		}
		b, err := body(i)
		if err != nil {
			return err
		}
		d := bufDecoder{buf: b}
		c.Strings = decodeStringPool(&d, sh.EntryCount)
		if d.truncated {
			return &trackerr.CorruptionError{
				SegmentKind: SegmentStringPool,
				Msg:         "string pool shorter than its entry count",
			}
		}
	}

	// Pass 2: everything else.
	for i, sh := range headers {
		b, err := body(i)
		if err != nil {
			return err
		}
		d := bufDecoder{buf: b}
		switch sh.Kind {
		case SegmentEvents:
			c.Payload.Events = decodeEvents(&d, sh.EntryCount)
		case SegmentFrequency:
			c.Payload.Frequency = decodeFrequency(&d, sh.EntryCount, c.Strings)
		case SegmentVariableRegistry:
			c.Payload.Registry = decodeRegistry(&d, sh.EntryCount, c.Strings)
		case SegmentStringPool, SegmentIndex:
			if sh.Kind == SegmentIndex {
				c.Index = decodeIndex(&d, sh.EntryCount)
			}
		default:
			// Unknown segment kinds are skipped, not fatal: forward
			// compatibility within a format version.
			continue
		}
		if d.truncated {
			return &trackerr.CorruptionError{
				SegmentKind:    sh.Kind,
				ExpectedLength: sh.Length,
				ActualLength:   uint32(len(b)),
				Msg:            "segment payload shorter than its entry count",
			}
		}
	}
	return nil
}

func decompressSegment(raw []byte, kind uint32) ([]byte, error) {
	d := bufDecoder{buf: raw}
	rawLen := d.u32()
	if d.truncated {
		return nil, &trackerr.CorruptionError{
			SegmentKind: kind,
			Msg:         "compressed segment missing length prefix",
		}
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, trackerr.New(trackerr.KindIO, "decompress_segment", "zstd unavailable", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(d.buf, make([]byte, 0, rawLen))
	if err != nil {
		return nil, &trackerr.CorruptionError{
			SegmentKind: kind,
			Msg:         fmt.Sprintf("zstd decode failed: %v", err),
		}
	}
	if uint32(len(out)) != rawLen {
		return nil, &trackerr.CorruptionError{
			SegmentKind:    kind,
			ExpectedLength: rawLen,
			ActualLength:   uint32(len(out)),
			Msg:            "decompressed length disagrees with prefix",
		}
	}
	return out, nil
}

func decodeEvents(d *bufDecoder, count uint32) []types.EventRecord {
	out := make([]types.EventRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		var ev types.EventRecord
		ev.TaskOrThreadID = d.u64()
		ev.Ptr = d.u64()
		ev.Size = d.u64()
		ev.Timestamp = d.u64()
		ev.Kind = types.EventKind(d.u32())
		ev.Flags = d.u32()
		ev.Fingerprint = d.u64()
		ev.Seq = d.u64()
		d.skip(8)
		if d.truncated {
			return out
		}
		out = append(out, ev)
	}
	return out
}

func decodeFrequency(d *bufDecoder, count uint32, pool []string) []types.CallSiteStats {
	out := make([]types.CallSiteStats, 0, count)
	for i := uint32(0); i < count; i++ {
		var s types.CallSiteStats
		s.Fingerprint = d.u64()
		s.Count = d.u64()
		s.TotalBytes = d.u64()
		s.RepresentativeName = poolString(pool, d.u32())
		s.RepresentativeType = poolString(pool, d.u32())
		if d.truncated {
			return out
		}
		out = append(out, s)
	}
	return out
}

func decodeRegistry(d *bufDecoder, count uint32, pool []string) []types.AllocationInfo {
	out := make([]types.AllocationInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		var r types.AllocationInfo
		r.Ptr = d.u64()
		r.Size = d.u64()
		r.AllocatedAt = d.u64()
		freedAt := d.u64()
		r.Fingerprint = d.u64()
		scopeID := d.u32()
		flags := d.u32()
		r.VariableName = poolString(pool, d.u32())
		r.TypeName = poolString(pool, d.u32())

		if freedAt != 0 {
			r.FreedAt = &freedAt
		}
		if flags&regFlagHasScope != 0 {
			r.ScopeID = &scopeID
		}
		r.IsLeaked = flags&regFlagLeaked != 0
		r.OwnershipHistoryAvailable = flags&regFlagHistory != 0

		if flags&regFlagHasBorrow != 0 {
			r.Borrow = &types.BorrowInfo{
				ImmutableCount: d.u64(),
				MutableCount:   d.u64(),
				MaxConcurrent:  d.u64(),
				LastBorrowAt:   d.u64(),
			}
		}
		if flags&regFlagHasClone != 0 {
			clone := &types.CloneInfo{
				SourcePtr:  d.u64(),
				CloneCount: d.u64(),
			}
			n := d.u32()
			for j := uint32(0); j < n && !d.truncated; j++ {
				clone.ClonedPtrs = append(clone.ClonedPtrs, d.u64())
			}
			r.Clone = clone
		}
		if flags&regFlagHasPassport != 0 {
			r.Passport = &types.MemoryPassport{
				Boundary:  poolString(pool, d.u32()),
				Direction: poolString(pool, d.u32()),
				StampedAt: d.u64(),
			}
		}

		if d.truncated {
			return out
		}
		out = append(out, r)
	}
	return out
}

func decodeIndex(d *bufDecoder, count uint32) []IndexEntry {
	out := make([]IndexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry := IndexEntry{
			SegmentKind: d.u32(),
			ByteOffset:  d.u32(),
			ByteLength:  d.u32(),
			EntryCount:  d.u32(),
		}
		if d.truncated {
			return out
		}
		out = append(out, entry)
	}
	return out
}
