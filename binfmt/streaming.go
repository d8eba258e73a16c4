package binfmt

import (
	"bufio"
	"io"

	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// DefaultChunkEvents is how many event records a streaming decoder
// materializes per batch.
const DefaultChunkEvents = 4096

// StreamDecoder reads a container sequentially, yielding one segment at
// a time. For an uncompressed container, memory use is bounded by the
// largest non-event segment plus one event batch, and the events segment
// is never held whole. A compressed container's events segment is read,
// decompressed and decoded whole.
//
// Streaming cannot verify the directory CRC until the trailer arrives,
// so it validates lengths as it goes and checks the footer magic last.
type StreamDecoder struct {
	r      *bufio.Reader
	header Header
	// seen counts segments consumed so far.
	seen uint32
	// pool fills when the string pool segment streams past.
	pool []string
	// pendingDrain skips an unconsumed events body before the next
	// segment header is read.
	pendingDrain func() error

	chunkEvents int
}

// NewStreamDecoder reads and validates the header, leaving the reader
// positioned at the first segment.
func NewStreamDecoder(r io.Reader) (*StreamDecoder, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, hdrBuf); err != nil {
		return nil, &trackerr.CorruptionError{
			ExpectedLength: HeaderSize,
			Msg:            "truncated header",
		}
	}
	// Header parsing needs trailer-length slack only in bulk mode; pad
	// so the shared parser accepts the lone header.
	hdr, err := parseHeader(append(hdrBuf, make([]byte, TrailerSize)...))
	if err != nil {
		return nil, err
	}

	return &StreamDecoder{
		r:           br,
		header:      hdr,
		chunkEvents: DefaultChunkEvents,
	}, nil
}

// Header returns the decoded file header.
func (s *StreamDecoder) Header() Header {
	return s.header
}

// StreamSegment is one decoded segment yielded by Next. Exactly one of
// the typed fields is populated, matching Kind.
type StreamSegment struct {
	Kind       uint32
	EntryCount uint32

	// EventBatches yields event records in bounded batches. Only set
	// for the events segment; must be consumed before calling Next.
	EventBatches func(fn func([]types.EventRecord) error) error

	// Frequency entries stream past before the string pool segment, so
	// representative names resolve empty here. Consumers that need
	// names use bulk or selective mode.
	Frequency []types.CallSiteStats
	Strings   []string
	Registry  []types.AllocationInfo
	Index     []IndexEntry
}

// Next yields the next segment, or io.EOF after the trailer validates.
func (s *StreamDecoder) Next() (*StreamSegment, error) {
	if s.pendingDrain != nil {
		if err := s.pendingDrain(); err != nil {
			return nil, &trackerr.CorruptionError{
				SegmentKind: SegmentEvents,
				Msg:         "events segment truncated",
			}
		}
		s.pendingDrain = nil
	}

	if s.seen == s.header.SegmentCount {
		if err := s.consumeTrailer(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	shBuf := make([]byte, SegmentHeaderSize)
	if _, err := io.ReadFull(s.r, shBuf); err != nil {
		return nil, &trackerr.CorruptionError{
			ExpectedLength: SegmentHeaderSize,
			Msg:            "truncated segment header",
		}
	}
	d := bufDecoder{buf: shBuf}
	sh := SegmentHeader{
		Kind:       d.u32(),
		Length:     d.u32(),
		EntryCount: d.u32(),
		Reserved:   d.u32(),
	}
	s.seen++

	seg := &StreamSegment{Kind: sh.Kind, EntryCount: sh.EntryCount}

	// The events segment streams; everything else is small enough to
	// buffer whole.
	if sh.Kind == SegmentEvents && !s.header.HasFlag(FlagCompressed) {
		consumed := false
		remaining := int(sh.Length)
		seg.EventBatches = func(fn func([]types.EventRecord) error) error {
			consumed = true
			batch := make([]byte, 0, s.chunkEvents*types.EventRecordSize)
			for remaining > 0 {
				n := min(remaining, s.chunkEvents*types.EventRecordSize)
				batch = batch[:n]
				if _, err := io.ReadFull(s.r, batch); err != nil {
					return &trackerr.CorruptionError{
						SegmentKind:    SegmentEvents,
						ExpectedLength: sh.Length,
						ActualLength:   sh.Length - uint32(remaining),
						Msg:            "events segment truncated mid-batch",
					}
				}
				remaining -= n
				bd := bufDecoder{buf: batch}
				events := decodeEvents(&bd, uint32(n/types.EventRecordSize))
				if err := fn(events); err != nil {
					return err
				}
			}
			return nil
		}
		// Guard against callers skipping the batches: arrange for the
		// next Next call to drain the remainder.
		s.pendingDrain = func() error {
			if consumed {
				return nil
			}
			_, err := io.CopyN(io.Discard, s.r, int64(remaining))
			return err
		}
		return seg, nil
	}

	body := make([]byte, sh.Length)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return nil, &trackerr.CorruptionError{
			SegmentKind:    sh.Kind,
			ExpectedLength: sh.Length,
			Msg:            "segment payload truncated",
		}
	}
	if s.header.HasFlag(FlagCompressed) && sh.Kind != SegmentIndex {
		var err error
		body, err = decompressSegment(body, sh.Kind)
		if err != nil {
			return nil, err
		}
	}

	bd := bufDecoder{buf: body}
	switch sh.Kind {
	case SegmentEvents:
		events := decodeEvents(&bd, sh.EntryCount)
		seg.EventBatches = func(fn func([]types.EventRecord) error) error {
			return fn(events)
		}
	case SegmentFrequency:
		seg.Frequency = decodeFrequency(&bd, sh.EntryCount, s.pool)
	case SegmentStringPool:
		seg.Strings = decodeStringPool(&bd, sh.EntryCount)
		s.pool = seg.Strings
	case SegmentVariableRegistry:
		seg.Registry = decodeRegistry(&bd, sh.EntryCount, s.pool)
	case SegmentIndex:
		seg.Index = decodeIndex(&bd, sh.EntryCount)
	}
	if bd.truncated {
		return nil, &trackerr.CorruptionError{
			SegmentKind:    sh.Kind,
			ExpectedLength: sh.Length,
			Msg:            "segment payload shorter than its entry count",
		}
	}
	return seg, nil
}

func (s *StreamDecoder) consumeTrailer() error {
	trailer := make([]byte, TrailerSize)
	if _, err := io.ReadFull(s.r, trailer); err != nil {
		return &trackerr.CorruptionError{
			ExpectedLength: TrailerSize,
			Msg:            "truncated trailer",
		}
	}
	d := bufDecoder{buf: trailer}
	d.skip(8) // index offset + CRC; not verifiable without re-reading
	if footer := d.u32(); footer != MagicFooter {
		return &trackerr.CorruptionError{
			Msg: "bad footer magic",
		}
	}
	return nil
}
