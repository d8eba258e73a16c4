package binfmt

import (
	"io"

	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// SelectiveReader reads only requested segments, seeking through the
// index instead of scanning the file. Suited to large containers where
// a consumer wants a single view's inputs.
type SelectiveReader struct {
	r      io.ReaderAt
	size   int64
	header Header
	index  []IndexEntry

	// pool loads lazily on the first segment that needs it.
	pool       []string
	poolLoaded bool
}

// OpenSelective reads the header, trailer, and index. The caller keeps
// r open for the reader's lifetime.
func OpenSelective(r io.ReaderAt, size int64) (*SelectiveReader, error) {
	if size < HeaderSize+TrailerSize {
		return nil, &trackerr.CorruptionError{
			ExpectedLength: HeaderSize + TrailerSize,
			ActualLength:   uint32(size),
			Msg:            "file shorter than header and trailer",
		}
	}

	hdrBuf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(hdrBuf, 0); err != nil {
		return nil, trackerr.New(trackerr.KindIO, "read_header", "file unreadable", err)
	}
	hdr, err := parseHeader(append(hdrBuf, make([]byte, TrailerSize)...))
	if err != nil {
		return nil, err
	}

	trailerBuf := make([]byte, TrailerSize)
	if _, err := r.ReadAt(trailerBuf, size-TrailerSize); err != nil {
		return nil, trackerr.New(trackerr.KindIO, "read_trailer", "file unreadable", err)
	}
	td := bufDecoder{buf: trailerBuf}
	indexOffset := td.u32()
	td.skip(4)
	if footer := td.u32(); footer != MagicFooter {
		return nil, &trackerr.CorruptionError{Msg: "bad footer magic"}
	}
	if int64(indexOffset)+SegmentHeaderSize > size-TrailerSize {
		return nil, &trackerr.CorruptionError{
			Offset: int64(indexOffset),
			Msg:    "index offset beyond file body",
		}
	}

	// Read the index segment header, then its payload.
	shBuf := make([]byte, SegmentHeaderSize)
	if _, err := r.ReadAt(shBuf, int64(indexOffset)); err != nil {
		return nil, trackerr.New(trackerr.KindIO, "read_index", "file unreadable", err)
	}
	shd := bufDecoder{buf: shBuf}
	sh := SegmentHeader{Kind: shd.u32(), Length: shd.u32(), EntryCount: shd.u32(), Reserved: shd.u32()}
	if sh.Kind != SegmentIndex {
		return nil, &trackerr.CorruptionError{
			SegmentKind: sh.Kind,
			Offset:      int64(indexOffset),
			Msg:         "trailer does not point at an index segment",
		}
	}
	body := make([]byte, sh.Length)
	if _, err := r.ReadAt(body, int64(indexOffset)+SegmentHeaderSize); err != nil {
		return nil, &trackerr.CorruptionError{
			SegmentKind:    SegmentIndex,
			ExpectedLength: sh.Length,
			Msg:            "index payload truncated",
		}
	}
	bd := bufDecoder{buf: body}
	index := decodeIndex(&bd, sh.EntryCount)
	if bd.truncated {
		return nil, &trackerr.CorruptionError{SegmentKind: SegmentIndex, Msg: "index shorter than its entry count"}
	}

	return &SelectiveReader{r: r, size: size, header: hdr, index: index}, nil
}

// Header returns the decoded file header.
func (s *SelectiveReader) Header() Header {
	return s.header
}

// Index returns the decoded segment index.
func (s *SelectiveReader) Index() []IndexEntry {
	return s.index
}

// segmentBody seeks to a segment and returns its decompressed payload.
func (s *SelectiveReader) segmentBody(kind uint32) ([]byte, uint32, error) {
	for _, entry := range s.index {
		if entry.SegmentKind != kind {
			continue
		}
		body := make([]byte, entry.ByteLength)
		if _, err := s.r.ReadAt(body, int64(entry.ByteOffset)+SegmentHeaderSize); err != nil {
			return nil, 0, &trackerr.CorruptionError{
				SegmentKind:    kind,
				ExpectedLength: entry.ByteLength,
				Msg:            "segment payload truncated",
			}
		}
		if s.header.HasFlag(FlagCompressed) && kind != SegmentIndex {
			out, err := decompressSegment(body, kind)
			return out, entry.EntryCount, err
		}
		return body, entry.EntryCount, nil
	}
	// A missing segment yields empty content, not an error: containers
	// always carry all segment kinds, but rebuilt ones may not.
	return nil, 0, nil
}

func (s *SelectiveReader) loadPool() error {
	if s.poolLoaded {
		return nil
	}
	body, count, err := s.segmentBody(SegmentStringPool)
	if err != nil {
		return err
	}
	d := bufDecoder{buf: body}
	s.pool = decodeStringPool(&d, count)
	s.poolLoaded = true
	if d.truncated {
		return &trackerr.CorruptionError{SegmentKind: SegmentStringPool, Msg: "string pool truncated"}
	}
	return nil
}

// Events reads only the events segment.
func (s *SelectiveReader) Events() ([]types.EventRecord, error) {
	body, count, err := s.segmentBody(SegmentEvents)
	if err != nil {
		return nil, err
	}
	d := bufDecoder{buf: body}
	out := decodeEvents(&d, count)
	if d.truncated {
		return nil, &trackerr.CorruptionError{SegmentKind: SegmentEvents, Msg: "events truncated"}
	}
	return out, nil
}

// Frequency reads only the frequency segment.
func (s *SelectiveReader) Frequency() ([]types.CallSiteStats, error) {
	if err := s.loadPool(); err != nil {
		return nil, err
	}
	body, count, err := s.segmentBody(SegmentFrequency)
	if err != nil {
		return nil, err
	}
	d := bufDecoder{buf: body}
	out := decodeFrequency(&d, count, s.pool)
	if d.truncated {
		return nil, &trackerr.CorruptionError{SegmentKind: SegmentFrequency, Msg: "frequency truncated"}
	}
	return out, nil
}

// Registry reads only the variable registry segment.
func (s *SelectiveReader) Registry() ([]types.AllocationInfo, error) {
	if err := s.loadPool(); err != nil {
		return nil, err
	}
	body, count, err := s.segmentBody(SegmentVariableRegistry)
	if err != nil {
		return nil, err
	}
	d := bufDecoder{buf: body}
	out := decodeRegistry(&d, count, s.pool)
	if d.truncated {
		return nil, &trackerr.CorruptionError{SegmentKind: SegmentVariableRegistry, Msg: "registry truncated"}
	}
	return out, nil
}
