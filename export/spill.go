package export

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/burrow/types"
)

// Spill frame size constants.
const (
	// MaxSpillFrameSize is the maximum frame size (16 MiB), including
	// length prefix.
	MaxSpillFrameSize = 16 * 1024 * 1024
	// MaxSpillPayloadSize is the maximum payload size.
	MaxSpillPayloadSize = MaxSpillFrameSize - spillPrefixSize
	// spillPrefixSize is the size of the length prefix in bytes.
	spillPrefixSize = 4
)

// SpillErrorKind classifies spill frame decoding errors.
type SpillErrorKind int

const (
	// SpillErrorPartial indicates a truncated or incomplete frame.
	SpillErrorPartial SpillErrorKind = iota
	// SpillErrorTooLarge indicates a frame exceeding MaxSpillFrameSize.
	SpillErrorTooLarge
	// SpillErrorDecode indicates a msgpack decoding error.
	SpillErrorDecode
)

// SpillError represents a spill frame decoding error.
type SpillError struct {
	Kind SpillErrorKind
	Msg  string
	Err  error
}

func (e *SpillError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *SpillError) Unwrap() error {
	return e.Err
}

// spillBatch is the msgpack wire form of one drained event batch.
type spillBatch struct {
	ProducerID uint64            `msgpack:"producer_id"`
	Events     []spillEventEntry `msgpack:"events"`
}

type spillEventEntry struct {
	ID          uint64 `msgpack:"id"`
	Ptr         uint64 `msgpack:"ptr"`
	Size        uint64 `msgpack:"size"`
	Timestamp   uint64 `msgpack:"ts"`
	Kind        uint32 `msgpack:"kind"`
	Flags       uint32 `msgpack:"flags"`
	Fingerprint uint64 `msgpack:"fp"`
	Seq         uint64 `msgpack:"seq"`
}

// SpillWriter appends drained event batches to a spill file as
// length-prefixed msgpack frames. Batches written between snapshots are
// folded back into the container at snapshot time, keeping the
// aggregator's resident memory bounded by one drain.
type SpillWriter struct {
	f      *os.File
	w      *bufio.Writer
	frames int64
}

// NewSpillWriter creates or truncates the spill file at path.
func NewSpillWriter(path string) (*SpillWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &SpillWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// WriteBatch appends one producer's drained events as a single frame.
func (s *SpillWriter) WriteBatch(producerID uint64, events []types.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := spillBatch{
		ProducerID: producerID,
		Events:     make([]spillEventEntry, 0, len(events)),
	}
	for i := range events {
		ev := &events[i]
		batch.Events = append(batch.Events, spillEventEntry{
			ID:          ev.TaskOrThreadID,
			Ptr:         ev.Ptr,
			Size:        ev.Size,
			Timestamp:   ev.Timestamp,
			Kind:        uint32(ev.Kind),
			Flags:       ev.Flags,
			Fingerprint: ev.Fingerprint,
			Seq:         ev.Seq,
		})
	}

	payload, err := msgpack.Marshal(&batch)
	if err != nil {
		return &SpillError{Kind: SpillErrorDecode, Msg: "failed to encode spill batch", Err: err}
	}
	if len(payload) > MaxSpillPayloadSize {
		return &SpillError{
			Kind: SpillErrorTooLarge,
			Msg:  fmt.Sprintf("spill payload %d exceeds maximum %d", len(payload), MaxSpillPayloadSize),
		}
	}

	var prefix [spillPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := s.w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	s.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (s *SpillWriter) Frames() int64 {
	return s.frames
}

// Close flushes and closes the spill file.
func (s *SpillWriter) Close() error {
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}

// ReadSpill reads every frame back from a spill file, in write order.
// A cleanly truncated tail frame yields a SpillErrorPartial; events
// from intact frames are still returned.
func ReadSpill(r io.Reader) ([]types.EventRecord, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	var out []types.EventRecord
	for {
		var prefix [spillPrefixSize]byte
		_, err := io.ReadFull(br, prefix[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, &SpillError{Kind: SpillErrorPartial, Msg: "failed to read length prefix", Err: err}
		}
		payloadSize := binary.BigEndian.Uint32(prefix[:])
		if payloadSize > MaxSpillPayloadSize {
			return out, &SpillError{
				Kind: SpillErrorTooLarge,
				Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxSpillPayloadSize),
			}
		}

		payload := make([]byte, payloadSize)
		if _, err := io.ReadFull(br, payload); err != nil {
			return out, &SpillError{Kind: SpillErrorPartial, Msg: "failed to read payload", Err: err}
		}

		var batch spillBatch
		if err := msgpack.Unmarshal(payload, &batch); err != nil {
			return out, &SpillError{Kind: SpillErrorDecode, Msg: "failed to decode spill batch", Err: err}
		}
		for _, e := range batch.Events {
			out = append(out, types.EventRecord{
				TaskOrThreadID: e.ID,
				Ptr:            e.Ptr,
				Size:           e.Size,
				Timestamp:      e.Timestamp,
				Kind:           types.EventKind(e.Kind),
				Flags:          e.Flags,
				Fingerprint:    e.Fingerprint,
				Seq:            e.Seq,
			})
		}
	}
}
