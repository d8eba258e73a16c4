package binfmt

import (
	"github.com/pithecene-io/burrow/trackerr"
	"github.com/pithecene-io/burrow/types"
)

// RebuildIndex recovers a container whose tail is damaged: a truncated
// segment, a missing index, or a bad trailer. It walks segments from
// the header, keeps every segment that is fully intact, reconstructs
// the frequency table from event fingerprints when the frequency
// segment is lost, and returns a parseable container.
//
// Recovery fails when the events segment itself is not intact; without
// events there is nothing to rebuild around.
func RebuildIndex(data []byte) (*Container, error) {
	if len(data) < HeaderSize {
		return nil, &trackerr.CorruptionError{
			ExpectedLength: HeaderSize,
			ActualLength:   uint32(len(data)),
			Msg:            "no recoverable header",
		}
	}
	hdr, err := parseHeader(padForHeader(data))
	if err != nil {
		return nil, err
	}

	c := &Container{Header: hdr}

	// Walk forward, keeping intact segments. The walk stops at the
	// first segment whose declared length runs past the data we have;
	// everything before it survives.
	var headers []SegmentHeader
	var offsets []int
	offset := HeaderSize
	for offset+SegmentHeaderSize <= len(data) {
		d := bufDecoder{buf: data[offset : offset+SegmentHeaderSize]}
		sh := SegmentHeader{
			Kind:       d.u32(),
			Length:     d.u32(),
			EntryCount: d.u32(),
			Reserved:   d.u32(),
		}
		if sh.Kind == 0 || sh.Kind > SegmentIndex {
			break
		}
		end := offset + SegmentHeaderSize + int(sh.Length)
		if end > len(data) {
			break
		}
		// The old index and trailer are rebuilt, not salvaged.
		if sh.Kind != SegmentIndex {
			headers = append(headers, sh)
			offsets = append(offsets, offset)
		}
		offset = end
	}

	eventsIntact := false
	for _, sh := range headers {
		if sh.Kind == SegmentEvents {
			eventsIntact = true
		}
	}
	if !eventsIntact {
		return nil, &trackerr.CorruptionError{
			SegmentKind: SegmentEvents,
			Msg:         "events segment not intact; rebuild impossible",
		}
	}

	if err := decodeContainerBody(c, data, headers, offsets); err != nil {
		return nil, err
	}

	// A lost frequency segment is reconstructable from per-event
	// fingerprints; representative names are gone but counts and byte
	// totals are exact for the kept stream.
	if len(c.Payload.Frequency) == 0 && len(c.Payload.Events) > 0 {
		c.Payload.Frequency = rebuildFrequency(c.Payload.Events)
	}

	// Recompute the index over what survived.
	c.Index = rebuildIndexEntries(headers, offsets)
	c.Header.SegmentCount = uint32(len(headers)) + 1
	return c, nil
}

func padForHeader(data []byte) []byte {
	if len(data) >= HeaderSize+TrailerSize {
		return data
	}
	return append(append([]byte{}, data...), make([]byte, HeaderSize+TrailerSize-len(data))...)
}

func rebuildFrequency(events []types.EventRecord) []types.CallSiteStats {
	byFP := make(map[types.Fingerprint]*types.CallSiteStats)
	order := make([]types.Fingerprint, 0)
	for i := range events {
		ev := &events[i]
		if ev.Kind != types.EventKindAllocation {
			continue
		}
		s, ok := byFP[ev.Fingerprint]
		if !ok {
			s = &types.CallSiteStats{Fingerprint: ev.Fingerprint}
			byFP[ev.Fingerprint] = s
			order = append(order, ev.Fingerprint)
		}
		s.Count++
		s.TotalBytes += ev.Size
	}
	out := make([]types.CallSiteStats, 0, len(order))
	for _, fp := range order {
		out = append(out, *byFP[fp])
	}
	return out
}

func rebuildIndexEntries(headers []SegmentHeader, offsets []int) []IndexEntry {
	out := make([]IndexEntry, 0, len(headers))
	for i, sh := range headers {
		out = append(out, IndexEntry{
			SegmentKind: sh.Kind,
			ByteOffset:  uint32(offsets[i]),
			ByteLength:  sh.Length,
			EntryCount:  sh.EntryCount,
		})
	}
	return out
}
