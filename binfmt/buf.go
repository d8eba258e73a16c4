package binfmt

import "encoding/binary"

// bufEncoder appends little-endian fields to a growing buffer.
type bufEncoder struct {
	buf []byte
}

func (e *bufEncoder) u16(x uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, x)
}

func (e *bufEncoder) u32(x uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, x)
}

func (e *bufEncoder) u64(x uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, x)
}

func (e *bufEncoder) bytes(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *bufEncoder) zeros(n int) {
	e.buf = append(e.buf, make([]byte, n)...)
}

// lenString writes a u32 length prefix followed by UTF-8 bytes.
func (e *bufEncoder) lenString(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// bufDecoder consumes little-endian fields from a byte slice. Callers
// must bounds-check with remaining() before reading; reads past the end
// return zero values rather than panicking, and set the truncated flag.
type bufDecoder struct {
	buf       []byte
	truncated bool
}

func (d *bufDecoder) remaining() int {
	return len(d.buf)
}

func (d *bufDecoder) skip(n int) {
	if n > len(d.buf) {
		d.truncated = true
		d.buf = nil
		return
	}
	d.buf = d.buf[n:]
}

func (d *bufDecoder) u16() uint16 {
	if len(d.buf) < 2 {
		d.truncated = true
		d.buf = nil
		return 0
	}
	x := binary.LittleEndian.Uint16(d.buf)
	d.buf = d.buf[2:]
	return x
}

func (d *bufDecoder) u32() uint32 {
	if len(d.buf) < 4 {
		d.truncated = true
		d.buf = nil
		return 0
	}
	x := binary.LittleEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return x
}

func (d *bufDecoder) u64() uint64 {
	if len(d.buf) < 8 {
		d.truncated = true
		d.buf = nil
		return 0
	}
	x := binary.LittleEndian.Uint64(d.buf)
	d.buf = d.buf[8:]
	return x
}

// lenString reads a u32 length prefix followed by UTF-8 bytes.
func (d *bufDecoder) lenString() string {
	n := d.u32()
	if uint32(len(d.buf)) < n {
		d.truncated = true
		d.buf = nil
		return ""
	}
	s := string(d.buf[:n])
	d.buf = d.buf[n:]
	return s
}
