package wire

import "encoding/binary"

// Writer is a growable little-endian write buffer, grounded on the
// teacher's consistent use of binary.LittleEndian across fixed-size wire
// structs (device/noise_types.go, device/index_table.go), generalized here
// into a reusable append-only cursor so Peer's outgoing pipeline never
// hand-rolls offset arithmetic.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with buf as its backing array, truncated to
// length zero so callers can reuse pooled buffers from internal/alloc.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// ReserveUint32 appends a placeholder uint32 and returns its offset so the
// caller can patch it later (used for CRC32, which covers bytes written
// after it).
func (w *Writer) ReserveUint32() int {
	off := len(w.buf)
	w.WriteUint32(0)
	return off
}

func (w *Writer) PatchUint32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[offset:offset+4], v)
}
