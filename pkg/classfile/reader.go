package classfile

import (
	"encoding/binary"
	"fmt"
)

// reader walks a class file buffer with position tracking. All multi-byte
// values in the class file format are big-endian.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

// position returns the current byte offset.
func (r *reader) position() int {
	return r.pos
}

func (r *reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.pos, len(r.data)-r.pos)
	}

	return nil
}

func (r *reader) u1() (uint8, error) {
	err := r.need(1)
	if err != nil {
		return 0, err
	}

	v := r.data[r.pos]
	r.pos++

	return v, nil
}

func (r *reader) u2() (uint16, error) {
	err := r.need(2)
	if err != nil {
		return 0, err
	}

	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2

	return v, nil
}

func (r *reader) u4() (uint32, error) {
	err := r.need(4)
	if err != nil {
		return 0, err
	}

	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4

	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	err := r.need(n)
	if err != nil {
		return nil, err
	}

	v := r.data[r.pos : r.pos+n]
	r.pos += n

	return v, nil
}

func (r *reader) skip(n int) error {
	err := r.need(n)
	if err != nil {
		return err
	}

	r.pos += n

	return nil
}

// writer accumulates big-endian class file bytes.
type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u2(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u4(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) len() int {
	return len(w.buf)
}
