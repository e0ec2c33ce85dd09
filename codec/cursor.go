package codec

import (
	"encoding/binary"
	"fmt"
)

// writer accumulates a payload using the wire format's primitive encodings:
// little-endian integers, u32-prefixed strings/sequences, u8 option tags.
// Mirrors the teacher's hand-rolled Serialize functions (transport.Packet,
// transport.NoisePacket) rather than a reflection-based encoder.
type writer struct {
	buf []byte
}

func newWriter(sizeHint int) *writer {
	return &writer{buf: make([]byte, 0, sizeHint)}
}

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) putUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) putUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putBool(v bool) {
	if v {
		w.putUint8(1)
	} else {
		w.putUint8(0)
	}
}

func (w *writer) putRawBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) putString(s string) { w.putBytes([]byte(s)) }

func (w *writer) putOptionString(present bool, s string) {
	w.putBool(present)
	if present {
		w.putString(s)
	}
}

// reader consumes a payload written by writer, returning ErrMalformedPayload
// wrapped with context on any short read.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedPayload, n, r.remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) getUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) getUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) getUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) getUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) getBool() (bool, error) {
	v, err := r.getUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *reader) getBytes() ([]byte, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	raw, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (r *reader) getString() (string, error) {
	b, err := r.getBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) getOptionString() (bool, string, error) {
	present, err := r.getBool()
	if err != nil {
		return false, "", err
	}
	if !present {
		return false, "", nil
	}
	s, err := r.getString()
	if err != nil {
		return false, "", err
	}
	return true, s, nil
}

func (r *reader) atEnd() bool { return r.remaining() == 0 }
