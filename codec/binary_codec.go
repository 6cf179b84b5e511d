package codec

import (
	"encoding/binary"
	"math"
)

// Encode serializes v field by field in schema order. Fields holding their
// kind's default value are left out; Decode restores them as defaults.
// A nil v encodes as an empty message.
func (s *Schema[T]) Encode(v *T) []byte {
	if v == nil {
		return []byte{byte(KindStop)}
	}
	buf := make([]byte, 0, 16*len(s.fields)+1)
	for i := range s.fields {
		buf, _ = s.fields[i].encode(buf, v)
	}
	return append(buf, byte(KindStop))
}

// Decode parses one frame produced by Encode (possibly by a peer holding a
// newer schema). Unknown field ids are skipped by their kind's length rule.
func (s *Schema[T]) Decode(data []byte) (*T, error) {
	r := &reader{buf: data}
	v := new(T)
	for {
		kind, id, err := r.header()
		if err != nil {
			return nil, err
		}
		if kind == KindStop {
			break
		}
		idx, known := s.byID[id]
		if !known {
			if err := r.skip(kind); err != nil {
				return nil, err
			}
			continue
		}
		f := &s.fields[idx]
		if f.Kind != kind {
			return nil, malformed("%s: field %s (id %d) is %s on the wire, schema says %s",
				s.name, f.Name, id, kind, f.Kind)
		}
		if err := f.decode(r, v); err != nil {
			return nil, err
		}
	}
	if r.remaining() != 0 {
		return nil, malformed("%s: %d trailing bytes after stop marker", s.name, r.remaining())
	}
	return v, nil
}

func putHeader(buf []byte, kind Kind, id uint16) []byte {
	buf = append(buf, byte(kind))
	return binary.BigEndian.AppendUint16(buf, id)
}

func putUint32(buf []byte, x uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, x)
}

func putUint64(buf []byte, x uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, x)
}

func putFloat32(buf []byte, x float32) []byte {
	return putUint32(buf, math.Float32bits(x))
}

func putFloat64(buf []byte, x float64) []byte {
	return putUint64(buf, math.Float64bits(x))
}

// reader walks a frame buffer. Every read checks the remaining length first
// so a truncated frame surfaces as ErrMalformedFrame rather than a panic.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, malformed("need %d bytes at offset %d, have %d", n, r.off, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// header reads a field header. The stop marker is a lone kind byte.
func (r *reader) header() (Kind, uint16, error) {
	if r.remaining() < 1 {
		return 0, 0, malformed("missing stop marker at offset %d", r.off)
	}
	kind := Kind(r.buf[r.off])
	if kind == KindStop {
		r.off++
		return KindStop, 0, nil
	}
	if _, ok := kind.fixedSize(); !ok {
		return 0, 0, malformed("unknown kind %d at offset %d", byte(kind), r.off)
	}
	b, err := r.next(fieldHeaderSize)
	if err != nil {
		return 0, 0, err
	}
	return kind, binary.BigEndian.Uint16(b[1:]), nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) float32() (float32, error) {
	x, err := r.uint32()
	return math.Float32frombits(x), err
}

func (r *reader) float64() (float64, error) {
	x, err := r.uint64()
	return math.Float64frombits(x), err
}

func (r *reader) lengthPrefixed() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, malformed("length %d at offset %d exceeds remaining %d bytes", n, r.off, r.remaining())
	}
	return r.next(int(n))
}

// skip consumes the value of a field the schema does not know.
func (r *reader) skip(kind Kind) error {
	size, _ := kind.fixedSize()
	if size > 0 {
		_, err := r.next(size)
		return err
	}
	_, err := r.lengthPrefixed()
	return err
}
