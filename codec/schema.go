package codec

import (
	"errors"
	"fmt"
	"math"
)

// Field binds one schema entry to a field of T. Fields are built with the
// typed constructors (Int32, String, ...) which capture a getter and a setter,
// so encoding and decoding never go through reflection.
type Field[T any] struct {
	ID   uint16
	Name string
	Kind Kind

	// encode appends the value to buf and reports false when the value is the
	// kind's default and nothing was written.
	encode func(buf []byte, v *T) ([]byte, bool)
	decode func(r *reader, v *T) error
}

// FieldInfo is the read-only description of one schema entry.
type FieldInfo struct {
	ID   uint16
	Name string
	Kind Kind
}

// Schema is the ordered, id-indexed field list of one message type.
// A Schema is immutable after construction and safe for concurrent use.
type Schema[T any] struct {
	name   string
	fields []Field[T]
	byID   map[uint16]int
}

// NewSchema builds a schema for T. Field ids must be unique and every field
// needs a name and a codec.
func NewSchema[T any](name string, fields ...Field[T]) (*Schema[T], error) {
	if name == "" {
		return nil, errors.New("codec: schema name is empty")
	}
	s := &Schema[T]{
		name:   name,
		fields: make([]Field[T], 0, len(fields)),
		byID:   make(map[uint16]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("codec: schema %s: field %d has no name", name, f.ID)
		}
		if f.encode == nil || f.decode == nil {
			return nil, fmt.Errorf("codec: schema %s: field %s was not built with a field constructor", name, f.Name)
		}
		if prev, dup := s.byID[f.ID]; dup {
			return nil, fmt.Errorf("codec: schema %s: field id %d used by both %s and %s",
				name, f.ID, s.fields[prev].Name, f.Name)
		}
		s.byID[f.ID] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. It is meant for
// package-level schema variables.
func MustSchema[T any](name string, fields ...Field[T]) *Schema[T] {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema[T]) Name() string {
	return s.name
}

// Fields returns the schema entries in declaration order.
func (s *Schema[T]) Fields() []FieldInfo {
	infos := make([]FieldInfo, len(s.fields))
	for i, f := range s.fields {
		infos[i] = FieldInfo{ID: f.ID, Name: f.Name, Kind: f.Kind}
	}
	return infos
}

// Marshal implements Marshaller. It never fails.
func (s *Schema[T]) Marshal(v *T) ([]byte, error) {
	return s.Encode(v), nil
}

// Unmarshal implements Marshaller.
func (s *Schema[T]) Unmarshal(data []byte) (*T, error) {
	return s.Decode(data)
}

// Field constructors. The id is the stable wire identity of the field; names
// are only used in errors and descriptions.

func Bool[T any](id uint16, name string, get func(*T) bool, set func(*T, bool)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindBool,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			if !get(v) {
				return buf, false
			}
			return append(putHeader(buf, KindBool, id), 1), true
		},
		decode: func(r *reader, v *T) error {
			b, err := r.bool()
			if err == nil {
				set(v, b)
			}
			return err
		},
	}
}

func Int32[T any](id uint16, name string, get func(*T) int32, set func(*T, int32)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindInt32,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			x := get(v)
			if x == 0 {
				return buf, false
			}
			return putUint32(putHeader(buf, KindInt32, id), uint32(x)), true
		},
		decode: func(r *reader, v *T) error {
			x, err := r.uint32()
			if err == nil {
				set(v, int32(x))
			}
			return err
		},
	}
}

func Int64[T any](id uint16, name string, get func(*T) int64, set func(*T, int64)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindInt64,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			x := get(v)
			if x == 0 {
				return buf, false
			}
			return putUint64(putHeader(buf, KindInt64, id), uint64(x)), true
		},
		decode: func(r *reader, v *T) error {
			x, err := r.uint64()
			if err == nil {
				set(v, int64(x))
			}
			return err
		},
	}
}

func Uint32[T any](id uint16, name string, get func(*T) uint32, set func(*T, uint32)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindUint32,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			x := get(v)
			if x == 0 {
				return buf, false
			}
			return putUint32(putHeader(buf, KindUint32, id), x), true
		},
		decode: func(r *reader, v *T) error {
			x, err := r.uint32()
			if err == nil {
				set(v, x)
			}
			return err
		},
	}
}

func Uint64[T any](id uint16, name string, get func(*T) uint64, set func(*T, uint64)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindUint64,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			x := get(v)
			if x == 0 {
				return buf, false
			}
			return putUint64(putHeader(buf, KindUint64, id), x), true
		},
		decode: func(r *reader, v *T) error {
			x, err := r.uint64()
			if err == nil {
				set(v, x)
			}
			return err
		},
	}
}

func Float32[T any](id uint16, name string, get func(*T) float32, set func(*T, float32)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindFloat32,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			x := get(v)
			if math.Float32bits(x) == 0 {
				return buf, false
			}
			return putFloat32(putHeader(buf, KindFloat32, id), x), true
		},
		decode: func(r *reader, v *T) error {
			x, err := r.float32()
			if err == nil {
				set(v, x)
			}
			return err
		},
	}
}

func Float64[T any](id uint16, name string, get func(*T) float64, set func(*T, float64)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindFloat64,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			x := get(v)
			if math.Float64bits(x) == 0 {
				return buf, false
			}
			return putFloat64(putHeader(buf, KindFloat64, id), x), true
		},
		decode: func(r *reader, v *T) error {
			x, err := r.float64()
			if err == nil {
				set(v, x)
			}
			return err
		},
	}
}

func String[T any](id uint16, name string, get func(*T) string, set func(*T, string)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindString,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			x := get(v)
			if x == "" {
				return buf, false
			}
			buf = putUint32(putHeader(buf, KindString, id), uint32(len(x)))
			return append(buf, x...), true
		},
		decode: func(r *reader, v *T) error {
			b, err := r.lengthPrefixed()
			if err == nil {
				set(v, string(b))
			}
			return err
		},
	}
}

// Bytes decodes into a fresh slice that does not alias the frame buffer.
// An empty slice is the default value and is not written.
func Bytes[T any](id uint16, name string, get func(*T) []byte, set func(*T, []byte)) Field[T] {
	return Field[T]{ID: id, Name: name, Kind: KindBytes,
		encode: func(buf []byte, v *T) ([]byte, bool) {
			x := get(v)
			if len(x) == 0 {
				return buf, false
			}
			buf = putUint32(putHeader(buf, KindBytes, id), uint32(len(x)))
			return append(buf, x...), true
		},
		decode: func(r *reader, v *T) error {
			b, err := r.lengthPrefixed()
			if err == nil {
				set(v, append([]byte(nil), b...))
			}
			return err
		},
	}
}
