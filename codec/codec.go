// Package codec implements the schema-driven binary message codec.
//
// A message is encoded as a sequence of tagged field entries followed by a
// single stop byte:
//
//	┌──────┬─────────┬─────────────┐     ┌──────┐
//	│ kind │   id    │    value    │ ... │ stop │
//	│ u8   │ u16 BE  │ kind-sized  │     │ 0x00 │
//	└──────┴─────────┴─────────────┘     └──────┘
//
// Numeric values are fixed width and big-endian, strings and byte slices are
// prefixed with a uint32 length. Every entry carries its own id, so a reader
// with an older schema can skip fields it does not know.
package codec

import (
	"errors"
	"fmt"
)

// Kind is the wire type tag written in front of every field value.
type Kind byte

const (
	KindStop    Kind = 0 // End of message marker, never a field kind
	KindBool    Kind = 1
	KindInt32   Kind = 2
	KindInt64   Kind = 3
	KindUint32  Kind = 4
	KindUint64  Kind = 5
	KindFloat32 Kind = 6
	KindFloat64 Kind = 7
	KindString  Kind = 8
	KindBytes   Kind = 9
)

// fieldHeaderSize is kind (1 byte) + field id (2 bytes).
const fieldHeaderSize = 3

var kindNames = [...]string{
	KindStop:    "stop",
	KindBool:    "bool",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindUint32:  "uint32",
	KindUint64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
	KindBytes:   "bytes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// fixedSize returns the encoded width of fixed-size kinds. Variable-length
// kinds report 0 and ok=true, unknown kinds report ok=false.
func (k Kind) fixedSize() (size int, ok bool) {
	switch k {
	case KindBool:
		return 1, true
	case KindInt32, KindUint32, KindFloat32:
		return 4, true
	case KindInt64, KindUint64, KindFloat64:
		return 8, true
	case KindString, KindBytes:
		return 0, true
	}
	return 0, false
}

// ErrMalformedFrame is returned (wrapped) by Decode when the buffer violates
// the frame structure: truncated values, a missing stop byte, a kind that does
// not match the schema, an unknown kind or trailing bytes.
var ErrMalformedFrame = errors.New("codec: malformed frame")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// Marshaller converts values of one message type to and from frames.
// *Schema[T] is the implementation used throughout this module.
type Marshaller[T any] interface {
	Marshal(v *T) ([]byte, error)
	Unmarshal(data []byte) (*T, error)
}
