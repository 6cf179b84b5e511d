package protocol

import (
	"fmt"

	"github.com/golang/snappy"
)

// Compress snappy-encodes body and returns the flags to put in the header.
// When compression does not make the body smaller the raw body is kept.
func Compress(body []byte) (flags byte, out []byte) {
	if len(body) == 0 {
		return 0, body
	}
	compressed := snappy.Encode(nil, body)
	if len(compressed) >= len(body) {
		return 0, body
	}
	return FlagSnappy, compressed
}

// Decompress reverses Compress according to the header flags.
func Decompress(flags byte, body []byte) ([]byte, error) {
	if flags&FlagSnappy == 0 {
		return body, nil
	}
	n, err := snappy.DecodedLen(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: snappy body: %w", err)
	}
	if n > int(MaxBodyLen) {
		return nil, fmt.Errorf("protocol: decompressed body of %d bytes exceeds limit %d", n, MaxBodyLen)
	}
	out, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("protocol: snappy body: %w", err)
	}
	return out, nil
}
