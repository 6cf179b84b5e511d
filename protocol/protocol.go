// Package protocol implements the connection-level frame layout that carries
// duplex streams over one byte stream (TCP, pipe, ...).
//
// Every frame has a fixed-size 14-byte header followed by a variable-length
// body. The receiver reads the header first to learn the body length, then
// reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6          10         14
//	┌──────┬──┬──┬──┬──────────┬──────────┬───────────────┐
//	│magic │v │fl│mt│ streamID │ bodyLen  │    body ...   │
//	│ drp  │01│  │  │  uint32  │  uint32  │ bodyLen bytes │
//	└──────┴──┴──┴──┴──────────┴──────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "drp" (duplex rpc protocol). They reject peers that speak
// something else on the port.
const (
	MagicNumber byte = 0x64 // 'd'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (flags) + 1 (msgType) + 4 (streamID) + 4 (bodyLen)
)

// MaxBodyLen bounds a single frame body.
const MaxBodyLen uint32 = 4 << 20

// MsgType tells the receiver what a frame does to its stream.
type MsgType byte

const (
	MsgTypeOpen      MsgType = 0 // Caller opens a stream; body is the method full name
	MsgTypeData      MsgType = 1 // One encoded message
	MsgTypeEnd       MsgType = 2 // Sender completed its direction of the stream
	MsgTypeReset     MsgType = 3 // Stream aborted; body is the reason
	MsgTypeHeartbeat MsgType = 4 // KeepAlive probe (stream 0, no body)
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeOpen:
		return "open"
	case MsgTypeData:
		return "data"
	case MsgTypeEnd:
		return "end"
	case MsgTypeReset:
		return "reset"
	case MsgTypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("msgType(%d)", byte(t))
}

// Flag bits.
const (
	FlagSnappy byte = 1 << 0 // Body is snappy-compressed
	knownFlags      = FlagSnappy
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	Flags    byte
	MsgType  MsgType
	StreamID uint32 // 0 is reserved for connection-level frames (heartbeat)
	BodyLen  uint32
}

// Encode writes a complete frame (header + body) to w.
// The caller must serialize writers sharing w, otherwise frames from
// different streams interleave and corrupt the connection.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("protocol: header says %d body bytes, got %d", h.BodyLen, len(body))
	}
	if h.BodyLen > MaxBodyLen {
		return fmt.Errorf("protocol: body of %d bytes exceeds limit %d", h.BodyLen, MaxBodyLen)
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.Flags
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.StreamID)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	// One Write per frame so a frame is never split across two syscalls
	// racing a connection close.
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads a complete frame (header + body) from r, validating the magic
// number, version, flags, message type and body length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4]&^knownFlags != 0 {
		return nil, nil, fmt.Errorf("unsupported flags: %08b", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	streamID := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body of %d bytes exceeds limit %d", bodyLen, MaxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		Flags:    headerBuf[4],
		MsgType:  msgType,
		StreamID: streamID,
		BodyLen:  bodyLen,
	}, body, nil
}
