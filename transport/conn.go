// Package transport multiplexes duplex byte-frame streams over one connection.
//
// Conn owns a net.Conn. A single receive goroutine (recvLoop) reads frames and
// routes them to the stream they belong to, while writers from any goroutine
// take the connection write lock for exactly one frame at a time:
//
//	stream-1 ──Send──┐                         ┌──► stream-1 queue
//	stream-2 ──Send──┼──► single conn ──► peer ─┤
//	stream-3 ──End───┘                         └──► stream-3 queue
//
// Each direction of a stream completes independently: CloseSend sends an End
// frame, and Recv reports io.EOF once the peer's End has been read and every
// frame before it was delivered.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"duplex-rpc/protocol"
)

var (
	// ErrStreamClosed is returned by operations on a direction that already
	// completed or on a stream that was released.
	ErrStreamClosed = errors.New("transport: stream closed")

	// ErrTransport wraps every failure of the underlying channel: read and
	// write errors, protocol violations and resets sent by the peer.
	ErrTransport = errors.New("transport: channel failure")

	errLocalClose = errors.New("connection closed")
)

// resetTimeout bounds how long Stream.Close waits to tell the peer.
const resetTimeout = time.Second

// Options configures a Conn.
type Options struct {
	Logger *zap.Logger

	// Compress snappy-compresses data frames when it makes them smaller.
	// Receivers always understand compressed frames.
	Compress bool

	// HeartbeatInterval enables periodic heartbeat frames when positive.
	HeartbeatInterval time.Duration

	// OnStream is called from the receive goroutine for every stream the
	// peer opens. It must not block. When nil, peer-opened streams are reset.
	OnStream func(*Stream)
}

// Conn is one multiplexed connection.
type Conn struct {
	conn    net.Conn
	opts    Options
	log     *zap.Logger
	sending chan struct{} // Write lock; a channel so waiting writers can give up

	mu      sync.Mutex
	streams map[uint32]*Stream
	nextID  uint32
	err     error

	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn wraps conn and starts the receive loop (and the heartbeat loop when
// enabled). The Conn owns conn from now on.
func NewConn(conn net.Conn, opts Options) *Conn {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Conn{
		conn:    conn,
		opts:    opts,
		log:     log.With(zap.Stringer("remote", conn.RemoteAddr())),
		sending: make(chan struct{}, 1),
		streams: make(map[uint32]*Stream),
		closed:  make(chan struct{}),
	}
	go c.recvLoop()
	if opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop(opts.HeartbeatInterval)
	}
	return c
}

// OpenStream starts a new stream addressed to method.
func (c *Conn) OpenStream(ctx context.Context, method string) (*Stream, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	s := newStream(c, c.nextID, method)
	c.streams[s.id] = s
	c.mu.Unlock()

	if err := c.writeFrame(ctx, nil, protocol.MsgTypeOpen, s.id, []byte(method)); err != nil {
		c.remove(s.id)
		return nil, err
	}
	c.log.Debug("stream opened", zap.Uint32("stream", s.id), zap.String("method", method))
	return s, nil
}

// Close tears the connection down. Every stream still attached fails with an
// ErrTransport error. Calling Close more than once is safe.
func (c *Conn) Close() error {
	c.fail(errLocalClose)
	return nil
}

// Done is closed once the connection has failed or was closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err returns the reason the connection stopped, or nil while it is alive.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ActiveStreams reports how many streams are attached to the connection.
func (c *Conn) ActiveStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *Conn) fail(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = fmt.Errorf("%w: %v", ErrTransport, cause)
		streams := c.streams
		c.streams = make(map[uint32]*Stream)
		c.mu.Unlock()

		close(c.closed)
		if err := c.conn.Close(); err != nil {
			c.log.Debug("close connection", zap.Error(err))
		}
		for _, s := range streams {
			s.fail(c.err)
		}
		if cause == errLocalClose {
			c.log.Debug("connection closed")
		} else {
			c.log.Info("connection failed", zap.Error(cause))
		}
	})
}

func (c *Conn) lookup(id uint32) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (c *Conn) remove(id uint32) {
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
}

// writeFrame writes one frame under the connection write lock. Waiting for
// the lock is abandoned when ctx ends, the connection fails or abort closes.
func (c *Conn) writeFrame(ctx context.Context, abort <-chan struct{}, mt protocol.MsgType, id uint32, body []byte) error {
	if uint32(len(body)) > protocol.MaxBodyLen {
		return fmt.Errorf("transport: frame body of %d bytes exceeds limit %d", len(body), protocol.MaxBodyLen)
	}
	var flags byte
	if c.opts.Compress && mt == protocol.MsgTypeData {
		flags, body = protocol.Compress(body)
	}

	select {
	case c.sending <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return c.Err()
	case <-abort:
		return ErrStreamClosed
	}
	defer func() { <-c.sending }()

	select {
	case <-c.closed:
		return c.Err()
	default:
	}

	header := protocol.Header{
		Flags:    flags,
		MsgType:  mt,
		StreamID: id,
		BodyLen:  uint32(len(body)),
	}
	if err := protocol.Encode(c.conn, &header, body); err != nil {
		c.fail(err)
		return c.Err()
	}
	return nil
}

// recvLoop is the only reader of the connection. Frames of one stream are
// pushed to its queue in arrival order, which keeps each direction FIFO.
func (c *Conn) recvLoop() {
	r := bufio.NewReader(c.conn)
	for {
		header, body, err := protocol.Decode(r)
		if err != nil {
			c.fail(err)
			return
		}
		body, err = protocol.Decompress(header.Flags, body)
		if err != nil {
			c.fail(err)
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeOpen:
			c.accept(header.StreamID, string(body))
		case protocol.MsgTypeData:
			if s := c.lookup(header.StreamID); s != nil {
				s.push(body)
			}
		case protocol.MsgTypeEnd:
			if s := c.lookup(header.StreamID); s != nil {
				s.remoteEnd()
			}
		case protocol.MsgTypeReset:
			if s := c.lookup(header.StreamID); s != nil {
				c.remove(header.StreamID)
				s.fail(fmt.Errorf("%w: stream reset by peer: %s", ErrTransport, body))
			}
		}
	}
}

func (c *Conn) accept(id uint32, method string) {
	if c.opts.OnStream == nil {
		go c.reset(id, "streams are not accepted on this connection")
		return
	}
	c.mu.Lock()
	if _, dup := c.streams[id]; dup || id == 0 {
		c.mu.Unlock()
		go c.reset(id, "duplicate stream id")
		return
	}
	s := newStream(c, id, method)
	c.streams[id] = s
	c.mu.Unlock()

	c.log.Debug("stream accepted", zap.Uint32("stream", id), zap.String("method", method))
	c.opts.OnStream(s)
}

// reset tells the peer a stream is aborted. It never runs on the receive
// goroutine, so a slow peer cannot stall frame delivery.
func (c *Conn) reset(id uint32, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if err := c.writeFrame(ctx, nil, protocol.MsgTypeReset, id, []byte(reason)); err != nil {
		c.log.Debug("send reset", zap.Uint32("stream", id), zap.Error(err))
	}
}

// heartbeatLoop sends periodic heartbeat frames so idle connections are
// exercised and dead ones are detected by the failing write.
func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := c.writeFrame(ctx, nil, protocol.MsgTypeHeartbeat, 0, nil)
			cancel()
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return
			}
		}
	}
}
