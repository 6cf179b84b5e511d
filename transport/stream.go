package transport

import (
	"context"
	"io"
	"sync"

	"duplex-rpc/protocol"
)

// Stream is one bidirectional byte-frame channel inside a Conn.
//
// Send and CloseSend may be used from one goroutine while Recv runs in
// another. Two goroutines sending at once are serialized frame by frame, but
// their relative order is not defined.
type Stream struct {
	id     uint32
	method string
	conn   *Conn

	mu          sync.Mutex
	queue       [][]byte
	remoteEnded bool
	sendClosed  bool
	released    bool
	err         error // Terminal failure, or ErrStreamClosed after Close

	notify   chan struct{} // Wakes a blocked Recv, capacity 1
	done     chan struct{} // Closed on failure or release
	doneOnce sync.Once
}

func newStream(c *Conn, id uint32, method string) *Stream {
	return &Stream{
		id:     id,
		method: method,
		conn:   c,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Stream) ID() uint32 {
	return s.id
}

// Method is the full method name the stream was opened for.
func (s *Stream) Method() string {
	return s.method
}

// Send writes one data frame. It blocks while another frame holds the
// connection write lock or the socket applies backpressure.
func (s *Stream) Send(ctx context.Context, body []byte) error {
	if err := s.checkSend(); err != nil {
		return err
	}
	if err := s.conn.writeFrame(ctx, s.done, protocol.MsgTypeData, s.id, body); err != nil {
		return s.failureOr(err)
	}
	return nil
}

// CloseSend completes the local direction and tells the peer no more data
// frames follow. A second call fails with ErrStreamClosed.
func (s *Stream) CloseSend(ctx context.Context) error {
	s.mu.Lock()
	err := s.checkSendLocked()
	if err == nil {
		s.sendClosed = true
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.conn.writeFrame(ctx, s.done, protocol.MsgTypeEnd, s.id, nil); err != nil {
		return s.failureOr(err)
	}
	return nil
}

func (s *Stream) checkSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkSendLocked()
}

func (s *Stream) checkSendLocked() error {
	switch {
	case s.released, s.sendClosed:
		return ErrStreamClosed
	case s.err != nil:
		return s.err
	}
	return nil
}

// Recv returns the next data frame. It returns io.EOF after the peer
// completed its direction and all earlier frames were returned. Once the
// peer completed, a later failure does not discard the frames it sent;
// otherwise the failure is returned ahead of anything still queued. After
// Close, Recv returns ErrStreamClosed.
func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if s.released || (s.err != nil && !s.remoteEnded) {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		if len(s.queue) > 0 {
			body := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return body, nil
		}
		if s.remoteEnded {
			s.mu.Unlock()
			return nil, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RemoteEnded reports whether the peer completed its direction.
func (s *Stream) RemoteEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteEnded
}

// Err returns the stream failure, or nil while it is healthy.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the stream and detaches it from the connection. When either
// direction is unfinished the peer receives a reset. Blocked Send and Recv
// calls return. Close is idempotent.
func (s *Stream) Close() error {
	return s.CloseWithReason("stream closed")
}

// CloseWithReason is Close with the reason carried by the reset frame.
func (s *Stream) CloseWithReason(reason string) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	needReset := s.err == nil && !(s.sendClosed && s.remoteEnded)
	if s.err == nil {
		s.err = ErrStreamClosed
	}
	s.queue = nil
	s.mu.Unlock()

	s.closeDone()
	s.conn.remove(s.id)
	if !needReset {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	return s.conn.writeFrame(ctx, nil, protocol.MsgTypeReset, s.id, []byte(reason))
}

func (s *Stream) failureOr(err error) error {
	if failure := s.Err(); failure != nil {
		return failure
	}
	return err
}

func (s *Stream) push(body []byte) {
	s.mu.Lock()
	if s.err != nil || s.remoteEnded {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, body)
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) remoteEnd() {
	s.mu.Lock()
	s.remoteEnded = true
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.closeDone()
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Stream) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
