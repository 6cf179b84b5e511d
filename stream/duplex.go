// Package stream implements the duplex call session on top of a transport
// stream: typed writes through the outbound codec, typed reads through the
// inbound codec, and the two direction state machines.
//
//	outbound:  Open ──CompleteOutbound──► Completed
//	inbound:   Open ──peer end──► Completed
//	                └─reset / conn loss / bad frame / Shutdown──► Failed
//
// The directions advance independently. A session is finished once outbound
// is Completed and inbound is Completed or Failed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"duplex-rpc/codec"
	"duplex-rpc/transport"
)

// ErrStreamClosed is returned when writing to or completing an outbound
// direction that already completed, and after Shutdown.
var ErrStreamClosed = transport.ErrStreamClosed

// DirState is the state of one direction.
type DirState byte

const (
	Open DirState = iota
	Completed
	Failed
)

func (s DirState) String() string {
	switch s {
	case Open:
		return "open"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("dirState(%d)", byte(s))
}

// State is a snapshot of both directions.
type State struct {
	Outbound DirState
	Inbound  DirState
	Err      error // Why inbound failed
}

// Duplex is one call session sending Out messages and receiving In messages.
// The client side of a method is Duplex[Req, Resp], the server side
// Duplex[Resp, Req].
//
// Write/CompleteOutbound and Recv/ConsumeInbound are meant to run in two
// different goroutines.
type Duplex[Out, In any] struct {
	st  *transport.Stream
	out codec.Marshaller[Out]
	in  codec.Marshaller[In]

	mu       sync.Mutex
	outState DirState
	inState  DirState
	inErr    error
	shutdown bool
}

// New binds a transport stream to the two codecs of a call.
func New[Out, In any](st *transport.Stream, out codec.Marshaller[Out], in codec.Marshaller[In]) *Duplex[Out, In] {
	return &Duplex[Out, In]{st: st, out: out, in: in}
}

// ID is the transport stream id of the session.
func (d *Duplex[Out, In]) ID() uint32 {
	return d.st.ID()
}

// Method is the full method name the session was opened for.
func (d *Duplex[Out, In]) Method() string {
	return d.st.Method()
}

// Write encodes msg and hands the frame to the transport. It blocks only as
// long as the connection needs to accept the frame.
func (d *Duplex[Out, In]) Write(ctx context.Context, msg *Out) error {
	d.mu.Lock()
	if d.outState != Open {
		d.mu.Unlock()
		return ErrStreamClosed
	}
	d.mu.Unlock()

	data, err := d.out.Marshal(msg)
	if err != nil {
		return err
	}
	if err := d.st.Send(ctx, data); err != nil {
		d.transportFailed(err)
		return err
	}
	return nil
}

// CompleteOutbound ends the outbound direction and signals end-of-stream to
// the peer. Only the first call succeeds.
func (d *Duplex[Out, In]) CompleteOutbound() error {
	d.mu.Lock()
	if d.outState != Open {
		d.mu.Unlock()
		return ErrStreamClosed
	}
	d.outState = Completed
	d.mu.Unlock()

	if err := d.st.CloseSend(context.Background()); err != nil {
		d.transportFailed(err)
		return err
	}
	return nil
}

// Recv returns the next inbound message, io.EOF once the peer completed its
// direction, or the failure that moved inbound to Failed.
func (d *Duplex[Out, In]) Recv(ctx context.Context) (*In, error) {
	d.mu.Lock()
	switch d.inState {
	case Completed:
		d.mu.Unlock()
		return nil, io.EOF
	case Failed:
		err := d.inErr
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	data, err := d.st.Recv(ctx)
	if err == io.EOF {
		d.setInbound(Completed, nil)
		return nil, io.EOF
	}
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The caller gave up waiting; the stream itself is still fine.
			return nil, err
		}
		d.transportFailed(err)
		return nil, err
	}

	msg, err := d.in.Unmarshal(data)
	if err != nil {
		d.setInbound(Failed, err)
		return nil, err
	}
	return msg, nil
}

// ConsumeInbound calls handler for every inbound message in arrival order
// until the peer completes (returns nil) or inbound fails (returns the
// failure). An error from handler stops consumption and is returned as is;
// the inbound state does not change.
func (d *Duplex[Out, In]) ConsumeInbound(ctx context.Context, handler func(*In) error) error {
	for {
		msg, err := d.Recv(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := handler(msg); err != nil {
			return err
		}
	}
}

// Shutdown releases the transport stream. Unfinished directions are aborted
// and the peer is reset; goroutines blocked in Write or Recv return. Calling
// Shutdown again is a no-op.
func (d *Duplex[Out, In]) Shutdown() error {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return nil
	}
	d.shutdown = true
	d.outState = Completed
	if d.inState == Open {
		d.inState = Failed
		d.inErr = ErrStreamClosed
	}
	d.mu.Unlock()

	return d.st.Close()
}

// State returns a snapshot of both directions.
func (d *Duplex[Out, In]) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{Outbound: d.outState, Inbound: d.inState, Err: d.inErr}
}

// Finished reports whether the session is eligible for teardown.
func (d *Duplex[Out, In]) Finished() bool {
	s := d.State()
	return s.Outbound == Completed && s.Inbound != Open
}

func (d *Duplex[Out, In]) setInbound(state DirState, err error) {
	d.mu.Lock()
	if d.inState == Open {
		d.inState = state
		d.inErr = err
	}
	d.mu.Unlock()
}

// transportFailed forces both directions to their terminal states after a
// channel failure. ErrStreamClosed from an already completed direction is not
// a channel failure. Inbound stays Open when the peer already completed, so
// the frames it sent can still be read up to end-of-stream.
func (d *Duplex[Out, In]) transportFailed(err error) {
	if !errors.Is(err, transport.ErrTransport) {
		return
	}
	remoteEnded := d.st.RemoteEnded()
	d.mu.Lock()
	d.outState = Completed
	if d.inState == Open && !remoteEnded {
		d.inState = Failed
		d.inErr = err
	}
	d.mu.Unlock()
}
