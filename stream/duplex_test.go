package stream

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"duplex-rpc/codec"
	"duplex-rpc/transport"
)

type note struct {
	Text string
	N    int32
}

var noteSchema = codec.MustSchema("Note",
	codec.String(0, "text", func(n *note) string { return n.Text }, func(n *note, v string) { n.Text = v }),
	codec.Int32(1, "n", func(n *note) int32 { return n.N }, func(n *note, v int32) { n.N = v }),
)

// sessionPair opens one stream over net.Pipe and returns both ends as
// Duplex[note, note].
func sessionPair(t *testing.T) (client, server *Duplex[note, note], clientConn *transport.Conn) {
	t.Helper()
	a, b := net.Pipe()
	accepted := make(chan *transport.Stream, 1)
	cc := transport.NewConn(a, transport.Options{})
	sc := transport.NewConn(b, transport.Options{
		OnStream: func(s *transport.Stream) { accepted <- s },
	})
	t.Cleanup(func() {
		cc.Close()
		sc.Close()
	})

	st, err := cc.OpenStream(context.Background(), "/Notes/Chat")
	if err != nil {
		t.Fatal(err)
	}
	var peer *transport.Stream
	select {
	case peer = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("stream not accepted")
	}
	return New[note, note](st, noteSchema, noteSchema), New[note, note](peer, noteSchema, noteSchema), cc
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConsumeInboundKeepsOrder(t *testing.T) {
	ctx := testContext(t)
	client, server, _ := sessionPair(t)

	for _, text := range []string{"A", "B", "C"} {
		if err := client.Write(ctx, &note{Text: text}); err != nil {
			t.Fatal(err)
		}
	}
	if err := client.CompleteOutbound(); err != nil {
		t.Fatal(err)
	}

	var got []string
	err := server.ConsumeInbound(ctx, func(n *note) error {
		got = append(got, n.Text)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("expect [A B C], got %v", got)
	}
	if s := server.State(); s.Inbound != Completed || s.Outbound != Open {
		t.Fatalf("unexpected server state %+v", s)
	}
}

func TestWriteAfterCompleteOutbound(t *testing.T) {
	ctx := testContext(t)
	client, _, _ := sessionPair(t)

	if err := client.CompleteOutbound(); err != nil {
		t.Fatal(err)
	}
	if err := client.Write(ctx, &note{Text: "late"}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expect ErrStreamClosed, got %v", err)
	}
	if err := client.CompleteOutbound(); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("second CompleteOutbound: expect ErrStreamClosed, got %v", err)
	}
	if s := client.State(); s.Outbound != Completed || s.Inbound != Open {
		t.Fatalf("inbound must stay open, got %+v", s)
	}
}

func TestDirectionsAreIndependent(t *testing.T) {
	ctx := testContext(t)
	client, server, _ := sessionPair(t)

	if err := client.CompleteOutbound(); err != nil {
		t.Fatal(err)
	}
	if _, err := server.Recv(ctx); err == nil {
		t.Fatal("expect end of inbound")
	}

	// Server still writes after the client's direction completed.
	for i := int32(1); i <= 2; i++ {
		if err := server.Write(ctx, &note{N: i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := server.CompleteOutbound(); err != nil {
		t.Fatal(err)
	}
	if !server.Finished() {
		t.Fatalf("server should be finished, state %+v", server.State())
	}

	var sum int32
	if err := client.ConsumeInbound(ctx, func(n *note) error {
		sum += n.N
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if sum != 3 {
		t.Fatalf("expect sum 3, got %d", sum)
	}
	if !client.Finished() {
		t.Fatalf("client should be finished, state %+v", client.State())
	}
}

func TestMalformedFrameFailsInbound(t *testing.T) {
	ctx := testContext(t)
	a, b := net.Pipe()
	accepted := make(chan *transport.Stream, 1)
	cc := transport.NewConn(a, transport.Options{})
	sc := transport.NewConn(b, transport.Options{OnStream: func(s *transport.Stream) { accepted <- s }})
	defer cc.Close()
	defer sc.Close()

	raw, err := cc.OpenStream(ctx, "/Notes/Chat")
	if err != nil {
		t.Fatal(err)
	}
	server := New[note, note](<-accepted, noteSchema, noteSchema)

	// Kind 2 (int32) on field 1 with only two of its four value bytes.
	if err := raw.Send(ctx, []byte{2, 0, 1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := server.Recv(ctx); !errors.Is(err, codec.ErrMalformedFrame) {
		t.Fatalf("expect ErrMalformedFrame, got %v", err)
	}
	s := server.State()
	if s.Inbound != Failed || !errors.Is(s.Err, codec.ErrMalformedFrame) {
		t.Fatalf("expect inbound failed with malformed frame, got %+v", s)
	}
	if _, err := server.Recv(ctx); !errors.Is(err, codec.ErrMalformedFrame) {
		t.Fatalf("failed inbound must keep reporting its cause, got %v", err)
	}
	if s.Outbound != Open {
		t.Fatalf("outbound must be unaffected, got %s", s.Outbound)
	}
}

func TestConsumeInboundStopsOnCallbackError(t *testing.T) {
	ctx := testContext(t)
	client, server, _ := sessionPair(t)

	if err := client.Write(ctx, &note{Text: "boom"}); err != nil {
		t.Fatal(err)
	}
	stop := errors.New("stop")
	err := server.ConsumeInbound(ctx, func(*note) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expect callback error, got %v", err)
	}
	if s := server.State(); s.Inbound != Open {
		t.Fatalf("callback error must not change inbound, got %+v", s)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	ctx := testContext(t)
	client, server, _ := sessionPair(t)

	if err := client.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := client.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: expect nil, got %v", err)
	}
	if !client.Finished() {
		t.Fatalf("client should be finished after Shutdown, got %+v", client.State())
	}
	if err := client.Write(ctx, &note{}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Write after Shutdown: expect ErrStreamClosed, got %v", err)
	}

	// The peer sees the reset as a transport failure.
	if _, err := server.Recv(ctx); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expect ErrTransport on peer, got %v", err)
	}
	if s := server.State(); s.Inbound != Failed || s.Outbound != Completed {
		t.Fatalf("peer should be forced terminal, got %+v", s)
	}
}

func TestShutdownUnblocksRecv(t *testing.T) {
	ctx := testContext(t)
	client, _, _ := sessionPair(t)

	errs := make(chan error, 1)
	go func() {
		_, err := client.Recv(ctx)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	client.Shutdown()

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expect an error from Recv after Shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv still blocked after Shutdown")
	}
}

func TestConnectionLossFailsBothDirections(t *testing.T) {
	ctx := testContext(t)
	client, _, conn := sessionPair(t)

	conn.Close()
	if err := client.Write(ctx, &note{Text: "x"}); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expect ErrTransport, got %v", err)
	}
	s := client.State()
	if s.Outbound != Completed || s.Inbound != Failed {
		t.Fatalf("expect both directions terminal, got %+v", s)
	}
	if !client.Finished() {
		t.Fatal("session should be finished")
	}
}

func TestConnectionLossAfterPeerCompletedKeepsInbound(t *testing.T) {
	ctx := testContext(t)
	client, server, conn := sessionPair(t)

	for i := int32(1); i <= 2; i++ {
		if err := server.Write(ctx, &note{Text: "late", N: i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := server.CompleteOutbound(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !client.st.RemoteEnded() {
		if time.Now().After(deadline) {
			t.Fatal("end-of-stream not received")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	if err := client.Write(ctx, &note{Text: "x"}); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expect ErrTransport, got %v", err)
	}
	if s := client.State(); s.Outbound != Completed || s.Inbound != Open {
		t.Fatalf("inbound must stay readable, got %+v", s)
	}

	var got []int32
	if err := client.ConsumeInbound(ctx, func(n *note) error {
		got = append(got, n.N)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expect [1 2], got %v", got)
	}
	if s := client.State(); s.Inbound != Completed {
		t.Fatalf("expect inbound Completed, got %+v", s)
	}
}
