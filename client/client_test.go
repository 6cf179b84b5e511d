package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"duplex-rpc/codec"
	"duplex-rpc/method"
	"duplex-rpc/stream"
	"duplex-rpc/transport"
)

type Args struct {
	A, B int32
}

type Reply struct {
	Result int32
}

var (
	argsSchema = codec.MustSchema("Args",
		codec.Int32(0, "a", func(a *Args) int32 { return a.A }, func(a *Args, v int32) { a.A = v }),
		codec.Int32(1, "b", func(a *Args) int32 { return a.B }, func(a *Args, v int32) { a.B = v }),
	)
	replySchema = codec.MustSchema("Reply",
		codec.Int32(0, "result", func(r *Reply) int32 { return r.Result }, func(r *Reply, v int32) { r.Result = v }),
	)
	addOnce = method.MustRegister("Arith", "AddOnce", method.Unary, argsSchema, replySchema)
	addMany = method.MustRegister("Arith", "Add", method.DuplexStreaming, argsSchema, replySchema)
)

// fakeServer answers every stream opened on its side of a net.Pipe with
// reply(request) for each request, the way a unary or duplex handler would.
// extra adds one more response per request.
func fakeServer(t *testing.T, extra bool) *Client {
	t.Helper()
	a, b := net.Pipe()
	var wg sync.WaitGroup
	peer := transport.NewConn(b, transport.Options{OnStream: func(st *transport.Stream) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(st, extra)
		}()
	}})
	c := NewClient(a)
	t.Cleanup(func() {
		c.Close()
		peer.Close()
		wg.Wait()
	})
	return c
}

func serve(st *transport.Stream, extra bool) {
	ctx := context.Background()
	d := stream.New[Reply, Args](st, replySchema, argsSchema)
	defer d.Shutdown()
	d.ConsumeInbound(ctx, func(args *Args) error {
		if err := d.Write(ctx, &Reply{Result: args.A + args.B}); err != nil {
			return err
		}
		if extra {
			return d.Write(ctx, &Reply{Result: -1})
		}
		return nil
	})
	d.CompleteOutbound()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestInvoke(t *testing.T) {
	c := fakeServer(t, false)

	reply, err := Invoke(testContext(t), c, addOnce, &Args{A: 1, B: 2})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("expect 3, got %v", reply.Result)
	}

	// Call again on the same connection: Add(10, 20) = 30
	reply, err = Invoke(testContext(t), c, addOnce, &Args{A: 10, B: 20})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Result != 30 {
		t.Fatalf("expect 30, got %v", reply.Result)
	}
}

func TestInvokeRejectsStreamingMethod(t *testing.T) {
	c := fakeServer(t, false)
	if _, err := Invoke(testContext(t), c, addMany, &Args{}); err == nil {
		t.Fatal("expect error for a duplex method")
	}
}

func TestInvokeExtraResponse(t *testing.T) {
	c := fakeServer(t, true)
	if _, err := Invoke(testContext(t), c, addOnce, &Args{A: 1}); !errors.Is(err, ErrExtraResponse) {
		t.Fatalf("expect ErrExtraResponse, got %v", err)
	}
}

func TestConcurrentCallsShareConnection(t *testing.T) {
	c := fakeServer(t, false)
	ctx := testContext(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := int32(0); i < n; i++ {
		wg.Add(1)
		go func(i int32) {
			defer wg.Done()
			call, err := Call(ctx, c, addMany)
			if err != nil {
				errs <- err
				return
			}
			defer call.Shutdown()
			for j := int32(0); j < 3; j++ {
				if err := call.Write(ctx, &Args{A: i, B: j}); err != nil {
					errs <- err
					return
				}
			}
			if err := call.CompleteOutbound(); err != nil {
				errs <- err
				return
			}
			var j int32
			err = call.ConsumeInbound(ctx, func(r *Reply) error {
				if r.Result != i+j {
					return errors.New("out of order response")
				}
				j++
				return nil
			})
			if err == nil && j != 3 {
				err = errors.New("missing responses")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestCloseFailsOpenCalls(t *testing.T) {
	c := fakeServer(t, false)
	ctx := testContext(t)

	call, err := Call(ctx, c, addMany)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	if _, err := call.Recv(ctx); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expect ErrTransport, got %v", err)
	}
	if _, err := Call(ctx, c, addMany); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expect ErrTransport for a new call, got %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
}

func TestDialRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	if _, err := Dial(testContext(t), "tcp", addr); err == nil {
		t.Fatal("expect dial error")
	}
}
