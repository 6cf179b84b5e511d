package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"duplex-rpc/message"
	"duplex-rpc/method"
	"duplex-rpc/middleware"
	"duplex-rpc/stream"
	"duplex-rpc/transport"
)

// HandlerFunc computes the responses for one request. It may return any
// number of responses, including none.
type HandlerFunc[Req, Resp any] func(ctx context.Context, req *Req) ([]*Resp, error)

// HandlerError is reported when a handler fails on one message. The stream
// keeps going with the next message.
type HandlerError struct {
	Method string
	Seq    uint64
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: %s message %d: %v", e.Method, e.Seq, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type route struct {
	info     method.Info
	terminal middleware.HandlerFunc
	handler  middleware.HandlerFunc // terminal wrapped in the middleware chain
	serve    func(ctx context.Context, s *Server, st *transport.Stream)
}

// Handle registers h for desc. It must be called before the server starts
// serving; a method can be registered only once.
func Handle[Req, Resp any](s *Server, desc *method.Descriptor[Req, Resp], h HandlerFunc[Req, Resp]) error {
	if desc == nil || h == nil {
		return errors.New("server: nil descriptor or handler")
	}
	r := &route{info: desc}
	r.terminal = func(ctx context.Context, in *message.Inbound) ([]any, error) {
		req, ok := in.Payload.(*Req)
		if !ok {
			return nil, fmt.Errorf("server: unexpected request type %T", in.Payload)
		}
		resps, err := h(ctx, req)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(resps))
		for i, resp := range resps {
			out[i] = resp
		}
		return out, nil
	}
	r.handler = r.terminal
	r.serve = func(ctx context.Context, s *Server, st *transport.Stream) {
		serveStream(ctx, s, r, desc, st)
	}
	return s.addRoute(desc, r)
}

// serveStream is the handler loop of one stream. Every inbound message runs
// through the route's chain and its responses are written in order. A failing
// message is reported and skipped; the loop ends when inbound completes or
// fails.
func serveStream[Req, Resp any](ctx context.Context, s *Server, r *route, desc *method.Descriptor[Req, Resp], st *transport.Stream) {
	d := stream.New[Resp, Req](st, desc.Response(), desc.Request())
	defer d.Shutdown()

	log := s.log.With(zap.String("method", desc.FullName()), zap.Uint32("stream", d.ID()))
	mode := desc.Mode()

	var seq, written uint64
	for {
		req, err := d.Recv(ctx)
		if err == io.EOF {
			if err := d.CompleteOutbound(); err != nil {
				log.Debug("complete outbound", zap.Error(err))
			}
			return
		}
		if err != nil {
			log.Debug("inbound failed", zap.Error(err))
			return
		}

		seq++
		if seq > 1 && mode.SingleRequest() {
			log.Warn("second request on a single-request method, aborting stream", zap.Stringer("mode", mode))
			return
		}

		resps, err := r.handler(ctx, &message.Inbound{
			Method:   desc.FullName(),
			StreamID: d.ID(),
			Seq:      seq,
			Payload:  req,
		})
		if err != nil {
			report(log, &HandlerError{Method: desc.FullName(), Seq: seq, Err: err})
			continue
		}

		for _, v := range resps {
			resp, ok := v.(*Resp)
			if !ok {
				report(log, &HandlerError{Method: desc.FullName(), Seq: seq, Err: fmt.Errorf("unexpected response type %T", v)})
				continue
			}
			if written > 0 && mode.SingleResponse() {
				report(log, &HandlerError{Method: desc.FullName(), Seq: seq, Err: errors.New("extra response on a single-response method dropped")})
				break
			}
			if err := d.Write(ctx, resp); err != nil {
				log.Debug("write response", zap.Error(err))
				return
			}
			written++
		}
	}
}

func report(log *zap.Logger, err *HandlerError) {
	log.Warn("handler error", zap.Uint64("seq", err.Seq), zap.Error(err))
}
