// Package client opens call sessions on a connection to a duplex RPC server.
//
// One Client owns one connection; every call is a separate stream
// multiplexed over it, so concurrent calls need no connection pool.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"duplex-rpc/method"
	"duplex-rpc/stream"
	"duplex-rpc/transport"
)

var (
	ErrNoResponse    = errors.New("client: call completed without a response")
	ErrExtraResponse = errors.New("client: unary call returned more than one response")
)

type Client struct {
	conn *transport.Conn
	log  *zap.Logger
}

type options struct {
	logger    *zap.Logger
	compress  bool
	heartbeat time.Duration
}

type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithCompression snappy-compresses outgoing data frames.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compress = enabled }
}

// WithHeartbeat sends a heartbeat frame at the given interval. Zero disables
// heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeat = interval }
}

// Dial connects to addr and wraps the connection in a Client.
func Dial(ctx context.Context, network, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// NewClient takes ownership of conn.
func NewClient(conn net.Conn, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Client{
		conn: transport.NewConn(conn, transport.Options{
			Logger:            o.logger,
			Compress:          o.compress,
			HeartbeatInterval: o.heartbeat,
		}),
		log: o.logger,
	}
}

// Close closes the connection. Sessions still open fail with a transport
// error.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Call opens a session for desc. The caller writes requests and reads
// responses on the returned session and must Shutdown it when done.
func Call[Req, Resp any](ctx context.Context, c *Client, desc *method.Descriptor[Req, Resp]) (*stream.Duplex[Req, Resp], error) {
	st, err := c.conn.OpenStream(ctx, desc.FullName())
	if err != nil {
		return nil, err
	}
	c.log.Debug("call", zap.String("method", desc.FullName()), zap.Uint32("stream", st.ID()))
	return stream.New[Req, Resp](st, desc.Request(), desc.Response()), nil
}

// Invoke performs a unary call: one request, one response.
func Invoke[Req, Resp any](ctx context.Context, c *Client, desc *method.Descriptor[Req, Resp], req *Req) (*Resp, error) {
	if !desc.Mode().SingleRequest() || !desc.Mode().SingleResponse() {
		return nil, fmt.Errorf("client: Invoke needs a unary method, %s is %s", desc.FullName(), desc.Mode())
	}
	d, err := Call(ctx, c, desc)
	if err != nil {
		return nil, err
	}
	defer d.Shutdown()

	if err := d.Write(ctx, req); err != nil {
		return nil, err
	}
	if err := d.CompleteOutbound(); err != nil {
		return nil, err
	}

	resp, err := d.Recv(ctx)
	if err == io.EOF {
		return nil, ErrNoResponse
	}
	if err != nil {
		return nil, err
	}
	switch _, err := d.Recv(ctx); {
	case err == io.EOF:
		return resp, nil
	case err == nil:
		return nil, ErrExtraResponse
	default:
		return nil, err
	}
}
