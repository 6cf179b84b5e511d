// Package server hosts duplex RPC methods over multiplexed connections.
//
// Request processing pipeline:
//
//	Accept conn → transport.Conn (single goroutine reads frames)
//	  → for each opened stream: go serveStream (streams run in parallel)
//	    → Duplex.Recv → Middleware Chain → typed handler → Duplex.Write (0..n responses)
//	    → on end-of-stream: CompleteOutbound, release the stream
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"duplex-rpc/method"
	"duplex-rpc/middleware"
	"duplex-rpc/transport"
)

var (
	ErrServerStarted = errors.New("server: handlers must be registered before serving")
	ErrShutdown      = errors.New("server: shut down")
)

// Server routes every stream a client opens to the handler registered for
// its method.
type Server struct {
	log  *zap.Logger
	opts options

	mu          sync.Mutex
	routes      map[string]*route       // Full method name → route
	middlewares []middleware.Middleware // Applied in the order they were added
	started     bool
	listener    net.Listener
	conns       map[*transport.Conn]struct{}

	prepareOnce sync.Once
	ctx         context.Context // Cancelled when shutdown gives up waiting
	cancel      context.CancelFunc
	wg          sync.WaitGroup // Tracks in-flight streams for graceful shutdown
	shutdown    atomic.Bool    // Set during shutdown to suppress Accept errors
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

// WithHeartbeat sends a heartbeat frame on every connection at the given
// interval. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeat = interval }
}

func NewServer(opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:    o.logger,
		opts:   o,
		routes: make(map[string]*route),
		conns:  make(map[*transport.Conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Use registers a middleware. Middlewares added after the server started
// serving are ignored.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Warn("middleware added after start is ignored")
		return
	}
	s.middlewares = append(s.middlewares, mw)
}

func (s *Server) addRoute(info method.Info, r *route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerStarted
	}
	name := info.FullName()
	if _, dup := s.routes[name]; dup {
		return fmt.Errorf("server: method %s already registered", name)
	}
	s.routes[name] = r
	return nil
}

func (s *Server) lookup(name string) *route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routes[name]
}

// prepare builds every route's middleware chain once, before the first
// stream is served. Registration is closed from then on.
func (s *Server) prepare() {
	s.prepareOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.started = true
		chain := middleware.Chain(s.middlewares...)
		for _, r := range s.routes {
			r.handler = chain(r.terminal)
			s.log.Debug("route", zap.String("method", r.info.FullName()), zap.Stringer("mode", r.info.Mode()))
		}
	})
}

// Serve listens on the given address and serves until Shutdown.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

// ServeListener accepts connections from listener until Shutdown. It returns
// nil after Shutdown and the Accept error otherwise.
func (s *Server) ServeListener(listener net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		listener.Close()
		return ErrShutdown
	}
	s.listener = listener
	s.mu.Unlock()
	s.prepare()

	s.log.Info("serving", zap.Stringer("addr", listener.Addr()))
	for {
		conn, err := listener.Accept()
		if err != nil {
			// Closing the listener during shutdown makes Accept fail.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.ServeConn(conn)
	}
}

// ServeConn serves streams opened on one connection and returns once the
// connection is closed.
func (s *Server) ServeConn(conn net.Conn) {
	s.prepare()
	if s.shutdown.Load() {
		conn.Close()
		return
	}

	tc := transport.NewConn(conn, transport.Options{
		Logger:            s.log,
		Compress:          s.opts.compress,
		HeartbeatInterval: s.opts.heartbeat,
		OnStream:          s.accept,
	})
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		tc.Close()
		return
	}
	s.conns[tc] = struct{}{}
	s.mu.Unlock()

	<-tc.Done()

	s.mu.Lock()
	delete(s.conns, tc)
	s.mu.Unlock()
}

// accept runs on the connection's receive goroutine and must not block.
// The shutdown check and wg.Add happen under mu so Shutdown never waits on
// a WaitGroup that can still grow.
func (s *Server) accept(st *transport.Stream) {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		go st.CloseWithReason("server shutting down")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.dispatch(st)
	}()
}

func (s *Server) dispatch(st *transport.Stream) {
	r := s.lookup(st.Method())
	if r == nil {
		s.log.Info("unknown method", zap.String("method", st.Method()), zap.Uint32("stream", st.ID()))
		st.CloseWithReason("unknown method")
		return
	}
	r.serve(s.ctx, s, st)
}

// Addr returns the listener address, or nil before ServeListener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so Accept error is recognized as intentional)
//  2. Close the listener (stop accepting new connections)
//  3. Wait for in-flight streams to finish (with timeout)
//  4. Close every connection
func (s *Server) Shutdown(timeout time.Duration) error {
	var err error
	s.mu.Lock()
	s.shutdown.Store(true)
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		err = multierr.Append(err, listener.Close())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		err = multierr.Append(err, fmt.Errorf("server: timeout waiting for ongoing streams to finish"))
		s.cancel()
	}

	s.mu.Lock()
	conns := make([]*transport.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	s.cancel()
	return err
}
