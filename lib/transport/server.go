package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-i2p/logger"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

const (
	// WirePath is the HTTP path upgraded to WebSocket streams.
	WirePath = "/wire"

	// MetricsPath serves Prometheus metrics when a gatherer is configured.
	MetricsPath = "/metrics"

	// DefaultMaxConnections caps concurrent streams across TCP and WebSocket.
	DefaultMaxConnections = 1024

	shutdownTimeout = 5 * time.Second
)

// AcceptFunc handles one accepted stream. It owns rwc and should return
// when the stream is finished; the server closes rwc afterwards.
type AcceptFunc func(ctx context.Context, rwc io.ReadWriteCloser, remote string)

// Server accepts TCP and WebSocket streams.
type Server struct {
	accept         AcceptFunc
	wirePath       string
	maxConnections int
	gatherer       prometheus.Gatherer
	upgrader       websocket.Upgrader
	router         chi.Router

	active int32 // atomic
	wg     sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMaxConnections sets the concurrent stream limit.
func WithMaxConnections(n int) ServerOption {
	return func(s *Server) {
		s.maxConnections = n
	}
}

// WithWirePath moves the WebSocket endpoint. An empty path disables it,
// leaving a metrics-only server.
func WithWirePath(path string) ServerOption {
	return func(s *Server) {
		s.wirePath = path
	}
}

// WithGatherer exposes the gatherer's metrics on MetricsPath.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithCheckOrigin overrides the WebSocket origin check. By default every
// origin is allowed; peers authenticate inside the stream.
func WithCheckOrigin(check func(r *http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

// NewServer returns a server handing streams to accept.
func NewServer(accept AcceptFunc, opts ...ServerOption) *Server {
	s := &Server{
		accept:   accept,
		wirePath: WirePath,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxConnections <= 0 {
		s.maxConnections = DefaultMaxConnections
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.wirePath != "" && s.accept != nil {
		r.Get(s.wirePath, s.serveWebSocket)
	}
	if s.gatherer != nil {
		r.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the wire and metrics paths.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ActiveSessionCount returns the number of streams currently being handled.
func (s *Server) ActiveSessionCount() int {
	return int(atomic.LoadInt32(&s.active))
}

// acquire reserves a connection slot.
func (s *Server) acquire() error {
	if int(atomic.AddInt32(&s.active, 1)) > s.maxConnections {
		atomic.AddInt32(&s.active, -1)
		log.WithFields(logger.Fields{
			"at":              "(Server) acquire",
			"reason":          "connection_pool_full",
			"max_connections": s.maxConnections,
		}).Warn("connection pool limit reached")
		return ErrConnectionPoolFull
	}
	return nil
}

func (s *Server) release() {
	atomic.AddInt32(&s.active, -1)
}

// handle runs accept for rwc and closes it afterwards.
func (s *Server) handle(ctx context.Context, rwc io.ReadWriteCloser, remote string) {
	defer s.release()
	defer rwc.Close()

	log.WithFields(logger.Fields{
		"at":              "(Server) handle",
		"remote":          remote,
		"active_sessions": s.ActiveSessionCount(),
	}).Debug("stream_accepted")
	s.accept(ctx, rwc, remote)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.acquire(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release()
		log.WithError(err).WithField("remote", r.RemoteAddr).Debug("websocket_upgrade_failed")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.handle(r.Context(), NewWSConn(ws), r.RemoteAddr)
}

// ServeTCP accepts streams from ln until ctx is cancelled or ln fails.
// It waits for running handlers before returning.
func (s *Server) ServeTCP(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.WithField("addr", ln.Addr().String()).Debug("tcp_listening")
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return oops.Wrapf(err, "accepting tcp stream")
		}

		if err := s.acquire(); err != nil {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn, conn.RemoteAddr().String())
		}()
	}
}

// ListenTCP listens on addr and runs ServeTCP.
func (s *Server) ListenTCP(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return oops.Wrapf(err, "listening on %s", addr)
	}
	return s.ServeTCP(ctx, ln)
}

// ListenHTTP serves Handler on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenHTTP(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return oops.Wrapf(err, "listening on %s", addr)
	}
	return s.ServeWeb(ctx, ln)
}

// ServeWeb serves Handler on ln until ctx is cancelled.
func (s *Server) ServeWeb(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	log.WithField("addr", ln.Addr().String()).Debug("http_listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return oops.Wrapf(err, "serving http")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown did not complete")
	}
	s.wg.Wait()
	return nil
}
