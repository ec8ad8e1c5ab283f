// Package server is the cannelloni TCP front end of the gateway. Frames
// from clients go to the controller's transmit object through Send; frames
// from the receive objects reach clients through the hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/cnl"
	"github.com/kstaniek/go-mscan/internal/hub"
	"github.com/kstaniek/go-mscan/internal/logging"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/transport"
)

// SendFunc queues a client frame for transmission on the bus.
type SendFunc func(context.Context, can.Frame) error

// Server owns the TCP listener and coordinates client lifecycle.
type Server struct {
	Hub   *hub.Hub
	Codec transport.Codec
	Send  SendFunc

	frameFilter      func(*can.Frame) bool
	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int
	logger           *slog.Logger

	mu       sync.RWMutex
	addr     string
	listener net.Listener
	ready    chan struct{}
	setReady sync.Once

	errMu   sync.Mutex
	lastErr error
	errCh   chan error

	clientsMu sync.Mutex
	clients   map[*hub.Client]net.Conn
	wg        sync.WaitGroup

	connIDs atomic.Uint64
	stats   stats
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           logging.L(),
		ready:            make(chan struct{}),
		errCh:            make(chan error, 1),
		clients:          make(map[*hub.Client]net.Conn),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.Codec == nil {
		s.Codec = &cnl.Codec{}
	}
	return s
}

// Addr is the configured address until Serve binds, the bound one after.
func (s *Server) Addr() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Errors delivers the first unretrieved connection error.
func (s *Server) Errors() <-chan error { return s.errCh }

func (s *Server) LastError() error { s.errMu.Lock(); defer s.errMu.Unlock(); return s.lastErr }

// Backpressure returns the number of client frames refused by a full
// transmit object.
func (s *Server) Backpressure() uint64 { return s.stats.backpressure.Load() }

// fail records err and counts it under its metrics label.
func (s *Server) fail(err error) {
	metrics.IncError(mapErrToMetric(err))
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// Serve accepts TCP clients until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.fail(wrap)
		return wrap
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.setReady.Do(func() { close(s.ready) })
	s.logger.Info("tcp_listen", "addr", s.Addr())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		switch {
		case err == nil:
			s.admit(ctx, conn)
		case ctx.Err() != nil || errors.Is(err, net.ErrClosed):
			return nil
		default:
			var ne net.Error
			if errors.As(err, &ne) {
				s.logger.Warn("accept_retry", "error", err)
				time.Sleep(200 * time.Millisecond)
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			s.fail(wrap)
			return wrap
		}
	}
}

// admit runs the handshake and the client limit on a fresh connection and
// starts its reader and writer. A refused connection is closed.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	s.stats.accepted.Add(1)
	log := s.logger.With("conn_id", s.connIDs.Add(1), "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if err := cnl.Handshake(ctx, conn, s.handshakeTimeout); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrHandshake, err)
		s.fail(wrap)
		s.stats.handshakeFail.Add(1)
		log.Warn("handshake_failed", "error", wrap)
		_ = conn.Close()
		return
	}
	if s.full() {
		s.stats.rejected.Add(1)
		metrics.IncHubReject()
		log.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return
	}
	cl := s.register(conn)
	s.stats.connected.Add(1)
	log.Info("client_connected")
	s.startWriter(ctx, conn, cl, log)
	s.startReader(ctx, conn, log)
}

func (s *Server) full() bool {
	return s.maxClients > 0 && s.Hub != nil && s.Hub.Count() >= s.maxClients
}

func (s *Server) register(conn net.Conn) *hub.Client {
	n := defaultClientBuffer
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		n = s.Hub.OutBufSize
	}
	cl := hub.NewClient(n)
	if s.Hub != nil {
		s.Hub.Add(cl)
	}
	s.clientsMu.Lock()
	s.clients[cl] = conn
	s.clientsMu.Unlock()
	return cl
}

func (s *Server) unregister(cl *hub.Client) {
	if s.Hub != nil {
		s.Hub.Remove(cl)
	}
	s.clientsMu.Lock()
	delete(s.clients, cl)
	s.clientsMu.Unlock()
	s.stats.disconnected.Add(1)
}

// Shutdown closes the listener and every client and waits for their
// goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		cl.Close()
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "clients", &s.stats)
		return nil
	}
}
