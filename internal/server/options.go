package server

import (
	"log/slog"
	"time"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/hub"
	"github.com/kstaniek/go-mscan/internal/transport"
)

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultClientBuffer     = 512
)

// ServerOption adjusts a Server built by NewServer. Zero or negative
// durations and sizes keep the default.
type ServerOption func(*Server)

func WithListenAddr(a string) ServerOption     { return func(s *Server) { s.addr = a } }
func WithHub(hb *hub.Hub) ServerOption         { return func(s *Server) { s.Hub = hb } }
func WithCodec(c transport.Codec) ServerOption { return func(s *Server) { s.Codec = c } }
func WithSend(send SendFunc) ServerOption      { return func(s *Server) { s.Send = send } }

// WithFrameFilter drops client frames for which fn returns false.
func WithFrameFilter(fn func(*can.Frame) bool) ServerOption {
	return func(s *Server) { s.frameFilter = fn }
}

// WithBatching sets how many frames a client writer collects and how long
// it waits before writing a partial batch.
func WithBatching(size int, every time.Duration) ServerOption {
	return func(s *Server) {
		positive(&s.batchSize, size)
		positive(&s.flushInterval, every)
	}
}

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) { positive(&s.readDeadline, d) }
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) { positive(&s.handshakeTimeout, d) }
}

// WithMaxClients limits concurrent clients. Zero means unlimited.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) { positive(&s.maxClients, n) }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func positive[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}
