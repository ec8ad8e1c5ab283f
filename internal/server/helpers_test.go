package server

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/cnl"
	"github.com/kstaniek/go-mscan/internal/hub"
)

// captureSink records every frame handed to the transmit side.
type captureSink struct {
	mu     sync.Mutex
	frames []can.Frame
	err    error
}

func (c *captureSink) send(_ context.Context, fr can.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, fr)
	return c.err
}

func (c *captureSink) snapshot() []can.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]can.Frame(nil), c.frames...)
}

func startServer(t *testing.T, ctx context.Context, opts ...ServerOption) *Server {
	t.Helper()
	base := []ServerOption{WithCodec(&cnl.Codec{}), WithListenAddr("127.0.0.1:0")}
	srv := NewServer(append(base, opts...)...)
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}
	return srv
}

func dialAndHandshake(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := io.WriteString(c, cnl.Hello); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	buf := make([]byte, len(cnl.Hello))
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read magic: %v", err)
	}
	_ = c.SetReadDeadline(time.Time{})
	if string(buf) != cnl.Hello {
		t.Fatalf("unexpected handshake magic %q", buf)
	}
	return c
}

func writeFrames(t *testing.T, c net.Conn, frames ...can.Frame) {
	t.Helper()
	codec := cnl.Codec{}
	if _, err := c.Write(codec.Encode(frames)); err != nil {
		t.Fatalf("write frames: %v", err)
	}
}

// readFrames decodes n frames from c or fails after timeout.
func readFrames(t *testing.T, c net.Conn, n int, timeout time.Duration) []can.Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(timeout))
	defer c.SetReadDeadline(time.Time{})
	codec := cnl.Codec{}
	out := make([]can.Frame, 0, n)
	for len(out) < n {
		fr, err := codec.Decode(c)
		if err != nil {
			t.Fatalf("read frame %d of %d: %v", len(out)+1, n, err)
		}
		out = append(out, fr)
	}
	return out
}

func waitClients(h *hub.Hub, n int) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.Count() >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
