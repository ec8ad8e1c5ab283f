package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/hub"
	"github.com/kstaniek/go-mscan/internal/metrics"
)

// writeTimeout bounds one batch write to a client that stopped reading.
const writeTimeout = 5 * time.Second

// clientWriter batches received frames for one connection. A batch goes
// out when it is full or when the flush ticker fires.
type clientWriter struct {
	s     *Server
	conn  net.Conn
	cl    *hub.Client
	log   *slog.Logger
	batch []can.Frame
}

func (w *clientWriter) flush() error {
	if len(w.batch) == 0 {
		return nil
	}
	n := len(w.batch)
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := w.s.Codec.EncodeTo(w.conn, w.batch)
	w.batch = w.batch[:0]
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
		w.s.fail(wrap)
		w.log.Warn("client_write_error", "error", wrap, "dropped", n)
		return wrap
	}
	metrics.AddTCPTx(n)
	return nil
}

func (w *clientWriter) run(ctx context.Context) {
	t := time.NewTicker(w.s.flushInterval)
	defer t.Stop()
	for {
		select {
		case fr := <-w.cl.Out:
			w.batch = append(w.batch, fr)
			if len(w.batch) < w.s.batchSize {
				continue
			}
		case <-t.C:
		case <-w.cl.Closed:
			_ = w.flush()
			return
		case <-ctx.Done():
			_ = w.flush()
			return
		}
		if err := w.flush(); err != nil {
			return
		}
	}
}

// startWriter runs the client's writer and unregisters the client when it
// ends.
func (s *Server) startWriter(ctx context.Context, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	w := &clientWriter{s: s, conn: conn, cl: cl, log: logger, batch: make([]can.Frame, 0, s.batchSize)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.run(ctx)
		_ = conn.Close()
		s.unregister(cl)
		logger.Info("client_disconnected")
	}()
}
