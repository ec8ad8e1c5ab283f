package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/transport"
)

const readBatch = 16

// startReader decodes client frames and hands them to the transmit object.
func (s *Server) startReader(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			n, err := s.decode(conn, func(fr can.Frame) { s.forward(ctx, fr, logger) })
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				s.fail(wrap)
				logger.Warn("client_read_error", "error", wrap)
				return
			}
			if n == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

func (s *Server) decode(r io.Reader, onFrame func(can.Frame)) (int, error) {
	if bd, ok := s.Codec.(transport.BatchDecoder); ok {
		return bd.DecodeN(r, readBatch, onFrame)
	}
	fr, err := s.Codec.Decode(r)
	if err != nil {
		return 0, err
	}
	onFrame(fr)
	return 1, nil
}

// forward sends one client frame. A transmit queue that stays full is
// backpressure, not a failure of the connection.
func (s *Server) forward(ctx context.Context, fr can.Frame, logger *slog.Logger) {
	if s.frameFilter != nil && !s.frameFilter(&fr) {
		return
	}
	metrics.IncTCPRx()
	if s.Send == nil {
		return
	}
	err := s.Send(ctx, fr)
	switch {
	case err == nil:
	case isBackpressure(err):
		s.stats.backpressure.Add(1)
		metrics.IncBackpressure()
		logger.Debug("object_tx_backpressure", "frame", fr.String(), "error", err)
	case ctx.Err() != nil:
	default:
		wrap := fmt.Errorf("%w: %v", ErrObjectTx, err)
		s.fail(wrap)
		s.stats.txErrors.Add(1)
		logger.Error("object_tx_error", "error", wrap, "frame", fr.String())
	}
}
