package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/logging"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter hands frames completed by the simulated core to the adapter.
// Frames are encoded on the caller's goroutine; one goroutine writes the
// encoded commands to the port.
type TXWriter struct {
	codec Codec
	base  *transport.AsyncTx[[]byte]
}

// NewTXWriter creates a serial TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, sp Port, codec Codec, buf int) *TXWriter {
	write := func(b []byte) error {
		_, err := sp.Write(b)
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.For("serial").Error("serial_write_error", "error", err)
		},
		OnAfter: metrics.IncSerialTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{codec: codec, base: transport.NewAsyncTx(parent, buf, write, hooks)}
}

// SendFrame queues fr for the adapter. Frames the adapter cannot carry fail
// with ErrUnsupportedFrame, a full queue with ErrTxOverflow.
func (w *TXWriter) SendFrame(fr can.Frame) error {
	b, err := w.codec.Encode(fr)
	if err != nil {
		return err
	}
	return w.base.Send(b)
}

// Close stops the writer and waits for pending goroutine exit.
func (w *TXWriter) Close() { w.base.Close() }
