package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/serial"
)

// openSerialPort is a hook for tests.
var openSerialPort = serial.Open

// initSerialBus attaches an Ampio adapter as the bus of the simulated core.
// Received frames go to deliver; the returned send writes frames the core
// transmitted.
func initSerialBus(ctx context.Context, cfg *appConfig, deliver func(can.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	var sp serial.Port
	err := openWithRetry(ctx, cfg, l, "serial", func() error {
		var err error
		sp, err = openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		return err
	})
	if err != nil {
		return nil, func() {}, err
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
	codec := serial.Codec{}
	w := serial.NewTXWriter(ctx, sp, codec, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		serialRxLoop(ctx, sp, codec, deliver, l)
	}()
	return w.SendFrame, func() { _ = sp.Close(); w.Close() }, nil
}

func serialRxLoop(ctx context.Context, sp serial.Port, codec serial.Codec, deliver func(can.Frame), l *slog.Logger) {
	buf := make([]byte, serialReadBufSize)
	acc := bytes.NewBuffer(nil)
	var backoff rxBackoff
	for ctx.Err() == nil {
		n, err := sp.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			_ = codec.DecodeStream(acc, deliver)
			if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
				acc = bytes.NewBuffer(nil)
			}
			backoff.reset()
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		var perr *os.PathError
		if errors.As(err, &perr) {
			l.Error("serial_device_lost", "error", err)
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// read timeout without data
			continue
		}
		metrics.IncError(metrics.ErrSerialRead)
		d := backoff.step()
		l.Warn("serial_read_error", "error", err, "backoff", d)
		sleepFn(d)
	}
}
