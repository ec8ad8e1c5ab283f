package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/socketcan"
)

// openSocketCANDevice is a hook for tests.
var openSocketCANDevice = func(ctx context.Context, iface string) (socketcan.Dev, error) {
	return socketcan.Open(ctx, iface)
}

// initSocketCANBus attaches a CAN interface as the bus of the simulated
// core.
func initSocketCANBus(ctx context.Context, cfg *appConfig, deliver func(can.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	var dev socketcan.Dev
	err := openWithRetry(ctx, cfg, l, "socketcan", func() error {
		var err error
		dev, err = openSocketCANDevice(ctx, cfg.canIf)
		return err
	})
	if err != nil {
		return nil, func() {}, err
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		var backoff rxBackoff
		for ctx.Err() == nil {
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				d := backoff.step()
				l.Warn("socketcan_read_error", "error", err, "backoff", d)
				sleepFn(d)
				continue
			}
			metrics.IncSocketCANRx()
			deliver(fr)
			backoff.reset()
		}
	}()
	return tw.SendFrame, func() { _ = dev.Close(); tw.Close() }, nil
}
