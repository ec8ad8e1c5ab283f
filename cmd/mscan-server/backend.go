package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/avast/retry-go"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/regs"
)

// registerBackend is where the controller's registers live.
type registerBackend struct {
	access regs.Access
	irq    regs.IRQSource
	layout regs.Layout
	// sim is set for the simulated core; its bus is served by runTxPump
	// and the bus receive loop.
	sim *regs.Sim
	// busSend hands a frame completed by the simulated core to the bus.
	// Nil when the core has no bus attached.
	busSend func(can.Frame) error
	cleanup func()
}

// uioDevice is the part of *regs.UIO the daemon uses.
type uioDevice interface {
	regs.Access
	regs.IRQSource
	Close() error
}

// openUIO is a hook for tests.
var openUIO = func(path string, size uint32) (uioDevice, error) { return regs.OpenUIO(path, size) }

// initBackend opens the register backend and, for the simulated core, its
// bus attachment. Bus receive loops are tracked by wg.
func initBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (*registerBackend, error) {
	layout, ok := regs.LayoutByName(cfg.layout)
	if !ok {
		return nil, fmt.Errorf("unknown layout %q", cfg.layout)
	}
	switch cfg.backend {
	case "uio":
		var dev uioDevice
		err := openWithRetry(ctx, cfg, l, "uio", func() error {
			var err error
			dev, err = openUIO(cfg.uioDev, layout.Size)
			return err
		})
		if err != nil {
			return nil, err
		}
		l.Info("uio_open", "device", cfg.uioDev, "layout", layout.Name)
		return &registerBackend{
			access:  dev,
			irq:     dev,
			layout:  layout,
			cleanup: func() { _ = dev.Close() },
		}, nil
	case "sim":
		sim := regs.NewSim(layout)
		be := &registerBackend{access: sim, irq: sim, layout: layout, sim: sim, cleanup: func() {}}
		deliver := func(fr can.Frame) {
			if !sim.Deliver(fr) {
				l.Debug("bus_rx_rejected", "frame", fr.String())
			}
		}
		var err error
		switch cfg.bus {
		case "serial":
			be.busSend, be.cleanup, err = initSerialBus(ctx, cfg, deliver, l, wg)
		case "socketcan":
			be.busSend, be.cleanup, err = initSocketCANBus(ctx, cfg, deliver, l, wg)
		case "none":
		default:
			err = fmt.Errorf("unknown bus %q (use none|serial|socketcan)", cfg.bus)
		}
		if err != nil {
			return nil, err
		}
		l.Info("sim_core", "layout", layout.Name, "bus", cfg.bus)
		return be, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use sim|uio)", cfg.backend)
	}
}

// openWithRetry retries open up to cfg.openRetries times. It is only used
// for opening devices, never for register handshakes.
func openWithRetry(ctx context.Context, cfg *appConfig, l *slog.Logger, what string, open func() error) error {
	err := retry.Do(open,
		retry.Context(ctx),
		retry.Attempts(uint(cfg.openRetries)),
		retry.Delay(openRetryDelay),
		retry.OnRetry(func(n uint, err error) {
			l.Warn("open_retry", "what", what, "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", what, err)
	}
	return nil
}
