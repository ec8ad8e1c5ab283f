package main

import (
	"context"
	"log/slog"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/regs"
)

// runTxPump plays the bus for the simulated core: every launched transmit
// buffer is completed in arbitration order and its frame handed to send.
// With no bus attached (send == nil) frames are completed and dropped,
// which together with loopback mode gives a self-contained gateway.
func runTxPump(ctx context.Context, sim *regs.Sim, send func(can.Frame) error, l *slog.Logger) error {
	for {
		for {
			fr, ok := sim.Transmit()
			if !ok {
				break
			}
			if send == nil {
				continue
			}
			if err := send(fr); err != nil {
				l.Debug("bus_tx_error", "frame", fr.String(), "error", err)
			}
		}
		select {
		case <-sim.TxReady():
		case <-ctx.Done():
			return nil
		}
	}
}
