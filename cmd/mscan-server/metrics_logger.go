package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-mscan/internal/metrics"
)

// runMetricsLogger periodically logs the counter snapshot for setups
// without a Prometheus scraper.
func runMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			snap := metrics.Snap()
			l.Info("metrics_snapshot",
				"irq", snap.IRQ,
				"rx_dispatched", snap.RxDispatched,
				"rx_discarded", snap.RxDiscarded,
				"rx_queue_overruns", snap.RxQOverruns,
				"data_overruns", snap.DataOverruns,
				"tx_scheduled", snap.TxScheduled,
				"tx_completed", snap.TxCompleted,
				"tx_deferred", snap.TxDeferred,
				"error_entries_dropped", snap.ErrDropped,
				"node_state", snap.NodeState,
				"serial_rx", snap.SerialRx,
				"serial_tx", snap.SerialTx,
				"socketcan_rx", snap.SocketCANRx,
				"socketcan_tx", snap.SocketCANTx,
				"tcp_rx", snap.TCPRx,
				"tcp_tx", snap.TCPTx,
				"backpressure", snap.Backpressure,
				"hub_drops", snap.HubDrops,
				"errors", snap.Errors,
			)
		case <-ctx.Done():
			return
		}
	}
}
