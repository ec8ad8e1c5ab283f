package server

import (
	"log/slog"
	"sync/atomic"
)

// stats counts connection outcomes over the server's lifetime.
type stats struct {
	accepted      atomic.Uint64
	handshakeFail atomic.Uint64
	rejected      atomic.Uint64
	connected     atomic.Uint64
	disconnected  atomic.Uint64
	backpressure  atomic.Uint64
	txErrors      atomic.Uint64
}

func (st *stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("accepted", st.accepted.Load()),
		slog.Uint64("handshake_fail", st.handshakeFail.Load()),
		slog.Uint64("rejected", st.rejected.Load()),
		slog.Uint64("connected", st.connected.Load()),
		slog.Uint64("disconnected", st.disconnected.Load()),
		slog.Uint64("backpressure", st.backpressure.Load()),
		slog.Uint64("tx_errors", st.txErrors.Load()),
	)
}
