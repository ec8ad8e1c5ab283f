// Package metrics exposes Prometheus series for the controller engine, the
// bus attachments and the TCP gateway. Every series has an in-process
// mirror so the daemon can log totals without scraping itself.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// counter pairs a Prometheus counter with its mirror.
type counter struct {
	prom  prometheus.Counter
	local atomic.Uint64
}

func newCounter(name, help string) *counter {
	return &counter{prom: promauto.NewCounter(prometheus.CounterOpts{Name: name, Help: help})}
}

func (c *counter) add(n int) {
	c.prom.Add(float64(n))
	c.local.Add(uint64(n))
}

func (c *counter) inc() { c.add(1) }

// gauge pairs a Prometheus gauge with its mirror. Values are never negative.
type gauge struct {
	prom  prometheus.Gauge
	local atomic.Uint64
}

func newGauge(name, help string) *gauge {
	return &gauge{prom: promauto.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})}
}

func (g *gauge) set(n int) {
	g.prom.Set(float64(n))
	g.local.Store(uint64(max(n, 0)))
}

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANRead  = "socketcan_read"
	ErrObjectWrite    = "object_write"
	ErrObjectRead     = "object_read"
	ErrIRQWait        = "irq_wait"
)

var errorLabels = []string{
	ErrTCPRead, ErrTCPWrite, ErrHandshake,
	ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
	ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
	ErrObjectWrite, ErrObjectRead, ErrIRQWait,
}

var (
	errorsByLabel = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	errorsTotal atomic.Uint64

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	malformed = newCounter("malformed_frames_total",
		"Rejected malformed frames (protocol violations, invalid length, truncated).")
)

func IncError(label string) {
	errorsByLabel.WithLabelValues(label).Inc()
	errorsTotal.Add(1)
}

func IncMalformed() { malformed.inc() }

// InitBuildInfo sets the build info gauge and creates every error series
// at zero. Call once at startup.
func InitBuildInfo(version, commit, date string) {
	buildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range errorLabels {
		errorsByLabel.WithLabelValues(lbl).Add(0)
	}
}

// Snapshot is a copy of the mirrors.
type Snapshot struct {
	IRQ           uint64
	RxDispatched  uint64
	RxDiscarded   uint64
	RxQOverruns   uint64
	DataOverruns  uint64
	TxScheduled   uint64
	TxCompleted   uint64
	TxDeferred    uint64
	ErrDropped    uint64
	NodeState     uint64
	SerialRx      uint64
	SocketCANRx   uint64
	SerialTx      uint64
	SocketCANTx   uint64
	TCPRx         uint64
	TCPTx         uint64
	Backpressure  uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	Errors        uint64 // sum across error labels
	HubClients    uint64
	Fanout        uint64
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
}

func Snap() Snapshot {
	return Snapshot{
		IRQ:           irqEvents.local.Load(),
		RxDispatched:  rxDispatched.local.Load(),
		RxDiscarded:   rxDiscarded.local.Load(),
		RxQOverruns:   rxQueueOverruns.local.Load(),
		DataOverruns:  dataOverruns.local.Load(),
		TxScheduled:   txScheduled.local.Load(),
		TxCompleted:   txCompleted.local.Load(),
		TxDeferred:    txDeferred.local.Load(),
		ErrDropped:    errorEntriesDropped.local.Load(),
		NodeState:     nodeState.local.Load(),
		SerialRx:      serialRx.local.Load(),
		SocketCANRx:   socketCANRx.local.Load(),
		SerialTx:      serialTx.local.Load(),
		SocketCANTx:   socketCANTx.local.Load(),
		TCPRx:         tcpRx.local.Load(),
		TCPTx:         tcpTx.local.Load(),
		Backpressure:  backpressure.local.Load(),
		HubDrops:      hubDropped.local.Load(),
		HubKicks:      hubKicked.local.Load(),
		HubRejects:    hubRejected.local.Load(),
		Errors:        errorsTotal.Load(),
		HubClients:    hubClients.local.Load(),
		Fanout:        hubFanout.local.Load(),
		Malformed:     malformed.local.Load(),
		QueueDepthMax: hubDepthMax.local.Load(),
		QueueDepthAvg: hubDepthAvg.local.Load(),
	}
}

var (
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// SetReadinessFunc registers the function answering /ready.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady reports readiness. Without a registered function the process
// counts as ready.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
