// Package mscan is the message object engine of an MSCAN CAN controller.
//
// A Controller multiplexes up to nine queued message objects onto the
// controller's receive FIFO and three transmit buffers. Callers enqueue and
// dequeue frames concurrently; all protocol work happens in Irq, which the
// owner calls whenever the controller raises its interrupt (see Serve).
//
// Two locks are involved. The device lock serializes API calls and is
// released while a caller waits for queue space or data. The critical
// section guards everything Irq touches and is never held across a wait.
package mscan

import (
	"log/slog"
	"sync"

	"github.com/kstaniek/go-mscan/internal/bustiming"
	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/logging"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/regs"
)

// initSpin bounds the INITAK handshake polling.
const initSpin = 20000

const unassigned = -1

// Config configures a Controller.
type Config struct {
	// Clock is the CAN input clock in Hz. Mandatory.
	Clock uint32
	// MinBRP is the smallest prescaler the bitrate search may use
	// (default bustiming.DefaultMinBRP).
	MinBRP uint32
	// Layout is the register layout of the core (default regs.Z15).
	Layout regs.Layout
	// Logger defaults to the global logger tagged component=mscan.
	Logger *slog.Logger
}

type object struct {
	nr     int
	dir    Direction
	q      queue
	filter can.Filter
	notify Notifier
	// wake is closed and replaced on every wakeup; waiters capture it
	// inside the critical section before parking.
	wake    chan struct{}
	waiters int

	// transmit scheduling
	txbUsed    uint8
	txNxtPrio  uint8
	txSentPrio uint8
}

func (o *object) resetTxState() {
	o.txbUsed = 0
	o.txNxtPrio = 0
	o.txSentPrio = 0xf
}

// wakeWaiter releases every caller blocked on this object. Each one
// re-checks its condition, so waking all of them is always safe.
func (o *object) wakeWaiter() {
	if o.waiters == 0 {
		return
	}
	close(o.wake)
	o.wake = make(chan struct{})
}

func (o *object) fire() {
	if o.notify != nil {
		o.notify.Notify()
	}
}

// Controller drives one MSCAN core.
type Controller struct {
	dev sync.Mutex // device lock
	mu  sync.Mutex // critical section shared with Irq

	r      regs.Access
	lay    regs.Layout
	clock  uint32
	minBRP uint32
	log    *slog.Logger

	objs            [NumObjects]object
	firstRx, lastRx int
	firstTx, lastTx int
	txPrio          [regs.NumTxBuffers]int
	enabled         bool
	busTimingSet    bool
	irqEnabled      bool
	node            NodeStatus
	irqCount        uint64
}

// New initializes the core behind r: all objects disabled, controller in
// init mode, hardware filters accepting every standard (filter 0) and
// extended (filter 1) frame.
func New(cfg Config, r regs.Access) (*Controller, error) {
	if cfg.Clock == 0 || r == nil {
		return nil, ErrBadParameter
	}
	if cfg.MinBRP == 0 {
		cfg.MinBRP = bustiming.DefaultMinBRP
	}
	if cfg.Layout.Size == 0 {
		cfg.Layout = regs.Z15
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.For("mscan")
	}
	c := &Controller{
		r:      r,
		lay:    cfg.Layout,
		clock:  cfg.Clock,
		minBRP: cfg.MinBRP,
		log:    cfg.Logger,
	}
	for i := range c.objs {
		c.objs[i].nr = i
		c.objs[i].wake = make(chan struct{})
		c.objs[i].resetTxState()
	}
	for i := range c.txPrio {
		c.txPrio[i] = unassigned
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recomputeLimits()

	c.r.Write8(c.lay.CTL1, regs.CTL1_CANE)
	if c.r.Read8(c.lay.CTL1)&regs.CTL1_CANE == 0 {
		c.log.Error("mscan_init", "error", "CANE not set", "layout", c.lay.Name)
		return nil, ErrDeviceNotReady
	}
	c.node = ErrorActive
	metrics.SetNodeState(int(c.node))
	if err := c.initModeEnter(); err != nil {
		return nil, err
	}
	std, ext := can.AcceptAll(), can.AcceptAllExtended()
	c.writeFilter(0, &std)
	c.writeFilter(1, &ext)

	c.log.Info("mscan_init", "layout", c.lay.Name, "clock", c.clock, "min_brp", c.minBRP)
	return c, nil
}

// Close puts the controller into init mode, removes installed notifiers and
// releases every queue. Blocked callers are woken and fail.
func (c *Controller) Close() error {
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.initModeEnter()
	for i := range c.objs {
		o := &c.objs[i]
		o.notify = nil
		o.dir = Disabled
		o.q.release()
		o.wakeWaiter()
	}
	c.recomputeLimits()
	c.log.Info("mscan_close", "error", err)
	return err
}

// recomputeLimits caches the object ranges scanned at interrupt time.
// Object 0 is never part of them.
func (c *Controller) recomputeLimits() {
	firstRx, lastRx, firstTx, lastTx := NumObjects, 0, NumObjects, 0
	for nr := 1; nr < NumObjects; nr++ {
		switch c.objs[nr].dir {
		case Receive:
			firstRx = min(firstRx, nr)
			lastRx = max(lastRx, nr)
		case Transmit:
			firstTx = min(firstTx, nr)
			lastTx = max(lastTx, nr)
		}
	}
	c.firstRx, c.lastRx, c.firstTx, c.lastTx = firstRx, lastRx, firstTx, lastTx
	c.log.Debug("obj_limits", "rx_first", firstRx, "rx_last", lastRx, "tx_first", firstTx, "tx_last", lastTx)
}

// Configure (re)configures message object nr. Capacity must be positive
// unless dir is Disabled. Any previous queue content is discarded.
func (c *Controller) Configure(nr int, dir Direction, capacity int, f can.Filter) error {
	if dir > Transmit {
		return ErrBadDir
	}
	if nr < 0 || nr >= NumObjects {
		return ErrBadMsgNum
	}
	if dir != Disabled && capacity <= 0 {
		return ErrBadParameter
	}
	if !f.Valid() {
		return ErrBadParameter
	}

	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	o := &c.objs[nr]
	o.q.release()
	if dir != Disabled {
		o.q.buf = make([]entry, capacity)
		o.dir = dir
		o.filter = f
		o.resetTxState()
		o.q.clear()
	} else {
		o.dir = Disabled
	}
	o.wakeWaiter()
	c.recomputeLimits()
	c.log.Debug("obj_config", "obj", nr, "dir", dir.String(), "entries", capacity, "filter", f.String())
	return nil
}

// initModeEnter requests init mode and waits for the acknowledge.
func (c *Controller) initModeEnter() error {
	c.r.SetBits(c.lay.CTL0, regs.CTL0_INITRQ)
	for i := 0; c.r.Read8(c.lay.CTL1)&regs.CTL1_INITAK == 0; i++ {
		if i == initSpin {
			c.log.Error("init_mode_enter", "error", "INITAK timeout")
			return ErrDeviceNotReady
		}
	}
	c.enabled = false
	return nil
}

// initModeLeave resets all transmit scheduling state and takes the
// controller online.
func (c *Controller) initModeLeave() error {
	for i := range c.txPrio {
		c.txPrio[i] = unassigned
	}
	pending := false
	for nr := 1; nr < NumObjects; nr++ {
		o := &c.objs[nr]
		o.resetTxState()
		if o.dir == Transmit && o.q.filled > 0 {
			pending = true
		}
	}

	c.r.ClearBits(c.lay.CTL0, regs.CTL0_INITRQ)
	for i := 0; c.r.Read8(c.lay.CTL1)&regs.CTL1_INITAK != 0; i++ {
		if i == initSpin {
			c.log.Error("init_mode_leave", "error", "INITAK timeout")
			return ErrDeviceNotReady
		}
	}
	c.enabled = true

	c.irqStatus()
	c.r.Write8(c.lay.RIER, regs.RFLG_RXF|regs.RFLG_OVRIF|regs.RFLG_CSCIF|regs.RIER_STATE_ALL)
	if pending {
		c.r.Write8(c.lay.TIER, regs.TxBufMask)
	}
	return nil
}
