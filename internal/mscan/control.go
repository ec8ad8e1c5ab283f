package mscan

import (
	"github.com/kstaniek/go-mscan/internal/bustiming"
	"github.com/kstaniek/go-mscan/internal/regs"
)

// SetBusTiming programs raw bus timing. The controller must be disabled.
func (c *Controller) SetBusTiming(t bustiming.Timing) error {
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setBusTiming(t)
}

func (c *Controller) setBusTiming(t bustiming.Timing) error {
	if c.enabled {
		return ErrOnline
	}
	if err := t.Validate(); err != nil {
		return err
	}
	btr0, btr1 := t.Registers()
	c.r.Write8(c.lay.BTR0, btr0)
	c.r.Write8(c.lay.BTR1, btr1)
	c.busTimingSet = true
	c.log.Info("bus_timing", "timing", t.String(), "btr0", btr0, "btr1", btr1, "bitrate", t.Bitrate(c.clock))
	return nil
}

// SetBitrate programs one of the standard bitrates. spl selects three
// samples per bit.
func (c *Controller) SetBitrate(code bustiming.Code, spl bool) error {
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return ErrOnline
	}
	t, err := bustiming.ForCode(code, c.clock, c.minBRP, spl)
	if err != nil {
		return err
	}
	return c.setBusTiming(t)
}

// Enable takes the controller online or back into init mode. Going online
// requires bus timing and enabled interrupts.
func (c *Controller) Enable(on bool) error {
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !on {
		err := c.initModeEnter()
		c.log.Info("mscan_disable", "error", err)
		return err
	}
	if !c.busTimingSet || !c.irqEnabled {
		return ErrNotInit
	}
	err := c.initModeLeave()
	c.log.Info("mscan_enable", "error", err, "node", c.node.String())
	return err
}

// EnableIRQ records whether the owner delivers interrupts. Disabling clears
// all interrupt enables of the core.
func (c *Controller) EnableIRQ(on bool) {
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.irqEnabled = on
	if !on {
		c.r.Write8(c.lay.RIER, 0)
		c.r.Write8(c.lay.TIER, 0)
	}
}

// SetLoopback switches internal loopback. The controller must be disabled.
func (c *Controller) SetLoopback(on bool) error {
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return ErrOnline
	}
	if on {
		c.r.SetBits(c.lay.CTL1, regs.CTL1_LOOPB)
	} else {
		c.r.ClearBits(c.lay.CTL1, regs.CTL1_LOOPB)
	}
	return nil
}

// ClearQueue discards the queued entries of object nr. Frames already
// loaded into transmit buffers are not aborted.
func (c *Controller) ClearQueue(nr int) error {
	if nr < 0 || nr >= NumObjects {
		return ErrBadMsgNum
	}
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &c.objs[nr]
	if o.q.capacity() == 0 {
		return nil
	}
	o.q.ready = false
	o.q.clear()
	o.wakeWaiter()
	return nil
}

// QueueStatus reports free entries of a transmit object, or queued entries
// of any other object, together with its direction.
func (c *Controller) QueueStatus(nr int) (int, Direction, error) {
	if nr < 0 || nr >= NumObjects {
		return 0, Disabled, ErrBadMsgNum
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &c.objs[nr]
	if o.dir == Transmit {
		return o.q.free(), o.dir, nil
	}
	return o.q.filled, o.dir, nil
}

// ErrorCounters reads the transmit and receive error counters. Cores that
// cannot report them while online fail with ErrOnline.
func (c *Controller) ErrorCounters() (tx, rx uint8, err error) {
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled && !c.lay.CountersOnline {
		return 0, 0, ErrOnline
	}
	return c.r.Read8(c.lay.TXER), c.r.Read8(c.lay.RXER), nil
}

// NodeStatus returns the node state as of the last status change.
func (c *Controller) NodeStatus() NodeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node
}

// ClearBusOff is accepted for compatibility; the core recovers from bus off
// on its own.
func (c *Controller) ClearBusOff() error { return nil }

// Clock returns the CAN input clock in Hz.
func (c *Controller) Clock() uint32 { return c.clock }

// Enabled reports whether the controller is online.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// IRQCount returns the number of interrupt sub-events handled so far.
func (c *Controller) IRQCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irqCount
}
