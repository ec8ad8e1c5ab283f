package mscan

import (
	"context"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/regs"
)

// Irq services one interrupt assertion: receive, completed transmissions,
// refill of free transmit buffers, receive overrun and status change. It
// reports whether the controller had anything to service.
func (c *Controller) Irq() bool {
	l := &c.lay
	c.mu.Lock()
	defer c.mu.Unlock()

	tflg := c.r.Read8(l.TFLG) & regs.TxBufMask

	handled := 0
	rflg := c.r.Read8(l.RFLG)
	if rflg&regs.RFLG_RXF != 0 {
		c.irqRx()
		handled++
	}

	// completed transmissions
	for txb := 0; tflg != 0 && txb < regs.NumTxBuffers; txb++ {
		mask := uint8(1) << txb
		if tflg&mask == 0 || c.txPrio[txb] == unassigned {
			continue
		}
		prio := c.txPrio[txb]
		o := &c.objs[prio>>4]
		loc := uint8(prio & 0xf)
		if loc > o.txSentPrio || (loc == 0 && o.txSentPrio == 0xf) {
			o.txSentPrio = loc
		}
		o.txbUsed &^= mask
		c.txPrio[txb] = unassigned
		metrics.IncTxCompleted()
		handled++
	}

	// refill free buffers
	nothing := false
	for txb := 0; txb < regs.NumTxBuffers; txb++ {
		mask := uint8(1) << txb
		if tflg&mask == 0 {
			continue
		}
		if nothing || !c.scheduleNextTx(txb) {
			c.r.ClearBits(l.TIER, mask)
			nothing = true
		}
		// loopback reception can overrun the receiver while we transmit
		if rflg = c.r.Read8(l.RFLG); rflg&regs.RFLG_RXF != 0 {
			c.irqRx()
			handled++
		}
	}

	if rflg&regs.RFLG_OVRIF != 0 {
		c.log.Warn("rx_overrun")
		metrics.IncDataOverrun()
		c.putError(0, DataOverrun)
		c.r.Write8(l.RFLG, regs.RFLG_OVRIF)
		handled++
	}

	if rflg&regs.RFLG_CSCIF != 0 {
		c.irqStatus()
		c.r.Write8(l.RFLG, regs.RFLG_CSCIF)
		handled++
	}

	if handled == 0 {
		return false
	}
	c.irqCount += uint64(handled)
	metrics.AddIRQ(handled)
	return true
}

// Serve runs the interrupt loop until ctx is done: wait for the interrupt
// source, then call Irq.
func (c *Controller) Serve(ctx context.Context, src regs.IRQSource) error {
	for {
		if err := src.WaitIRQ(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.Irq()
	}
}

// readRxFrame decodes the frame in the receive buffer and releases it.
func (c *Controller) readRxFrame() can.Frame {
	l := &c.lay
	var f can.Frame
	idr1 := c.r.Read8(l.RXIDR[1])
	if regs.IsExtended(idr1) {
		idr := [4]uint8{c.r.Read8(l.RXIDR[0]), idr1, c.r.Read8(l.RXIDR[2]), c.r.Read8(l.RXIDR[3])}
		id, rtr := regs.DecodeExtID(idr)
		f.ID, f.Flags = id, can.Extended
		if rtr {
			f.Flags |= can.RTR
		}
	} else {
		id, rtr := regs.DecodeStdID(c.r.Read8(l.RXIDR[0]), idr1)
		f.ID = id
		if rtr {
			f.Flags |= can.RTR
		}
	}
	n := c.r.Read8(l.RXDLR) & 0x0f
	if n > can.MaxLen {
		n = can.MaxLen
	}
	f.Len = n
	for i := uint8(0); i < n; i++ {
		f.Data[i] = c.r.Read8(l.RXDSR[i])
	}
	c.r.Write8(l.RFLG, regs.RFLG_RXF)
	return f
}

// irqRx takes one frame from the controller and hands it to the first
// ready receive object whose filter accepts it.
func (c *Controller) irqRx() {
	f := c.readRxFrame()
	for nr := c.firstRx; nr <= c.lastRx; nr++ {
		o := &c.objs[nr]
		if !o.q.ready || o.dir != Receive {
			continue
		}
		if !o.filter.Match(&f) {
			continue
		}
		if o.q.full() {
			metrics.IncRxQueueOverrun()
			if !o.q.errSent {
				c.log.Warn("obj_overrun", "obj", nr)
				c.putError(nr, QueueOverrun)
				o.q.errSent = true
			}
			return
		}
		o.q.push(entry{frame: f})
		o.wakeWaiter()
		o.fire()
		metrics.IncRxDispatched()
		c.log.Debug("rx_frame", "obj", nr, "frame", f.String())
		return
	}
	metrics.IncRxDiscarded()
}

// scheduleNextTx loads the head frame of the first transmit object with
// data into buffer txb. It reports false when nothing was scheduled.
func (c *Controller) scheduleNextTx(txb int) bool {
	var o *object
	for nr := c.firstTx; nr <= c.lastTx; nr++ {
		cand := &c.objs[nr]
		if cand.q.ready && cand.dir == Transmit && cand.q.filled != 0 {
			o = cand
			break
		}
	}
	if o == nil {
		return false
	}
	// A fresh local priority of 0 would overtake this object's frames that
	// are still pending with higher values.
	if o.txNxtPrio == 0 && o.txSentPrio < 0xf {
		c.log.Debug("tx_defer", "obj", o.nr, "txb", txb)
		metrics.IncTxDeferred()
		return false
	}

	prio := int(o.txNxtPrio) | o.nr<<4
	c.txPrio[txb] = prio
	o.txNxtPrio = (o.txNxtPrio + 1) & 0xf
	mask := uint8(1) << txb
	o.txbUsed |= mask

	f := &o.q.buf[o.q.out].frame
	c.loadTxBuffer(txb, f, uint8(prio))
	c.log.Debug("tx_sched", "obj", o.nr, "txb", txb, "prio", prio, "frame", f.String())

	o.q.pop()
	o.wakeWaiter()
	o.fire()
	metrics.IncTxScheduled()
	return true
}

// loadTxBuffer fills transmit buffer txb with f and starts the transmission.
func (c *Controller) loadTxBuffer(txb int, f *can.Frame, prio uint8) {
	l := &c.lay
	mask := uint8(1) << txb
	c.r.Write8(l.BSEL, mask)
	for i := range l.TXDSR {
		c.r.Write8(l.TXDSR[i], f.Data[i])
	}
	c.r.Write8(l.TXDLR, f.Len)
	if f.IsExtended() {
		idr := regs.EncodeExtID(f.ID, f.IsRemote())
		for i := range idr {
			c.r.Write8(l.TXIDR[i], idr[i])
		}
	} else {
		idr := regs.EncodeStdID(f.ID, f.IsRemote())
		c.r.Write8(l.TXIDR[0], idr[0])
		c.r.Write8(l.TXIDR[1], idr[1])
	}
	c.r.Write8(l.TXBPR, prio)
	c.r.SetBits(l.TIER, mask)
	c.r.Write8(l.TFLG, mask)
}

// putError posts an error entry to the error object if it is configured.
// A full error queue drops the entry.
func (c *Controller) putError(nr int, code ErrorCode) {
	o := &c.objs[ErrorObject]
	if !o.q.ready {
		return
	}
	if o.q.full() {
		c.log.Warn("error_queue_full", "code", code.Name(), "obj", nr)
		metrics.IncErrorEntryDropped()
		return
	}
	o.q.push(entry{err: ErrorEntry{Code: code, Obj: nr}, isErr: true})
	o.wakeWaiter()
	o.fire()
}

// nodeStatusOf derives the node state from RFLG's TSTAT/RSTAT fields.
func nodeStatusOf(rflg uint8) NodeStatus {
	switch {
	case rflg&regs.RFLG_TSTAT == 0x0c:
		return BusOff
	case rflg&regs.RFLG_TSTAT == 0x08, rflg&regs.RFLG_RSTAT == 0x20:
		return ErrorPassive
	}
	return ErrorActive
}

// irqStatus recomputes the node state and reports its edges. Bus-off and
// passive are tracked as independent edges; leaving passive is reported
// only on the way back to error active.
func (c *Controller) irqStatus() {
	old := c.node
	now := nodeStatusOf(c.r.Read8(c.lay.RFLG))
	if old == now {
		return
	}
	if now == BusOff {
		c.putError(0, BusOffSet)
	}
	if old == BusOff {
		c.putError(0, BusOffClr)
	}
	if now == ErrorPassive {
		c.putError(0, WarnSet)
	}
	if old == ErrorPassive && now == ErrorActive {
		c.putError(0, WarnClr)
	}
	c.node = now
	metrics.SetNodeState(int(now))
	c.log.Warn("irq_status_change", "from", old.String(), "to", now.String())
}
