package mscan

import (
	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/regs"
)

// SetFilter programs the two 32-bit hardware acceptance filters. Frames
// passing either filter reach the receive objects' software filters. An
// online controller passes through init mode while the filters change.
func (c *Controller) SetFilter(f1, f2 can.Filter) error {
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	wasEnabled := c.enabled
	if wasEnabled {
		if err := c.initModeEnter(); err != nil {
			return err
		}
	}
	c.writeFilter(0, &f1)
	c.writeFilter(1, &f2)
	c.log.Debug("hw_filter", "filter1", f1.String(), "filter2", f2.String())
	if wasEnabled {
		return c.initModeLeave()
	}
	return nil
}

// writeFilter loads filter n (0 or 1) in 32-bit mode. The controller must
// be in init mode. Only Code, Mask and the Extended/RTR flags apply.
func (c *Controller) writeFilter(n int, f *can.Filter) {
	l := &c.lay
	ar, mr := l.IDAR[n*4:n*4+4], l.IDMR[n*4:n*4+4]
	c.r.Write8(l.IDAC, 0)

	crtr := f.CFlags&can.RTR != 0
	mrtr := f.MFlags&can.RTR != 0
	if f.CFlags&can.Extended != 0 {
		mask := regs.EncodeExtMask(f.Mask, mrtr)
		code := regs.EncodeExtID(f.Code, crtr)
		for i := 0; i < 4; i++ {
			c.r.Write8(ar[i], code[i])
			c.r.Write8(mr[i], mask[i])
		}
		return
	}
	mask := regs.EncodeStdMask(f.Mask, mrtr)
	for i := 0; i < 4; i++ {
		c.r.Write8(mr[i], mask[i])
	}
	code := regs.EncodeStdID(f.Code, crtr)
	c.r.Write8(ar[0], code[0])
	c.r.Write8(ar[1], code[1])
}
