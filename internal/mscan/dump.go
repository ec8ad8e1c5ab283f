package mscan

import (
	"fmt"
	"strings"
)

// Dump renders the controller registers, the transmit slot table and every
// enabled message object as text.
func (c *Controller) Dump() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := &c.lay
	var b strings.Builder
	fmt.Fprintf(&b, "MSCAN REGS:\n CTL0=%02x CTL1=%02x\n RFLG=%02x TFLG=%02x TIER=%02x\n",
		c.r.Read8(l.CTL0), c.r.Read8(l.CTL1),
		c.r.Read8(l.RFLG), c.r.Read8(l.TFLG), c.r.Read8(l.TIER))
	fmt.Fprintf(&b, "MSCAN DRIVER:\n enabled=%t node=%s irqCount=%d\n txPrio: %d %d %d \nMESSAGE OBJECTS:\n",
		c.enabled, c.node, c.irqCount, c.txPrio[0], c.txPrio[1], c.txPrio[2])
	for i := range c.objs {
		o := &c.objs[i]
		if o.dir == Disabled {
			continue
		}
		fmt.Fprintf(&b, " OBJ %d: %s\n", o.nr, o.dir)
		if o.dir == Transmit {
			fmt.Fprintf(&b, "  txbUsed: %x txNxtPrio %d txSentPrio %d\n", o.txbUsed, o.txNxtPrio, o.txSentPrio)
		}
		fmt.Fprintf(&b, "  totEntries: %d filled: %d\n", o.q.capacity(), o.q.filled)
	}
	return b.String()
}
