package regs

import (
	"context"
	"sync"

	"github.com/kstaniek/go-mscan/internal/can"
)

// RxFifoDepth is the number of receive buffers of the simulated core.
const RxFifoDepth = 5

// Receiver/transmitter state levels as reported in RFLG RSTAT/TSTAT.
const (
	StateOK      = 0
	StateWarning = 1
	StatePassive = 2
	StateBusOff  = 3
)

// TxRecord is a frame launched into a transmit buffer by a TFLG write.
type TxRecord struct {
	Buf   int
	Prio  uint8
	Frame can.Frame
}

type image struct {
	idr [4]uint8
	dsr [8]uint8
	dlr uint8
}

func imageOf(f can.Frame) image {
	var img image
	if f.IsExtended() {
		img.idr = EncodeExtID(f.ID, f.IsRemote())
	} else {
		std := EncodeStdID(f.ID, f.IsRemote())
		img.idr[0], img.idr[1] = std[0], std[1]
	}
	img.dsr = f.Data
	img.dlr = f.Len & 0x0f
	return img
}

func (img *image) frame() can.Frame {
	var f can.Frame
	if IsExtended(img.idr[1]) {
		id, rtr := DecodeExtID(img.idr)
		f.ID, f.Flags = id, can.Extended
		if rtr {
			f.Flags |= can.RTR
		}
	} else {
		id, rtr := DecodeStdID(img.idr[0], img.idr[1])
		f.ID = id
		if rtr {
			f.Flags |= can.RTR
		}
	}
	f.Len = img.dlr & 0x0f
	if f.Len > can.MaxLen {
		f.Len = can.MaxLen
	}
	f.Data = img.dsr
	return f
}

type txBuffer struct {
	image
	bpr     uint8
	pending bool
}

type slotKind uint8

const (
	slotTxIDR slotKind = iota + 1
	slotTxDSR
	slotTxDLR
	slotTxBPR
	slotRxIDR
	slotRxDSR
	slotRxDLR
)

type slot struct {
	kind slotKind
	idx  int
}

// Sim is a behavioural model of an MSCAN core behind an Access interface.
// It models the init mode handshake, BSEL-banked transmit buffers with
// lowest-priority-first arbitration, a receive FIFO with overrun, the
// 32-bit acceptance filters, loopback and status change flags.
//
// The bus side is driven explicitly: Deliver puts a frame into the receive
// FIFO, Transmit completes the highest priority pending transmit buffer.
type Sim struct {
	mu    sync.Mutex
	lay   Layout
	mem   []uint8
	slots map[uint32]slot

	tx       [NumTxBuffers]txBuffer
	rx       []image
	launched []TxRecord

	initStuck bool
	caneStuck bool

	irq     chan struct{}
	txReady chan struct{}
}

// maxLaunched bounds the launch history kept for Launched.
const maxLaunched = 4096

// NewSim returns a core in reset state (init mode, all transmit buffers empty).
func NewSim(l Layout) *Sim {
	s := &Sim{
		lay:   l,
		mem:   make([]uint8, l.Size),
		slots: make(map[uint32]slot),
		irq:   make(chan struct{}, 1),

		txReady: make(chan struct{}, 1),
	}
	for i, o := range l.TXIDR {
		s.slots[o] = slot{slotTxIDR, i}
	}
	for i, o := range l.TXDSR {
		s.slots[o] = slot{slotTxDSR, i}
	}
	s.slots[l.TXDLR] = slot{slotTxDLR, 0}
	s.slots[l.TXBPR] = slot{slotTxBPR, 0}
	for i, o := range l.RXIDR {
		s.slots[o] = slot{slotRxIDR, i}
	}
	for i, o := range l.RXDSR {
		s.slots[o] = slot{slotRxDSR, i}
	}
	s.slots[l.RXDLR] = slot{slotRxDLR, 0}

	s.mem[l.CTL0] = CTL0_INITRQ
	s.mem[l.CTL1] = CTL1_INITAK
	s.mem[l.TFLG] = TxBufMask
	return s
}

// Layout returns the register layout the core was built with.
func (s *Sim) Layout() Layout { return s.lay }

func (s *Sim) Read8(off uint32) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(off)
}

func (s *Sim) Write8(off uint32, v uint8) {
	s.mu.Lock()
	s.write(off, v)
	s.mu.Unlock()
}

func (s *Sim) SetBits(off uint32, mask uint8) {
	s.mu.Lock()
	s.write(off, s.read(off)|mask)
	s.mu.Unlock()
}

func (s *Sim) ClearBits(off uint32, mask uint8) {
	s.mu.Lock()
	s.write(off, s.read(off)&^mask)
	s.mu.Unlock()
}

func (s *Sim) selected() *txBuffer {
	sel := s.mem[s.lay.BSEL] & TxBufMask
	for i := 0; i < NumTxBuffers; i++ {
		if sel&(1<<i) != 0 {
			return &s.tx[i]
		}
	}
	return nil
}

func (s *Sim) read(off uint32) uint8 {
	sl, ok := s.slots[off]
	if !ok {
		if off >= uint32(len(s.mem)) {
			return 0
		}
		return s.mem[off]
	}
	switch sl.kind {
	case slotRxIDR, slotRxDSR, slotRxDLR:
		if len(s.rx) == 0 {
			return 0
		}
		img := &s.rx[0]
		switch sl.kind {
		case slotRxIDR:
			return img.idr[sl.idx]
		case slotRxDSR:
			return img.dsr[sl.idx]
		default:
			return img.dlr
		}
	}
	b := s.selected()
	if b == nil {
		return 0
	}
	switch sl.kind {
	case slotTxIDR:
		return b.idr[sl.idx]
	case slotTxDSR:
		return b.dsr[sl.idx]
	case slotTxDLR:
		return b.dlr
	default:
		return b.bpr
	}
}

func (s *Sim) write(off uint32, v uint8) {
	l := &s.lay
	if sl, ok := s.slots[off]; ok {
		b := s.selected()
		if b == nil {
			return
		}
		switch sl.kind {
		case slotTxIDR:
			b.idr[sl.idx] = v
		case slotTxDSR:
			b.dsr[sl.idx] = v
		case slotTxDLR:
			b.dlr = v & 0x0f
		case slotTxBPR:
			b.bpr = v
		}
		return
	}
	if off >= uint32(len(s.mem)) {
		return
	}
	switch off {
	case l.CTL0:
		s.mem[off] = v
		if s.initStuck {
			return
		}
		if v&CTL0_INITRQ != 0 {
			if s.mem[l.CTL1]&CTL1_INITAK == 0 {
				s.resetForInit()
			}
			s.mem[l.CTL1] |= CTL1_INITAK
		} else {
			s.mem[l.CTL1] &^= CTL1_INITAK
		}
	case l.CTL1:
		v = v&^CTL1_INITAK | s.mem[off]&CTL1_INITAK
		if s.caneStuck {
			v &^= CTL1_CANE
		}
		s.mem[off] = v
	case l.RFLG:
		if v&RFLG_RXF != 0 && len(s.rx) > 0 {
			s.rx = s.rx[1:]
			if len(s.rx) == 0 {
				s.mem[off] &^= RFLG_RXF
			}
		}
		s.mem[off] &^= v & (RFLG_OVRIF | RFLG_CSCIF | RFLG_WUPIF)
	case l.TFLG:
		for i := 0; i < NumTxBuffers; i++ {
			bit := uint8(1) << i
			if v&bit == 0 || s.mem[off]&bit == 0 {
				continue
			}
			s.mem[off] &^= bit
			b := &s.tx[i]
			b.pending = true
			if len(s.launched) >= maxLaunched {
				s.launched = append(s.launched[:0], s.launched[maxLaunched/2:]...)
			}
			s.launched = append(s.launched, TxRecord{Buf: i, Prio: b.bpr, Frame: b.frame()})
			select {
			case s.txReady <- struct{}{}:
			default:
			}
		}
	case l.BSEL:
		s.mem[off] = v & TxBufMask
	case l.TIER:
		if s.inInit() {
			return
		}
		s.mem[off] = v & TxBufMask
		s.kick()
	case l.RIER:
		if s.inInit() {
			return
		}
		s.mem[off] = v
		s.kick()
	default:
		s.mem[off] = v
	}
}

// resetForInit applies the register resets of entering init mode: pending
// transmissions are dropped and interrupt enables are cleared.
func (s *Sim) resetForInit() {
	l := &s.lay
	for i := range s.tx {
		s.tx[i].pending = false
	}
	s.rx = nil
	s.mem[l.TFLG] = TxBufMask
	s.mem[l.TIER] = 0
	s.mem[l.RIER] = 0
	s.mem[l.RFLG] &^= RFLG_RXF | RFLG_OVRIF | RFLG_CSCIF | RFLG_WUPIF
}

func (s *Sim) inInit() bool { return s.mem[s.lay.CTL1]&CTL1_INITAK != 0 }

func (s *Sim) online() bool {
	ctl1 := s.mem[s.lay.CTL1]
	return ctl1&CTL1_CANE != 0 && ctl1&CTL1_INITAK == 0
}

func (s *Sim) kick() {
	select {
	case s.irq <- struct{}{}:
	default:
	}
}

// accept applies the two 32-bit acceptance filters (IDAC mode 0).
func (s *Sim) accept(img *image) bool {
	l := &s.lay
	if s.mem[l.IDAC]&0x30 != 0 {
		return true
	}
	for f := 0; f < 2; f++ {
		hit := true
		for i := 0; i < 4; i++ {
			code := s.mem[l.IDAR[f*4+i]]
			mask := s.mem[l.IDMR[f*4+i]]
			if (img.idr[i]^code)&^mask != 0 {
				hit = false
				break
			}
		}
		if hit {
			return true
		}
	}
	return false
}

func (s *Sim) deliver(f can.Frame) bool {
	if !s.online() {
		return false
	}
	img := imageOf(f)
	if !s.accept(&img) {
		return false
	}
	if len(s.rx) >= RxFifoDepth {
		s.mem[s.lay.RFLG] |= RFLG_OVRIF
		s.kick()
		return false
	}
	s.rx = append(s.rx, img)
	s.mem[s.lay.RFLG] |= RFLG_RXF
	s.kick()
	return true
}

// Deliver puts a frame seen on the bus into the receive FIFO. It reports
// false when the core is offline, the acceptance filters reject the frame
// or the FIFO overran.
func (s *Sim) Deliver(f can.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliver(f)
}

// Transmit completes the pending transmit buffer with the lowest priority
// value (lowest index on ties) and returns its frame. In loopback mode the
// frame is also received by the core itself.
func (s *Sim) Transmit() (can.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := -1
	for i := range s.tx {
		if !s.tx[i].pending {
			continue
		}
		if best < 0 || s.tx[i].bpr < s.tx[best].bpr {
			best = i
		}
	}
	if best < 0 {
		return can.Frame{}, false
	}
	b := &s.tx[best]
	b.pending = false
	s.mem[s.lay.TFLG] |= 1 << best
	f := b.frame()
	if s.mem[s.lay.CTL1]&CTL1_LOOPB != 0 {
		s.deliver(f)
	}
	s.kick()
	return f, true
}

// Loopback reports whether the core is in loopback mode.
func (s *Sim) Loopback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem[s.lay.CTL1]&CTL1_LOOPB != 0
}

// SetBusState sets RSTAT/TSTAT (StateOK..StateBusOff) and raises CSCIF.
func (s *Sim) SetBusState(rstat, tstat uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &s.mem[s.lay.RFLG]
	*r = *r&^(RFLG_RSTAT|RFLG_TSTAT) | (rstat&3)<<4 | (tstat&3)<<2 | RFLG_CSCIF
	s.kick()
}

// SetErrorCounters loads the TXER/RXER registers.
func (s *Sim) SetErrorCounters(tx, rx uint8) {
	s.mu.Lock()
	s.mem[s.lay.TXER] = tx
	s.mem[s.lay.RXER] = rx
	s.mu.Unlock()
}

// SetInitStuck makes the core ignore init mode requests (INITAK never follows INITRQ).
func (s *Sim) SetInitStuck(v bool) { s.mu.Lock(); s.initStuck = v; s.mu.Unlock() }

// SetCANEStuck makes the CANE bit of CTL1 read back as zero.
func (s *Sim) SetCANEStuck(v bool) { s.mu.Lock(); s.caneStuck = v; s.mu.Unlock() }

// Launched returns a copy of the most recent transmit buffer launches.
func (s *Sim) Launched() []TxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TxRecord, len(s.launched))
	copy(out, s.launched)
	return out
}

// PendingTx returns the number of launched but not yet completed buffers.
func (s *Sim) PendingTx() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.tx {
		if s.tx[i].pending {
			n++
		}
	}
	return n
}

// Pending reports whether the interrupt line is asserted.
func (s *Sim) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending()
}

func (s *Sim) pending() bool {
	l := &s.lay
	rflg, rier := s.mem[l.RFLG], s.mem[l.RIER]
	if rflg&rier&(RFLG_RXF|RFLG_OVRIF|RFLG_CSCIF|RFLG_WUPIF) != 0 {
		return true
	}
	return s.mem[l.TFLG]&s.mem[l.TIER]&TxBufMask != 0
}

// WaitIRQ blocks until the interrupt line is asserted or ctx is done.
func (s *Sim) WaitIRQ(ctx context.Context) error {
	for {
		if s.Pending() {
			return nil
		}
		select {
		case <-s.irq:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TxReady is signalled when a transmit buffer is launched. A bus bridge
// waits on it and then calls Transmit until nothing is pending.
func (s *Sim) TxReady() <-chan struct{} { return s.txReady }
