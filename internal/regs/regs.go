// Package regs describes the MSCAN register window and provides the
// backends used to reach it: a memory-mapped UIO device on Linux and a
// simulated core for tests and hardware-less operation.
package regs

import "context"

// Access is byte-granular access to an MSCAN register window.
type Access interface {
	Read8(off uint32) uint8
	Write8(off uint32, v uint8)
	SetBits(off uint32, mask uint8)
	ClearBits(off uint32, mask uint8)
}

// IRQSource blocks until the controller may have raised its interrupt line.
type IRQSource interface {
	WaitIRQ(ctx context.Context) error
}

// Control and flag register bits.
const (
	CTL0_INITRQ = 0x01 // init mode request

	CTL1_INITAK = 0x01 // init mode acknowledge
	CTL1_LOOPB  = 0x20 // loopback mode
	CTL1_CANE   = 0x80 // module enable

	RFLG_RXF   = 0x01 // receive FIFO not empty
	RFLG_OVRIF = 0x02 // receive overrun
	RFLG_TSTAT = 0x0c // transmitter status
	RFLG_RSTAT = 0x30 // receiver status
	RFLG_CSCIF = 0x40 // status change
	RFLG_WUPIF = 0x80 // wake-up

	// RIER_STATE_ALL enables status change interrupts for every rx/tx state change.
	RIER_STATE_ALL = 0x3c

	// IDR1_IDE marks an extended identifier in IDR1.
	IDR1_IDE = 0x08
)

// NumTxBuffers is the number of hardware transmit buffers.
const NumTxBuffers = 3

// TxBufMask covers the TFLG/TIER bits of all transmit buffers.
const TxBufMask = 0x07

// Layout holds the register offsets of one MSCAN integration.
type Layout struct {
	Name string
	Size uint32

	CTL0, CTL1 uint32
	BTR0, BTR1 uint32
	RFLG, RIER uint32
	TFLG, TIER uint32
	TARQ, TAAK uint32
	BSEL, IDAC uint32
	RXER, TXER uint32

	IDAR [8]uint32
	IDMR [8]uint32

	RXIDR [4]uint32
	RXDSR [8]uint32
	RXDLR uint32

	TXIDR [4]uint32
	TXDSR [8]uint32
	TXDLR uint32
	TXBPR uint32

	// CountersOnline reports whether RXER/TXER may be read while the
	// controller is online.
	CountersOnline bool
}

// Z15 is the FPGA core with registers on a 4-byte stride.
var Z15 = func() Layout {
	l := Layout{
		Name: "z15", Size: 0x100,
		CTL0: 0x00, CTL1: 0x04, BTR0: 0x08, BTR1: 0x0c,
		RFLG: 0x10, RIER: 0x14, TFLG: 0x18, TIER: 0x1c,
		TARQ: 0x20, TAAK: 0x24, BSEL: 0x28, IDAC: 0x2c,
		RXER: 0x38, TXER: 0x3c,
		RXDLR: 0xb0, TXDLR: 0xf0, TXBPR: 0xf4,
		CountersOnline: true,
	}
	for i := uint32(0); i < 8; i++ {
		l.IDAR[i] = 0x40 + 4*i
		l.IDMR[i] = 0x60 + 4*i
		l.RXDSR[i] = 0x90 + 4*i
		l.TXDSR[i] = 0xd0 + 4*i
	}
	for i := uint32(0); i < 4; i++ {
		l.RXIDR[i] = 0x80 + 4*i
		l.TXIDR[i] = 0xc0 + 4*i
	}
	return l
}()

// Odin is the MGT5x00 integration: pairs of bytes on a 4-byte stride.
var Odin = Layout{
	Name: "odin", Size: 0x80,
	CTL0: 0x00, CTL1: 0x01, BTR0: 0x04, BTR1: 0x05,
	RFLG: 0x08, RIER: 0x09, TFLG: 0x0c, TIER: 0x0d,
	TARQ: 0x10, TAAK: 0x11, BSEL: 0x14, IDAC: 0x15,
	RXER: 0x1c, TXER: 0x1d,
	IDAR:  [8]uint32{0x20, 0x21, 0x24, 0x25, 0x30, 0x31, 0x34, 0x35},
	IDMR:  [8]uint32{0x28, 0x29, 0x2c, 0x2d, 0x38, 0x39, 0x3c, 0x3d},
	RXIDR: [4]uint32{0x40, 0x41, 0x44, 0x45},
	RXDSR: [8]uint32{0x48, 0x49, 0x4c, 0x4d, 0x50, 0x51, 0x54, 0x55},
	RXDLR: 0x58,
	TXIDR: [4]uint32{0x60, 0x61, 0x64, 0x65},
	TXDSR: [8]uint32{0x68, 0x69, 0x6c, 0x6d, 0x70, 0x71, 0x74, 0x75},
	TXDLR: 0x78,
	TXBPR: 0x79,
}

// LayoutByName resolves "z15" or "odin".
func LayoutByName(name string) (Layout, bool) {
	switch name {
	case Z15.Name:
		return Z15, true
	case Odin.Name:
		return Odin, true
	}
	return Layout{}, false
}
