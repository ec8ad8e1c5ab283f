package can

import (
	"fmt"
	"strings"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// Flags qualify a frame identifier. Filters reuse the same bits for their
// code flags (expected value) and mask flags (which flags must match).
type Flags uint8

const (
	Extended    Flags = 0x1 // 29-bit identifier
	RTR         Flags = 0x2 // remote transmission request
	UseAccField Flags = 0x4 // mask flags only: apply the individual-ID accept field
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

// Frame is a CAN 2.0 frame as held in message object queues. It is a plain
// value and is copied through the queues.
type Frame struct {
	ID    uint32
	Flags Flags
	Len   uint8
	Data  [MaxLen]byte
}

// NewFrame builds a data frame; payloads longer than 8 bytes are truncated.
func NewFrame(id uint32, ext bool, data ...byte) Frame {
	f := Frame{ID: id}
	if ext {
		f.Flags |= Extended
	}
	f.Len = uint8(copy(f.Data[:], data))
	return f
}

// IsExtended reports whether the frame carries a 29-bit identifier.
func (f Frame) IsExtended() bool { return f.Flags&Extended != 0 }

// IsRemote reports whether the frame is a remote transmission request.
func (f Frame) IsRemote() bool { return f.Flags&RTR != 0 }

// Payload returns the valid data bytes.
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

// CANID packs identifier and flags into a SocketCAN can_id word.
func (f Frame) CANID() uint32 {
	if f.IsExtended() {
		id := f.ID&CAN_EFF_MASK | CAN_EFF_FLAG
		if f.IsRemote() {
			id |= CAN_RTR_FLAG
		}
		return id
	}
	id := f.ID & CAN_SFF_MASK
	if f.IsRemote() {
		id |= CAN_RTR_FLAG
	}
	return id
}

// SetCANID unpacks a SocketCAN can_id word into identifier and flags.
func (f *Frame) SetCANID(canID uint32) {
	f.Flags &^= Extended | RTR
	if canID&CAN_EFF_FLAG != 0 {
		f.Flags |= Extended
		f.ID = canID & CAN_EFF_MASK
	} else {
		f.ID = canID & CAN_SFF_MASK
	}
	if canID&CAN_RTR_FLAG != 0 {
		f.Flags |= RTR
	}
}

func (f Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID=0x%08x", f.ID)
	if f.IsExtended() {
		b.WriteByte('x')
	}
	if f.IsRemote() {
		b.WriteString(" RTR")
	}
	b.WriteString(" data=")
	for i, d := range f.Payload() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", d)
	}
	return b.String()
}
