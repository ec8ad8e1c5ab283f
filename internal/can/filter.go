package can

import "fmt"

// AccFieldSize is the size in bytes of an individual-ID accept field: one
// bit for each of the 2048 standard identifiers.
const AccFieldSize = 256

// AccField is a per-ID accept bitmap for standard identifiers. Bit
// 0x80>>(id&7) of byte id>>3 accepts id.
type AccField [AccFieldSize]byte

// Set accepts id.
func (a *AccField) Set(id uint32) { a[(id>>3)&0xff] |= 0x80 >> (id & 7) }

// Clear rejects id.
func (a *AccField) Clear(id uint32) { a[(id>>3)&0xff] &^= 0x80 >> (id & 7) }

// Get reports whether id is accepted.
func (a *AccField) Get(id uint32) bool {
	return a[(id>>3)&0xff]&(0x80>>(id&7)) != 0
}

// SetRange accepts every identifier in [from, to].
func (a *AccField) SetRange(from, to uint32) {
	for id := from; id <= to && id <= CAN_SFF_MASK; id++ {
		a.Set(id)
	}
}

// Filter is a message object acceptance filter.
//
// Mask bits set to 1 are ignored, bits set to 0 are compared against Code.
// CFlags carries the expected Extended/RTR state; MFlags selects whether the
// RTR state has to match and whether AccField is consulted.
type Filter struct {
	Code     uint32
	Mask     uint32
	CFlags   Flags
	MFlags   Flags
	AccField AccField
}

// AcceptAll returns a filter passing every standard frame.
func AcceptAll() Filter { return Filter{Mask: 0xffffffff} }

// AcceptAllExtended returns a filter passing every extended frame.
func AcceptAllExtended() Filter { return Filter{Mask: 0xffffffff, CFlags: Extended} }

// Valid reports whether the filter may be installed on a message object.
// The accept field only covers standard identifiers.
func (f *Filter) Valid() bool {
	return !(f.MFlags&UseAccField != 0 && f.CFlags&Extended != 0)
}

// Match applies the software filter to fr. All checks must pass.
func (f *Filter) Match(fr *Frame) bool {
	if fr.Flags&Extended != f.CFlags&Extended {
		return false
	}
	if f.MFlags&RTR != 0 && f.CFlags&RTR != fr.Flags&RTR {
		return false
	}
	if f.Code&^f.Mask != fr.ID&^f.Mask {
		return false
	}
	if f.MFlags&UseAccField != 0 && !f.AccField.Get(fr.ID) {
		return false
	}
	return true
}

func (f Filter) String() string {
	x, crtr, mrtr := "", "", ""
	if f.CFlags&Extended != 0 {
		x = "x"
	}
	if f.CFlags&RTR != 0 {
		crtr = " RTR"
	}
	if f.MFlags&RTR != 0 {
		mrtr = " RTR"
	}
	return fmt.Sprintf("code=%08x%s%s mask=%08x%s", f.Code, x, crtr, f.Mask, mrtr)
}
