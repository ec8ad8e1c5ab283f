package can

import (
	ecan "go.einride.tech/can"
)

// ToEinride converts f for use with go.einride.tech/can transports.
func ToEinride(f Frame) ecan.Frame {
	e := ecan.Frame{
		ID:         f.ID,
		Length:     f.Len,
		IsRemote:   f.IsRemote(),
		IsExtended: f.IsExtended(),
	}
	if e.Length > MaxLen {
		e.Length = MaxLen
	}
	copy(e.Data[:], f.Data[:e.Length])
	return e
}

// FromEinride converts a frame received through go.einride.tech/can.
func FromEinride(e ecan.Frame) Frame {
	f := Frame{ID: e.ID, Len: e.Length}
	if e.IsExtended {
		f.Flags |= Extended
	}
	if e.IsRemote {
		f.Flags |= RTR
	}
	if f.Len > MaxLen {
		f.Len = MaxLen
	}
	copy(f.Data[:], e.Data[:f.Len])
	return f
}
