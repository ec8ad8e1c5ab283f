package regs

// Identifier register packing. IDR0..IDR3 of the receive/transmit buffers
// and the acceptance registers share this layout:
//
//	standard: IDR0 = ID[10:3]  IDR1 = ID[2:0] RTR IDE=0 ---
//	extended: IDR0 = ID[28:21] IDR1 = ID[20:18] SRR=1 IDE=1 ID[17:15]
//	          IDR2 = ID[14:7]  IDR3 = ID[6:0] RTR

// EncodeStdID packs an 11-bit identifier into IDR0/IDR1.
func EncodeStdID(id uint32, rtr bool) [2]uint8 {
	r := [2]uint8{uint8(id >> 3), uint8(id << 5)}
	if rtr {
		r[1] |= 0x10
	}
	return r
}

// EncodeExtID packs a 29-bit identifier into IDR0..IDR3 with SRR and IDE set.
func EncodeExtID(id uint32, rtr bool) [4]uint8 {
	r := [4]uint8{
		uint8(id >> 21),
		uint8((id>>13)&0xe0) | 0x18 | uint8((id>>15)&0x07),
		uint8(id >> 7),
		uint8(id << 1),
	}
	if rtr {
		r[3] |= 0x01
	}
	return r
}

// IsExtended reports whether IDR1 carries an extended identifier.
func IsExtended(idr1 uint8) bool { return idr1&IDR1_IDE != 0 }

// DecodeStdID reverses EncodeStdID.
func DecodeStdID(idr0, idr1 uint8) (id uint32, rtr bool) {
	id = uint32(idr0)<<3 | uint32(idr1)>>5
	return id, idr1&0x10 != 0
}

// DecodeExtID reverses EncodeExtID.
func DecodeExtID(idr [4]uint8) (id uint32, rtr bool) {
	id = uint32(idr[0]) << 21
	id |= uint32(idr[1]&0x07) << 15
	id |= uint32(idr[1]&0xe0) << 13
	id |= uint32(idr[2]) << 7
	id |= uint32(idr[3]) >> 1
	return id, idr[3]&0x01 != 0
}

// EncodeStdMask packs an acceptance mask for a standard-ID filter. Mask
// bits set to 1 are don't-care. IDE is always compared; the RTR bit is
// compared only when rtr is true. IDR2/IDR3 are fully don't-care.
func EncodeStdMask(mask uint32, rtr bool) [4]uint8 {
	r := [4]uint8{uint8(mask >> 3), uint8(mask<<5) | 0x07, 0xff, 0xff}
	if !rtr {
		r[1] |= 0x10
	}
	return r
}

// EncodeExtMask packs an acceptance mask for an extended-ID filter. SRR and
// IDE are always compared; RTR only when rtr is true.
func EncodeExtMask(mask uint32, rtr bool) [4]uint8 {
	r := [4]uint8{
		uint8(mask >> 21),
		uint8((mask>>13)&0xe0) | uint8((mask>>15)&0x07),
		uint8(mask >> 7),
		uint8(mask << 1),
	}
	if !rtr {
		r[3] |= 0x01
	}
	return r
}
