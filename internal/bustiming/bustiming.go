// Package bustiming converts CAN bitrates into MSCAN bus timing register
// values.
package bustiming

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-mscan/internal/logging"
)

var (
	ErrBadSpeed         = errors.New("bitrate not supported")
	ErrBadTimingDetails = errors.New("illegal timing details")
)

// Timing holds the bus timing parameters in time quanta.
type Timing struct {
	BRP   uint8 // prescaler 1..64
	SJW   uint8 // sync jump width 1..4
	TSeg1 uint8 // 1..16
	TSeg2 uint8 // 1..8
	SPL   bool  // three samples per bit
}

// Validate checks the register ranges.
func (t Timing) Validate() error {
	switch {
	case t.BRP < 1 || t.BRP > 64:
		return fmt.Errorf("%w: brp %d", ErrBadTimingDetails, t.BRP)
	case t.SJW < 1 || t.SJW > 4:
		return fmt.Errorf("%w: sjw %d", ErrBadTimingDetails, t.SJW)
	case t.TSeg1 < 1 || t.TSeg1 > 16:
		return fmt.Errorf("%w: tseg1 %d", ErrBadTimingDetails, t.TSeg1)
	case t.TSeg2 < 1 || t.TSeg2 > 8:
		return fmt.Errorf("%w: tseg2 %d", ErrBadTimingDetails, t.TSeg2)
	}
	return nil
}

// Registers packs t into BTR0 and BTR1. t must be valid.
func (t Timing) Registers() (btr0, btr1 uint8) {
	btr0 = (t.SJW-1)<<6 | (t.BRP - 1)
	btr1 = (t.TSeg2-1)<<4 | (t.TSeg1 - 1)
	if t.SPL {
		btr1 |= 0x80
	}
	return btr0, btr1
}

// Bitrate reports the bit rate t produces at clock.
func (t Timing) Bitrate(clock uint32) uint32 {
	tq := uint32(t.BRP) * (1 + uint32(t.TSeg1) + uint32(t.TSeg2))
	if tq == 0 {
		return 0
	}
	return clock / tq
}

// SamplePoint reports the sampling point in per mille of the bit time.
func (t Timing) SamplePoint() uint32 {
	return 1000 * (1 + uint32(t.TSeg1)) / (1 + uint32(t.TSeg1) + uint32(t.TSeg2))
}

func (t Timing) String() string {
	return fmt.Sprintf("brp=%d sjw=%d tseg1=%d tseg2=%d spl=%t", t.BRP, t.SJW, t.TSeg1, t.TSeg2, t.SPL)
}

// Code selects one of the standard bitrates.
type Code uint8

const (
	Rate1M Code = iota
	Rate800k
	Rate500k
	Rate250k
	Rate125k
	Rate100k
	Rate50k
	Rate20k
	Rate10k
	numCodes
)

// Clocks with exact lookup tables.
const (
	Clock32MHz = 32000000
	Clock16MHz = 16000000
)

// DefaultMinBRP is the smallest prescaler used by Search unless configured
// otherwise. Some cores misbehave with a prescaler of 1.
const DefaultMinBRP = 2

var rates = [numCodes]uint32{1000000, 800000, 500000, 250000, 125000, 100000, 50000, 20000, 10000}

// Bitrate returns the rate in bit/s selected by c.
func (c Code) Bitrate() (uint32, bool) {
	if c >= numCodes {
		return 0, false
	}
	return rates[c], true
}

// CodeFor returns the code selecting bitrate, if any.
func CodeFor(bitrate uint32) (Code, bool) {
	for c, r := range rates {
		if r == bitrate {
			return Code(c), true
		}
	}
	return 0, false
}

func (c Code) String() string {
	r, ok := c.Bitrate()
	if !ok {
		return fmt.Sprintf("code(%d)", uint8(c))
	}
	if r >= 1000000 {
		return fmt.Sprintf("%dM", r/1000000)
	}
	return fmt.Sprintf("%dk", r/1000)
}

// unsupported marks a table slot the clock cannot reach.
var unsupported = Timing{}

var table32MHz = [numCodes]Timing{
	{BRP: 4, SJW: 1, TSeg1: 5, TSeg2: 2},
	{BRP: 4, SJW: 1, TSeg1: 7, TSeg2: 2},
	{BRP: 4, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 8, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 16, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 20, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 40, SJW: 1, TSeg1: 13, TSeg2: 2},
	unsupported, // prescaler out of range
	unsupported,
}

var table16MHz = [numCodes]Timing{
	{BRP: 2, SJW: 1, TSeg1: 5, TSeg2: 2},
	{BRP: 2, SJW: 1, TSeg1: 7, TSeg2: 2},
	{BRP: 2, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 4, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 8, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 10, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 20, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 50, SJW: 1, TSeg1: 13, TSeg2: 2},
	{BRP: 64, SJW: 1, TSeg1: 13, TSeg2: 3},
}

// Search finds the prescaler and total segment length (tseg1+tseg2+sync,
// 6..19 quanta) giving the rate closest to bitrate. It stops at the first
// exact match; among equal distances the last candidate wins.
func Search(bitrate, clock, minBRP uint32) (brp, tseg, rate uint32) {
	if minBRP == 0 {
		minBRP = 1
	}
	bestDiff := clock / 16
	for b := minBRP; b <= 64; b++ {
		for ts := uint32(6); ts <= 19; ts++ {
			r := clock / (b * ts)
			diff := absDiff(bitrate, r)
			if diff <= bestDiff {
				brp, tseg, rate, bestDiff = b, ts, r, diff
			}
			if diff == 0 {
				return brp, tseg, rate
			}
		}
	}
	return brp, tseg, rate
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// withinGate reports whether rate is within 0.1% of target.
func withinGate(rate, target uint32) bool {
	r, t := uint64(rate)*1000, uint64(target)
	return r >= 999*t && r <= 1001*t
}

// Split divides tseg quanta (including sync) between tseg1 and tseg2 with the
// CiA DS102 sampling points: 75% at 1 Mbit/s, 80% at 800 kbit/s, else 87.5%.
func Split(bitrate, tseg uint32) (tseg1, tseg2 uint8) {
	var t1 uint32
	switch bitrate {
	case 1000000:
		t1 = tseg * 75 / 100
	case 800000:
		t1 = tseg * 80 / 100
	default:
		t1 = tseg * 875 / 1000
	}
	return uint8(t1 - 1), uint8(tseg - t1)
}

// Compute derives a timing for bitrate at clock. Rates with a code use the
// fixed table of a 32 MHz or 16 MHz clock; everything else goes through
// Search and must be within 0.1% of bitrate, otherwise ErrBadSpeed is
// returned.
func Compute(bitrate, clock, minBRP uint32, spl bool) (Timing, error) {
	if bitrate == 0 || clock == 0 {
		return Timing{}, ErrBadSpeed
	}
	if c, ok := CodeFor(bitrate); ok {
		if t, ok := tableEntry(c, clock); ok {
			t.SPL = spl
			return t, nil
		}
	}
	return search(bitrate, clock, minBRP, spl)
}

func search(bitrate, clock, minBRP uint32, spl bool) (Timing, error) {
	brp, tseg, rate := Search(bitrate, clock, minBRP)
	if brp == 0 || !withinGate(rate, bitrate) {
		if minBRP > 1 {
			reportPrescalerOne(bitrate, clock, rate)
		}
		return Timing{}, fmt.Errorf("%w: %d bit/s at %d Hz (best %d)", ErrBadSpeed, bitrate, clock, rate)
	}
	t1, t2 := Split(bitrate, tseg)
	t := Timing{BRP: uint8(brp), SJW: 1, TSeg1: t1, TSeg2: t2, SPL: spl}
	if err := t.Validate(); err != nil {
		return Timing{}, err
	}
	return t, nil
}

// reportPrescalerOne logs when a prescaler of 1 would have come closer to
// the requested rate than the configured minimum allows.
func reportPrescalerOne(bitrate, clock, best uint32) {
	origDiff := absDiff(best, bitrate)
	bestDiff, bestRate := origDiff, best
	for ts := uint32(6); ts <= 19; ts++ {
		r := clock / ts
		if d := absDiff(bitrate, r); d < bestDiff {
			bestDiff, bestRate = d, r
		}
	}
	if bestDiff >= origDiff {
		return
	}
	logging.For("bustiming").Warn("brp1_closer",
		"bitrate", bitrate,
		"clock", clock,
		"rate_brp1", bestRate,
		"sufficient", withinGate(bestRate, bitrate),
	)
}

// ForCode returns the timing for a bitrate code. 32 MHz and 16 MHz clocks
// use fixed tables, other clocks are searched.
func ForCode(c Code, clock, minBRP uint32, spl bool) (Timing, error) {
	bitrate, ok := c.Bitrate()
	if !ok {
		return Timing{}, fmt.Errorf("%w: code %d", ErrBadSpeed, uint8(c))
	}
	if clock != Clock32MHz && clock != Clock16MHz {
		return search(bitrate, clock, minBRP, spl)
	}
	t, ok := tableEntry(c, clock)
	if !ok {
		return Timing{}, fmt.Errorf("%w: %s at %d Hz", ErrBadSpeed, c, clock)
	}
	t.SPL = spl
	return t, nil
}

// tableEntry looks c up in the table of clock. It fails for clocks without
// a table and for unsupported slots.
func tableEntry(c Code, clock uint32) (Timing, bool) {
	var t Timing
	switch clock {
	case Clock32MHz:
		t = table32MHz[c]
	case Clock16MHz:
		t = table16MHz[c]
	}
	return t, t != unsupported
}
