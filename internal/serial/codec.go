// Package serial attaches an Ampio UART CAN adapter as the bus of the
// simulated MSCAN core. The adapter speaks extended data frames only.
//
// Both directions share one envelope:
//
//	2D D4       preamble
//	LEN         body length + 1
//	BODY        LEN-1 bytes
//	SUM         0x2D + LEN + sum(BODY), mod 256
//
// A sent body is INS(1)=2 | FLAGS(1)=0x80|dlc | ID(4, big endian) | PAYLOAD.
// A received body is ID(4, big endian) | PAYLOAD, with 0..8 payload bytes.
package serial

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/metrics"
)

type Codec struct{}

// ErrUnsupportedFrame is returned by Encode for standard or remote frames.
var ErrUnsupportedFrame = errors.New("serial: adapter carries extended data frames only")

const (
	pre0 = 0x2D
	pre1 = 0xD4

	insSendExt = 2

	minRxLen = 4 + 1
	maxRxLen = 4 + can.MaxLen + 1
)

var preamble = []byte{pre0, pre1}

// CompactBuffer copies the unread bytes of b into a fresh backing array
// once they occupy less than a quarter of a buffer larger than 1 KiB. It
// reports whether it did so.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 || len(data)*4 >= cap(data) {
		return false
	}
	clone := bytes.Clone(data)
	b.Reset()
	_, _ = b.Write(clone)
	return true
}

func checksum(ln byte, body []byte) byte {
	sum := pre0 + ln
	for _, b := range body {
		sum += b
	}
	return sum
}

// envelope wraps body for the wire.
func envelope(body []byte) []byte {
	ln := byte(len(body) + 1)
	out := make([]byte, 0, len(body)+4)
	out = append(out, pre0, pre1, ln)
	out = append(out, body...)
	return append(out, checksum(ln, body))
}

// Encode wraps f in an adapter send command.
func (Codec) Encode(f can.Frame) ([]byte, error) {
	if !f.IsExtended() || f.IsRemote() {
		return nil, ErrUnsupportedFrame
	}
	n := min(f.Len, can.MaxLen)
	body := make([]byte, 6, 6+n)
	body[0] = insSendExt
	body[1] = 0x80 | n
	binary.BigEndian.PutUint32(body[2:6], f.ID&can.CAN_EFF_MASK)
	return envelope(append(body, f.Data[:n]...)), nil
}

type scan int

const (
	scanShort scan = iota // need more bytes
	scanSkip              // drop the returned count and rescan
	scanBad               // malformed envelope at the head, drop one byte
	scanOK
)

// nextEnvelope inspects the head of data. With scanOK it returns the body
// and the size of the whole envelope.
func nextEnvelope(data []byte) (body []byte, n int, st scan) {
	if len(data) < 3 {
		return nil, 0, scanShort
	}
	i := bytes.Index(data, preamble)
	switch {
	case i < 0:
		// The last byte may be the first half of a split preamble.
		return nil, len(data) - 1, scanSkip
	case i > 0:
		return nil, i, scanSkip
	}
	if len(data) < 4 {
		return nil, 0, scanShort
	}
	ln := int(data[2])
	if ln < minRxLen || ln > maxRxLen {
		return nil, 1, scanBad
	}
	n = 3 + ln
	if len(data) < n {
		return nil, 0, scanShort
	}
	body = data[3 : n-1]
	if checksum(data[2], body) != data[n-1] {
		return nil, 1, scanBad
	}
	return body, n, scanOK
}

// DecodeStream consumes complete received frames from in and hands them to
// out. Partial frames stay buffered; garbage and bad checksums are skipped
// byte by byte and counted as malformed.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		body, n, st := nextEnvelope(in.Bytes())
		switch st {
		case scanShort:
			return nil
		case scanSkip:
			in.Next(n)
			continue
		case scanBad:
			metrics.IncMalformed()
			in.Next(n)
			continue
		}
		id := binary.BigEndian.Uint32(body[:4])
		out(can.NewFrame(id&can.CAN_EFF_MASK, true, body[4:]...))
		metrics.IncSerialRx()
		in.Next(n)
	}
}
