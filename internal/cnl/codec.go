// Package cnl implements the cannelloni TCP framing spoken by gateway
// clients.
//
// A frame on the wire is a 4-byte big endian SocketCAN can_id (EFF and RTR
// flags included), one length byte and the payload. Remote frames carry
// their DLC in the length byte but no payload bytes.
package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/metrics"
)

// Codec encodes/decodes cannelloni frames. Stateless and safe for concurrent use.
type Codec struct{}

var (
	// ErrInvalidLength is returned when a frame length (DLC) is outside 0..8.
	ErrInvalidLength = errors.New("cannelloni: invalid length")
	// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
	ErrTruncatedFrame = errors.New("cannelloni: truncated frame")
	// ErrUnsupportedFrame is returned for CAN FD and error frames, which an
	// MSCAN controller cannot transmit.
	ErrUnsupportedFrame = errors.New("cannelloni: unsupported frame")
)

const fdFlag = 0x80

// Encode packs frames into a single buffer.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (4 + 1 + can.MaxLen))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes frames to w and returns the number of bytes written.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	var hdr [5]byte
	for i := range frames {
		f := &frames[i]
		binary.BigEndian.PutUint32(hdr[:4], f.CANID())
		hdr[4] = min(f.Len, can.MaxLen)
		n, err := w.Write(hdr[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("cannelloni encode header: %w", err)
		}
		if f.IsRemote() || hdr[4] == 0 {
			continue
		}
		n, err = w.Write(f.Data[:hdr[4]])
		total += n
		if err != nil {
			return total, fmt.Errorf("cannelloni encode data: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF at a clean frame
// boundary.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		return f, err
	}
	if _, err := io.ReadFull(r, hdr[4:]); err != nil {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode len: %w", ErrTruncatedFrame)
	}
	id := binary.BigEndian.Uint32(hdr[:4])
	ln := hdr[4]
	if ln&fdFlag != 0 || id&can.CAN_ERR_FLAG != 0 {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode: %w (id 0x%08x len 0x%02x)", ErrUnsupportedFrame, id, ln)
	}
	if ln > can.MaxLen {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.SetCANID(id)
	f.Len = ln
	if f.IsRemote() || ln == 0 {
		return f, nil
	}
	if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
		metrics.IncMalformed()
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return f, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
		}
		return f, fmt.Errorf("cannelloni decode payload: %w", err)
	}
	return f, nil
}

// DecodeN decodes up to max frames (max<=0: until error) and hands each to
// onFrame. It returns the number decoded and the terminal error, which is
// io.EOF at a clean end of stream.
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
