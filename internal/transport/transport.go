// Package transport holds the wire contract between the TCP server and its
// frame codec, and a generic asynchronous transmitter used by the bus
// adapters of the simulated core.
package transport

import (
	"io"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/cnl"
)

// Codec decodes client frames one at a time and writes hub frames to a
// client in batches.
type Codec interface {
	Decode(r io.Reader) (can.Frame, error)
	EncodeTo(w io.Writer, frames []can.Frame) (int, error)
}

// BatchDecoder drains up to max frames per call. The server prefers it
// over Decode when the codec provides it.
type BatchDecoder interface {
	DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error)
}

var (
	_ Codec        = (*cnl.Codec)(nil)
	_ BatchDecoder = (*cnl.Codec)(nil)
)
