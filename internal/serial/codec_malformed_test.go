package serial

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/metrics"
)

// TestDecodeStreamMalformed ensures bad checksums and lengths are counted
// and that decoding resynchronises on the next good frame.
func TestDecodeStreamMalformed(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}
	before := metrics.Snap().Malformed

	bad := rxWire(1, []byte{0xAA})
	bad[len(bad)-1] ^= 0xFF
	buf.Write(bad)
	buf.Write([]byte{0x2D, 0xD4, 0x30}) // length out of range
	buf.Write(rxWire(2, []byte{0xBB}))

	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	if len(got) != 1 || got[0] != can.NewFrame(2, true, 0xBB) {
		t.Fatalf("decoded %v, want the one good frame", got)
	}
	if after := metrics.Snap().Malformed; after < before+2 {
		t.Fatalf("expected two malformed increments, before=%d after=%d", before, after)
	}
}
