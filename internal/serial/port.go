package serial

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Port is the adapter's tty as the receive loop and TXWriter use it.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the adapter's tty in 8N1. A read returns after readTimeout
// with no data so the receive loop can observe cancellation.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return p, nil
}
