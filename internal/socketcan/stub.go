//go:build !linux

package socketcan

import (
	"context"
	"errors"

	"github.com/kstaniek/go-mscan/internal/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan unsupported on this platform")

type Device struct{}

func Open(ctx context.Context, iface string) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) Close() error                  { return nil }
func (d *Device) ReadFrame(fr *can.Frame) error { return ErrUnsupported }
func (d *Device) WriteFrame(fr can.Frame) error { return ErrUnsupported }
