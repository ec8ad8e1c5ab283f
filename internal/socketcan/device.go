//go:build linux

// Package socketcan attaches a Linux CAN interface as the bus of the
// simulated MSCAN core.
package socketcan

import (
	"context"
	"fmt"
	"net"

	"go.einride.tech/can/pkg/socketcan"

	"github.com/kstaniek/go-mscan/internal/can"
)

// Device is a raw CAN socket bound to one interface.
type Device struct {
	conn net.Conn
	rx   *socketcan.Receiver
	tx   *socketcan.Transmitter
}

// Open dials the raw CAN socket of iface.
func Open(ctx context.Context, iface string) (*Device, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("dial can@%s: %w", iface, err)
	}
	return newDevice(conn), nil
}

func newDevice(conn net.Conn) *Device {
	return &Device{
		conn: conn,
		rx:   socketcan.NewReceiver(conn),
		tx:   socketcan.NewTransmitter(conn),
	}
}

func (d *Device) Close() error { return d.conn.Close() }

// ReadFrame blocks for the next data frame. Error frames reported by the
// kernel are skipped.
func (d *Device) ReadFrame(fr *can.Frame) error {
	for d.rx.Receive() {
		if d.rx.HasErrorFrame() {
			continue
		}
		*fr = can.FromEinride(d.rx.Frame())
		return nil
	}
	if err := d.rx.Err(); err != nil {
		return err
	}
	return net.ErrClosed
}

// WriteFrame writes one classic CAN frame.
func (d *Device) WriteFrame(fr can.Frame) error {
	return d.tx.TransmitFrame(context.Background(), can.ToEinride(fr))
}
