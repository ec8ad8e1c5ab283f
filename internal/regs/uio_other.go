//go:build !linux

package regs

import (
	"context"
	"errors"
)

// ErrUIOUnsupported is returned by OpenUIO on platforms without UIO.
var ErrUIOUnsupported = errors.New("uio not supported on this platform")

type UIO struct{}

func OpenUIO(path string, size uint32) (*UIO, error) { return nil, ErrUIOUnsupported }

func (u *UIO) Read8(off uint32) uint8            { return 0 }
func (u *UIO) Write8(off uint32, v uint8)        {}
func (u *UIO) SetBits(off uint32, m uint8)       {}
func (u *UIO) ClearBits(off uint32, m uint8)     {}
func (u *UIO) WaitIRQ(ctx context.Context) error { return ErrUIOUnsupported }
func (u *UIO) Close() error                      { return nil }
