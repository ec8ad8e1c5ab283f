//go:build linux

package regs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// UIO is a register window mapped from a Linux UIO device (/dev/uioN). The
// interrupt is re-armed by writing 1 to the device and delivered as a
// 4-byte event counter on read.
type UIO struct {
	fd  int
	mem []byte
}

// OpenUIO maps size bytes of register space of the UIO device at path.
func OpenUIO(path string, size uint32) (*UIO, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &UIO{fd: fd, mem: mem}, nil
}

func (u *UIO) Read8(off uint32) uint8        { return u.mem[off] }
func (u *UIO) Write8(off uint32, v uint8)    { u.mem[off] = v }
func (u *UIO) SetBits(off uint32, m uint8)   { u.mem[off] |= m }
func (u *UIO) ClearBits(off uint32, m uint8) { u.mem[off] &^= m }

// WaitIRQ unmasks the interrupt and blocks until it fires or ctx is done.
func (u *UIO) WaitIRQ(ctx context.Context) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 1)
	if _, err := unix.Write(u.fd, buf[:]); err != nil {
		return fmt.Errorf("uio unmask: %w", err)
	}
	fds := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("uio poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if _, err := unix.Read(u.fd, buf[:]); err != nil {
			return fmt.Errorf("uio read: %w", err)
		}
		return nil
	}
}

func (u *UIO) Close() error {
	err := unix.Munmap(u.mem)
	if cerr := unix.Close(u.fd); err == nil {
		err = cerr
	}
	return err
}
