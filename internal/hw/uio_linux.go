//go:build linux

package hw

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pollIntervalMs bounds how long Wait sleeps before re-checking ctx.
const pollIntervalMs = 100

// UIO is a back end exposed through the Linux userspace I/O framework:
// map 0 of the device is the register block and reading the device node
// blocks until the next interrupt.
type UIO struct {
	f     *os.File
	fd    int
	mem   []byte
	count uint32 // interrupt count reported by the kernel
}

// OpenUIO opens a /dev/uioN node and maps span bytes of registers.
func OpenUIO(path string, span int) (*UIO, error) {
	if span <= 0 {
		span = RegisterSpan
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fd := int(f.Fd())
	mem, err := unix.Mmap(fd, 0, span, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &UIO{f: f, fd: fd, mem: mem}, nil
}

func (u *UIO) reg(offset uint32) *uint32 {
	if offset%4 != 0 || int(offset)+4 > len(u.mem) {
		panic(fmt.Sprintf("hw: register offset 0x%x outside mapping", offset))
	}
	return (*uint32)(unsafe.Pointer(&u.mem[offset]))
}

// Read loads one register.
func (u *UIO) Read(offset uint32) uint32 {
	return atomic.LoadUint32(u.reg(offset))
}

// Write stores one register.
func (u *UIO) Write(offset uint32, val uint32) {
	atomic.StoreUint32(u.reg(offset), val)
}

// Wait blocks until the kernel reports an interrupt or ctx is done.
func (u *UIO) Wait(ctx context.Context) error {
	fds := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, pollIntervalMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}

		var buf [4]byte
		if _, err := unix.Read(u.fd, buf[:]); err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("read interrupt count: %w", err)
		}
		u.count = binary.NativeEndian.Uint32(buf[:])
		return nil
	}
}

// Unmask re-enables the interrupt line in the UIO driver.
func (u *UIO) Unmask() error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 1)
	if _, err := unix.Write(u.fd, buf[:]); err != nil {
		return fmt.Errorf("unmask interrupt: %w", err)
	}
	return nil
}

// InterruptCount is the total number of interrupts the kernel has seen.
func (u *UIO) InterruptCount() uint32 {
	return u.count
}

// Close unmaps the registers and closes the device.
func (u *UIO) Close() error {
	err := unix.Munmap(u.mem)
	if cerr := u.f.Close(); err == nil {
		err = cerr
	}
	return err
}
