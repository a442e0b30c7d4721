//go:build !linux

package hw

import "context"

// UIO is only available on Linux.
type UIO struct{}

// OpenUIO always fails off Linux.
func OpenUIO(path string, span int) (*UIO, error) {
	return nil, ErrNotSupported
}

func (u *UIO) Read(offset uint32) uint32       { return 0 }
func (u *UIO) Write(offset uint32, val uint32) {}
func (u *UIO) Wait(ctx context.Context) error  { return ErrNotSupported }
func (u *UIO) Unmask() error                   { return ErrNotSupported }
func (u *UIO) InterruptCount() uint32          { return 0 }
func (u *UIO) Close() error                    { return nil }
