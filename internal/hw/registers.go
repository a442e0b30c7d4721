// Package hw describes the back end's register interface and provides
// access to a real device through Linux UIO.
package hw

import "context"

// Register offsets. These are fixed by the hardware.
const (
	RegVersion         uint32 = 0x00
	RegControl         uint32 = 0x04
	RegTileAddrLo      uint32 = 0x08
	RegTileAddrHi      uint32 = 0x0c
	RegStatus          uint32 = 0x10
	RegBatchStatus     uint32 = 0x14
	RegInterruptEnable uint32 = 0x18
	RegInterruptStatus uint32 = 0x1c
	RegAXI             uint32 = 0x20
	RegConfigBase      uint32 = 0x40
	RegInputAddr0Lo           = RegConfigBase
	RegBayerEnable            = RegConfigBase + 0x70
	RegRGBEnable              = RegConfigBase + 0x74
)

// RegisterSpan is the size of the register block to map.
const RegisterSpan = 0x1000

// Address slots in the contiguous block at RegInputAddr0Lo.
const (
	AddrMainInput    = 0 // 3 planes
	AddrTDNInput     = 3
	AddrStitchInput  = 4
	AddrTDNOutput    = 5
	AddrStitchOutput = 6
	AddrOutput0      = 7 // 3 planes per output channel
	AddrHOGOutput    = 13
	NumAddresses     = 14
)

// NumEnables is the number of global enable registers (bayer, rgb).
const NumEnables = 2

// Status and control bits.
const (
	StatusBusy       uint32 = 1 << 0
	ControlGo        uint32 = 0x3
	ControlTileShift        = 16
	InterruptAll     uint32 = 0x3
)

// Version identification.
const (
	Version2712C1     uint32 = 0x02252700
	VersionMinorMask  uint32 = 0xF
	axiConfig         uint32 = 0x32703200
	clearAllInterrupt uint32 = 0xFFFFFFFF
)

// AddrRegLo returns the offset of the low half of address slot i.
func AddrRegLo(i int) uint32 {
	return RegInputAddr0Lo + 8*uint32(i)
}

// AddrRegHi returns the offset of the high half of address slot i.
func AddrRegHi(i int) uint32 {
	return AddrRegLo(i) + 4
}

// ControlWord encodes the go command together with the tile count.
func ControlWord(tiles uint32) uint32 {
	return ControlGo | tiles<<ControlTileShift
}

// DecodeBatchStatus splits the batch status register into the done and
// started counters (byte 0 and byte 1).
func DecodeBatchStatus(v uint32) (done, started uint8) {
	return uint8(v & 0xFF), uint8((v >> 8) & 0xFF)
}

// EncodeBatchStatus is the inverse of DecodeBatchStatus.
func EncodeBatchStatus(done, started uint8) uint32 {
	return uint32(done) | uint32(started)<<8
}

// RegisterIO is raw 32-bit register access. Accesses are assumed to be
// strongly ordered with respect to each other.
type RegisterIO interface {
	Read(offset uint32) uint32
	Write(offset uint32, val uint32)
}

// InterruptSource delivers the device's level interrupt.
//
// Wait blocks until an interrupt is pending or ctx is done. Unmask
// re-enables delivery once the status register has been cleared.
type InterruptSource interface {
	Wait(ctx context.Context) error
	Unmask() error
}
