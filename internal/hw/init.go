package hw

import (
	"errors"
	"fmt"
	"log/slog"
)

// Errors
var (
	// ErrUnknownVersion indicates the hardware is absent or not a
	// supported revision.
	ErrUnknownVersion = errors.New("hw: unknown hardware version")
	// ErrHardwareStuck indicates the engine is busy or its counters
	// disagree before any job was queued.
	ErrHardwareStuck = errors.New("hw: hardware is stuck or busy")
	// ErrNotSupported is returned by device access on platforms without UIO.
	ErrNotSupported = errors.New("hw: not supported on this platform")
)

// Info is what Init learned about the hardware.
type Info struct {
	Version uint32
	Done    uint8
	Started uint8
}

// Init checks the hardware is present and idle, clears leftover
// interrupts and enables both interrupt sources. The returned counters
// seed the scheduler's shadow copies.
func Init(regs RegisterIO, logger *slog.Logger) (Info, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var info Info
	info.Version = regs.Read(RegVersion)
	logger.Info("hardware version", "version", fmt.Sprintf("0x%08x", info.Version))
	if info.Version&^VersionMinorMask != Version2712C1 {
		return info, fmt.Errorf("%w: 0x%08x", ErrUnknownVersion, info.Version)
	}

	regs.Write(RegInterruptStatus, clearAllInterrupt)

	batch := regs.Read(RegBatchStatus)
	info.Done, info.Started = DecodeBatchStatus(batch)
	status := regs.Read(RegStatus)
	logger.Info("hardware state",
		"batch_status", fmt.Sprintf("0x%08x", batch),
		"status", fmt.Sprintf("0x%08x", status))
	if status != 0 || info.Done != info.Started {
		return info, fmt.Errorf("%w: status=0x%x started=%d done=%d",
			ErrHardwareStuck, status, info.Started, info.Done)
	}

	// QoS 0, cache 0b0010, prot 0b011, plus sub-64-byte burst bits 22:20.
	regs.Write(RegAXI, axiConfig)
	regs.Write(RegInterruptEnable, InterruptAll)
	return info, nil
}
