// Package dispatcher programs one job into the back end's registers and
// issues the go command.
package dispatcher

import (
	"log/slog"

	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
)

// Program is a sanitized job ready for the hardware.
type Program struct {
	JobID     string // only used for logging
	Addrs     [hw.NumAddresses]uint64
	Enables   [hw.NumEnables]uint32
	Config    *jobconfig.TilesConfig
	TilesAddr uint64
	NumTiles  uint32
}

// Dispatcher writes jobs to a register block. It holds no state of its
// own; callers guarantee only one Dispatch runs at a time.
type Dispatcher struct {
	regs hw.RegisterIO
	log  *slog.Logger
}

// New creates a dispatcher writing to regs.
func New(regs hw.RegisterIO, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		regs: regs,
		log:  logging.For(logger, logging.ComponentDispatcher),
	}
}

// Dispatch programs p and starts it. When an address register fails
// read-back it returns a *ReadbackError and the go command is not sent.
func (d *Dispatcher) Dispatch(p Program) error {
	// The hardware has a one-deep queue. Busy here means the caller's
	// bookkeeping is off, but the write is still accepted.
	if d.regs.Read(hw.RegStatus)&hw.StatusBusy != 0 {
		d.log.Error("queueing job while hardware queue is full", "job", p.JobID)
	}

	for i, addr := range p.Addrs {
		d.regs.Write(hw.AddrRegLo(i), uint32(addr))
		d.regs.Write(hw.AddrRegHi(i), uint32(addr>>32))
	}
	d.regs.Write(hw.RegBayerEnable, p.Enables[0])
	d.regs.Write(hw.RegRGBEnable, p.Enables[1])

	if p.Config != nil {
		for w, v := range p.Config.Window() {
			d.regs.Write(hw.RegConfigBase+4*uint32(jobconfig.WordBayerOrder+w), v)
		}
	}

	if err := d.verify(p.Addrs); err != nil {
		d.log.Error("not starting job", "job", p.JobID, "error", err)
		return err
	}

	d.regs.Write(hw.RegTileAddrLo, uint32(p.TilesAddr))
	d.regs.Write(hw.RegTileAddrHi, uint32(p.TilesAddr>>32))
	d.regs.Write(hw.RegControl, hw.ControlWord(p.NumTiles))

	d.log.Debug("job started",
		"job", p.JobID,
		"tiles", p.NumTiles,
		"bayer_enables", p.Enables[0],
		"rgb_enables", p.Enables[1],
	)
	return nil
}

func (d *Dispatcher) verify(addrs [hw.NumAddresses]uint64) error {
	for i, want := range addrs {
		got := uint64(d.regs.Read(hw.AddrRegLo(i))) |
			uint64(d.regs.Read(hw.AddrRegHi(i)))<<32
		if got != want {
			return &ReadbackError{Slot: i, Want: want, Got: got}
		}
	}
	return nil
}
