// Package sim is a software model of the back end. It implements the
// register and interrupt interfaces of package hw so the scheduler can be
// exercised without hardware.
package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
)

// Interrupt status bits raised by the model.
const (
	IRQJobStarted uint32 = 1 << 0
	IRQJobDone    uint32 = 1 << 1
)

// Program is a job as the engine latched it on the go command.
type Program struct {
	Addrs     [hw.NumAddresses]uint64
	Enables   [hw.NumEnables]uint32
	TilesAddr uint64
	Tiles     uint32
}

// Options configures a new Engine.
type Options struct {
	Version   uint32 // defaults to hw.Version2712C1 | 1
	StuckBusy bool   // status reads busy forever
	Done      uint8  // initial counters
	Started   uint8
	Logger    *slog.Logger
}

// Engine models the two-deep job pipeline: one running job and one
// queued job waiting to start.
type Engine struct {
	mu        sync.Mutex
	opts      Options
	regs      map[uint32]uint32
	running   *Program
	queued    *Program
	done      uint8
	started   uint8
	irqStatus uint32
	irq       chan struct{}
	history   []Program
	faults    map[int]uint64
	overruns  int
	log       *slog.Logger
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Version == 0 {
		opts.Version = hw.Version2712C1 | 1
	}
	return &Engine{
		opts:    opts,
		regs:    make(map[uint32]uint32),
		done:    opts.Done,
		started: opts.Started,
		irq:     make(chan struct{}, 1),
		faults:  make(map[int]uint64),
		log:     logging.For(opts.Logger, logging.ComponentSim),
	}
}

// Read implements hw.RegisterIO.
func (e *Engine) Read(offset uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch offset {
	case hw.RegVersion:
		return e.opts.Version
	case hw.RegStatus:
		if e.queued != nil || e.opts.StuckBusy {
			return hw.StatusBusy
		}
		return 0
	case hw.RegBatchStatus:
		return hw.EncodeBatchStatus(e.done, e.started)
	case hw.RegInterruptStatus:
		return e.irqStatus
	}

	for slot, v := range e.faults {
		switch offset {
		case hw.AddrRegLo(slot):
			return uint32(v)
		case hw.AddrRegHi(slot):
			return uint32(v >> 32)
		}
	}
	return e.regs[offset]
}

// Write implements hw.RegisterIO.
func (e *Engine) Write(offset uint32, val uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch offset {
	case hw.RegInterruptStatus:
		e.irqStatus &^= val
		return
	case hw.RegControl:
		e.regs[offset] = val
		if val&hw.ControlGo == hw.ControlGo {
			e.latchLocked(val >> hw.ControlTileShift)
		}
		return
	}
	e.regs[offset] = val
}

func (e *Engine) latchLocked(tiles uint32) {
	p := Program{
		TilesAddr: uint64(e.regs[hw.RegTileAddrLo]) | uint64(e.regs[hw.RegTileAddrHi])<<32,
		Tiles:     tiles,
	}
	for i := 0; i < hw.NumAddresses; i++ {
		p.Addrs[i] = uint64(e.regs[hw.AddrRegLo(i)]) | uint64(e.regs[hw.AddrRegHi(i)])<<32
	}
	p.Enables[0] = e.regs[hw.RegBayerEnable]
	p.Enables[1] = e.regs[hw.RegRGBEnable]
	e.history = append(e.history, p)

	switch {
	case e.running == nil:
		e.running = &p
		e.started++
		e.raiseLocked(IRQJobStarted)
	case e.queued == nil:
		e.queued = &p
	default:
		e.overruns++
		e.log.Error("job queued while hardware queue full", "tiles", tiles)
	}
}

func (e *Engine) raiseLocked(bits uint32) {
	e.irqStatus |= bits
	if e.regs[hw.RegInterruptEnable]&bits == 0 {
		return
	}
	select {
	case e.irq <- struct{}{}:
	default:
	}
}

// Complete finishes the running job, starting the queued one if any.
// It reports whether a job was running.
func (e *Engine) Complete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running == nil {
		return false
	}
	e.done++
	e.running = nil
	bits := IRQJobDone
	if e.queued != nil {
		e.running = e.queued
		e.queued = nil
		e.started++
		bits |= IRQJobStarted
	}
	e.raiseLocked(bits)
	return true
}

// Wait implements hw.InterruptSource. Interrupts raised while nobody is
// waiting coalesce into one.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.irq:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unmask implements hw.InterruptSource.
func (e *Engine) Unmask() error {
	return nil
}

// Run completes the running job every jobTime until ctx is done. A job
// whose start interrupt is still pending is left running for another tick.
func (e *Engine) Run(ctx context.Context, jobTime time.Duration) {
	ticker := time.NewTicker(jobTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.CompleteAcked()
		}
	}
}

// CompleteAcked is Complete, except that it does nothing while a start
// interrupt has not been acknowledged.
func (e *Engine) CompleteAcked() bool {
	e.mu.Lock()
	pending := e.irqStatus&IRQJobStarted != 0
	e.mu.Unlock()
	if pending {
		return false
	}
	return e.Complete()
}

// FaultAddress makes reads of address slot return value instead of what
// was written.
func (e *Engine) FaultAddress(slot int, value uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[slot] = value
}

// ClearFaults removes every injected fault.
func (e *Engine) ClearFaults() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = make(map[int]uint64)
}

// SetCounters overwrites the hardware counters, for desync scenarios.
func (e *Engine) SetCounters(done, started uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done, e.started = done, started
}

// Counters returns the hardware done and started counters.
func (e *Engine) Counters() (done, started uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done, e.started
}

// Running returns the job executing in the model, if any.
func (e *Engine) Running() *Program {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Queued returns the job waiting to start, if any.
func (e *Engine) Queued() *Program {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queued
}

// History returns every job latched so far, in order.
func (e *Engine) History() []Program {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Program, len(e.history))
	copy(out, e.history)
	return out
}

// Overruns counts go commands issued while both slots were full.
func (e *Engine) Overruns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overruns
}

// Reg returns the raw value last written to offset.
func (e *Engine) Reg(offset uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs[offset]
}
