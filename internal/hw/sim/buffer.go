package sim

import (
	"sync"

	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// Buffer is a fake DMA buffer.
type Buffer struct {
	index int
	addrs []uint64
	size  uint64

	mu         sync.Mutex
	state      types.BufferState
	completion types.Completion
	returned   int
	onDone     func(*Buffer)
}

// Index implements types.Buffer.
func (b *Buffer) Index() int { return b.index }

// NumPlanes implements types.Buffer.
func (b *Buffer) NumPlanes() int { return len(b.addrs) }

// PlaneAddr implements types.Buffer.
func (b *Buffer) PlaneAddr(p int) uint64 {
	if p < 0 || p >= len(b.addrs) {
		return 0
	}
	return b.addrs[p]
}

// Size is the allocation size of each plane.
func (b *Buffer) Size() uint64 { return b.size }

// Done implements types.Buffer.
func (b *Buffer) Done(state types.BufferState, c types.Completion) {
	b.mu.Lock()
	b.state = state
	b.completion = c
	b.returned++
	cb := b.onDone
	b.mu.Unlock()
	if cb != nil {
		cb(b)
	}
}

// OnDone registers a callback run after each completion.
func (b *Buffer) OnDone(fn func(*Buffer)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDone = fn
}

// Returned counts how many times the buffer was handed back.
func (b *Buffer) Returned() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.returned
}

// State is the state of the last completion.
func (b *Buffer) State() types.BufferState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Completion is the stamp of the last completion.
func (b *Buffer) Completion() types.Completion {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completion
}

// ConfigBuffer is a config node buffer: a Buffer plus its decoded
// configuration and the DMA address of its tile table.
type ConfigBuffer struct {
	*Buffer
	cfg *jobconfig.TilesConfig
}

// TilesConfig returns the decoded configuration.
func (c *ConfigBuffer) TilesConfig() *jobconfig.TilesConfig { return c.cfg }

// TilesAddr returns the address of the tile descriptors.
func (c *ConfigBuffer) TilesAddr() uint64 {
	return c.PlaneAddr(0) + jobconfig.HeaderSize
}

// Allocator hands out non-overlapping fake DMA addresses.
type Allocator struct {
	mu    sync.Mutex
	next  uint64
	index int
}

// NewAllocator starts allocating at base.
func NewAllocator(base uint64) *Allocator {
	if base == 0 {
		base = 0x1_0000_0000
	}
	return &Allocator{next: base}
}

const pageSize = 4096

// Alloc returns a buffer with planes separately allocated planes of size
// bytes each.
func (a *Allocator) Alloc(planes int, size uint64) *Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := &Buffer{index: a.index, size: size}
	a.index++
	for p := 0; p < planes; p++ {
		b.addrs = append(b.addrs, a.next)
		a.next += (size + pageSize - 1) &^ (pageSize - 1)
	}
	return b
}

// Config returns a config buffer carrying cfg.
func (a *Allocator) Config(cfg *jobconfig.TilesConfig) *ConfigBuffer {
	return &ConfigBuffer{Buffer: a.Alloc(1, jobconfig.BlobSize), cfg: cfg}
}
