package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/ChuLiYu/isp-scheduler/internal/format"
	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/internal/readyqueue"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// NodeGroup is one client's set of nine nodes.
type NodeGroup struct {
	id       int
	s        *Scheduler
	trackers [types.NumNodes]*readyqueue.Tracker

	fmtMu   sync.RWMutex
	formats [types.NumNodes]*format.NodeFormat

	// Guarded by s.mu.
	streaming uint32
	sequence  uint32
}

func newNodeGroup(s *Scheduler, id int) *NodeGroup {
	g := &NodeGroup{id: id, s: s}
	for i := range g.trackers {
		g.trackers[i] = readyqueue.New()
	}
	return g
}

// ID is the group's index.
func (g *NodeGroup) ID() int { return g.id }

// Format implements jobconfig.FormatLookup.
func (g *NodeGroup) Format(node types.NodeID) *format.NodeFormat {
	if !node.Valid() {
		return nil
	}
	g.fmtMu.RLock()
	defer g.fmtMu.RUnlock()
	return g.formats[node]
}

// SetFormat sets the negotiated format of an image node. It fails while
// the node is streaming.
func (g *NodeGroup) SetFormat(node types.NodeID, nf *format.NodeFormat) error {
	if !node.Valid() || node.Kind() != types.KindImage {
		return fmt.Errorf("%w: %v takes no image format", ErrInvalidNode, node)
	}

	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if g.streaming&node.Bit() != 0 {
		return fmt.Errorf("%w: %v", ErrStreaming, node)
	}

	g.fmtMu.Lock()
	g.formats[node] = nf
	g.fmtMu.Unlock()
	return nil
}

// Queue hands buf to the scheduler on node and tries to form a job for
// this group. Config buffers are checked against the group's formats
// first; a rejected buffer is not kept.
func (g *NodeGroup) Queue(node types.NodeID, buf types.Buffer) error {
	if !node.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidNode, int(node))
	}
	if err := g.prepare(node, buf); err != nil {
		return err
	}

	g.trackers[node].Enqueue(buf)
	g.s.TryScheduleOne(g)
	return nil
}

func (g *NodeGroup) prepare(node types.NodeID, buf types.Buffer) error {
	if node == types.Config {
		cb, ok := buf.(ConfigBuffer)
		if !ok {
			return ErrNotConfigBuffer
		}
		return jobconfig.Validate(cb.TilesConfig(), g)
	}
	if node.Kind() != types.KindImage {
		return nil
	}

	nf := g.Format(node)
	if nf == nil {
		return fmt.Errorf("%w: %v", ErrNoFormat, node)
	}
	if buf.NumPlanes() < nf.NumPlanes() {
		return fmt.Errorf("%w: %v wants %d, got %d", ErrPlaneCount, node, nf.NumPlanes(), buf.NumPlanes())
	}
	return nil
}

// StartStreaming marks node as taking part in jobs. The group's sequence
// restarts when its first node starts.
func (g *NodeGroup) StartStreaming(node types.NodeID) error {
	if !node.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidNode, int(node))
	}

	g.s.mu.Lock()
	if g.streaming&node.Bit() != 0 {
		g.s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrAlreadyStreaming, node)
	}
	if g.streaming == 0 {
		g.sequence = 0
	}
	g.streaming |= node.Bit()
	streaming := g.streaming
	g.s.mu.Unlock()

	g.s.log.Debug("node streaming", "group", g.id, "node", node, "streaming", fmt.Sprintf("%#x", streaming))
	g.s.TryScheduleOne(g)
	return nil
}

// StopStreaming cancels every ready buffer of node, then waits until no
// job in the hardware holds one of its buffers. The node stops streaming
// even when ctx ends first; the context error is returned in that case.
func (g *NodeGroup) StopStreaming(ctx context.Context, node types.NodeID) error {
	if !node.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidNode, int(node))
	}
	s := g.s

	s.mu.Lock()
	drained := g.trackers[node].Drain()
	s.mu.Unlock()

	c := types.Completion{Timestamp: s.now()}
	for _, b := range drained {
		b.Done(types.StateCancelled, c)
	}
	if len(drained) > 0 {
		s.obs.BuffersCancelled(g.id, node, len(drained))
	}

	err := g.waitIdle(ctx, node)

	s.mu.Lock()
	g.streaming &^= node.Bit()
	streaming := g.streaming
	s.mu.Unlock()

	if err != nil {
		s.log.Error("stream stopped with jobs still in hardware", "group", g.id, "node", node, "error", err)
		return fmt.Errorf("scheduler: stop %v: %w", node, err)
	}
	s.log.Debug("node stopped", "group", g.id, "node", node,
		"cancelled", len(drained), "streaming", fmt.Sprintf("%#x", streaming))
	return nil
}

// waitIdle blocks until neither slot holds a job of g using node.
func (g *NodeGroup) waitIdle(ctx context.Context, node types.NodeID) error {
	s := g.s
	for {
		s.mu.Lock()
		inUse := false
		for _, j := range []*Job{s.pipe.Running, s.pipe.Queued} {
			if j != nil && j.Group == g && j.uses(node) {
				inUse = true
			}
		}
		change := s.change
		s.mu.Unlock()

		if !inUse {
			return nil
		}
		select {
		case <-change:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Streaming returns the bitmap of streaming nodes.
func (g *NodeGroup) Streaming() uint32 {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.streaming
}

// Sequence returns the sequence number the next completed job will get.
func (g *NodeGroup) Sequence() uint32 {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.sequence
}

// Ready returns how many buffers wait on node.
func (g *NodeGroup) Ready(node types.NodeID) int {
	if !node.Valid() {
		return 0
	}
	return g.trackers[node].Len()
}
