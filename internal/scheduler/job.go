package scheduler

import (
	"time"

	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// ConfigBuffer is a buffer queued on the config node. Besides its DMA
// planes it exposes the decoded configuration and the bus address of its
// tile table.
type ConfigBuffer interface {
	types.Buffer
	TilesConfig() *jobconfig.TilesConfig
	TilesAddr() uint64
}

// Job is one set of buffers handed to the hardware together.
type Job struct {
	ID         string
	Group      *NodeGroup
	Buffers    [types.NumNodes]types.Buffer
	Config     *jobconfig.TilesConfig
	TilesAddr  uint64
	AdmittedAt time.Time
}

// uses reports whether the job holds a buffer of node.
func (j *Job) uses(node types.NodeID) bool {
	return j.Buffers[node] != nil
}

func (j *Job) release(state types.BufferState, c types.Completion) {
	for _, b := range j.Buffers {
		if b != nil {
			b.Done(state, c)
		}
	}
}

// optionalNode reports whether node may be left out of a job because the
// configuration does not enable the block it feeds.
func optionalNode(node types.NodeID, bayer, rgb uint32) bool {
	switch node {
	case types.Output0:
		return rgb&jobconfig.RGBEnableOutput0 == 0
	case types.Output1:
		return rgb&jobconfig.RGBEnableOutput1 == 0
	case types.TDNInput:
		return bayer&jobconfig.BayerEnableTDNInput == 0
	case types.TDNOutput:
		return bayer&jobconfig.BayerEnableTDNOutput == 0
	case types.StitchInput:
		return bayer&jobconfig.BayerEnableStitchInput == 0
	case types.StitchOutput:
		return bayer&jobconfig.BayerEnableStitchOutput == 0
	}
	return false
}

// admitLocked forms a job from the fronts of g's ready queues. Nothing is
// taken off a queue unless the whole job can be formed.
func (s *Scheduler) admitLocked(g *NodeGroup) *Job {
	needed := types.Config.Bit() | types.MainInput.Bit()
	if g.streaming&needed != needed {
		return nil
	}

	cb, ok := g.trackers[types.Config].Peek().(ConfigBuffer)
	if !ok {
		return nil
	}
	cfg := cb.TilesConfig()
	bayer, rgb := cfg.BayerEnables(), cfg.RGBEnables()

	var bufs [types.NumNodes]types.Buffer
	for _, n := range types.AllNodes {
		if n == types.Config || g.streaming&n.Bit() == 0 {
			continue
		}
		b := g.trackers[n].Peek()
		if b == nil && !optionalNode(n, bayer, rgb) {
			return nil
		}
		bufs[n] = b
	}

	for n, b := range bufs {
		if b != nil {
			g.trackers[n].TakeFront()
		}
	}
	g.trackers[types.Config].TakeFront()
	bufs[types.Config] = cb

	return &Job{
		Group:     g,
		Buffers:   bufs,
		Config:    cfg,
		TilesAddr: cb.TilesAddr(),
	}
}
