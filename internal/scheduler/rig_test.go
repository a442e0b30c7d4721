package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/isp-scheduler/internal/format"
	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/hw/sim"
	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/ChuLiYu/isp-scheduler/internal/reconciler"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

type recordingObserver struct {
	mu          sync.Mutex
	dispatched  []int
	completed   []int
	failed      []error
	degenerate  int
	cancelled   int
	resynced    int
	spurious    int
	interrupts  int
	lastLatency time.Duration
}

func (o *recordingObserver) JobDispatched(group int, _ uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched = append(o.dispatched, group)
}

func (o *recordingObserver) JobCompleted(group int, latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, group)
	o.lastLatency = latency
}

func (o *recordingObserver) JobFailed(_ int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

func (o *recordingObserver) DegenerateJob(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degenerate++
}

func (o *recordingObserver) BuffersCancelled(_ int, _ types.NodeID, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled += n
}

func (o *recordingObserver) CountersResynced() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resynced++
}

func (o *recordingObserver) Interrupt(spurious bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if spurious {
		o.spurious++
	} else {
		o.interrupts++
	}
}

func (o *recordingObserver) dispatchOrder() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.dispatched...)
}

// fakeClock advances one millisecond per reading.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type rig struct {
	t     *testing.T
	eng   *sim.Engine
	alloc *sim.Allocator
	s     *Scheduler
	obs   *recordingObserver
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	eng := sim.New(sim.Options{})
	info, err := hw.Init(eng, logging.Discard())
	require.NoError(t, err)

	cfg.Initial = reconciler.Counters{
		Started: reconciler.Counter(info.Started),
		Done:    reconciler.Counter(info.Done),
	}
	obs := &recordingObserver{}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := New(cfg, eng,
		WithLogger(logging.Discard()),
		WithObserver(obs),
		WithClock(clock.Now),
	)
	return &rig{t: t, eng: eng, alloc: sim.NewAllocator(0), s: s, obs: obs}
}

// setFormats negotiates formats on every image node of g.
func (r *rig) setFormats(g *NodeGroup) {
	r.t.Helper()
	raw, _ := format.Lookup("RG16")
	yuv, _ := format.Lookup("YU12")
	for _, n := range types.AllNodes {
		if n.Kind() != types.KindImage {
			continue
		}
		nf := format.NewNodeFormat(raw, 640, 480, 1280)
		if n == types.Output0 || n == types.Output1 {
			nf = format.NewNodeFormat(yuv, 640, 480, 640)
		}
		require.NoError(r.t, g.SetFormat(n, nf))
	}
}

// stream starts the given nodes, or config, input and output0 when none
// are given.
func (r *rig) stream(g *NodeGroup, nodes ...types.NodeID) {
	r.t.Helper()
	if len(nodes) == 0 {
		nodes = []types.NodeID{types.Config, types.MainInput, types.Output0}
	}
	for _, n := range nodes {
		require.NoError(r.t, g.StartStreaming(n))
	}
}

func (r *rig) group(i int) *NodeGroup {
	r.t.Helper()
	g := r.s.Group(i)
	require.NotNil(r.t, g)
	r.setFormats(g)
	return g
}

func testConfig(bayer, rgb uint32) *jobconfig.TilesConfig {
	cfg := &jobconfig.TilesConfig{NumTiles: 4}
	cfg.SetEnables(bayer, rgb)
	cfg.SetOutputFormat(0, jobconfig.ImageFormat{
		Flags: jobconfig.ImageFormatSampling420, Stride: 640, Stride2: 320, Height: 480,
	})
	cfg.SetOutputFormat(1, jobconfig.ImageFormat{
		Flags: jobconfig.ImageFormatSampling420, Stride: 640, Stride2: 320, Height: 480,
	})
	return cfg
}

type frame struct {
	cfg   *sim.ConfigBuffer
	input *sim.Buffer
	out0  *sim.Buffer
}

func (f frame) buffers() []*sim.Buffer {
	return []*sim.Buffer{f.cfg.Buffer, f.input, f.out0}
}

// queueFrame queues input, output0 and finally a config buffer.
func (r *rig) queueFrame(g *NodeGroup) frame {
	r.t.Helper()
	f := frame{
		cfg:   r.alloc.Config(testConfig(jobconfig.BayerEnableInput|jobconfig.BayerEnableDPC, jobconfig.RGBEnableOutput0)),
		input: r.alloc.Alloc(1, 1280*480),
		out0:  r.alloc.Alloc(1, 640*480*3/2),
	}
	require.NoError(r.t, g.Queue(types.MainInput, f.input))
	require.NoError(r.t, g.Queue(types.Output0, f.out0))
	require.NoError(r.t, g.Queue(types.Config, f.cfg))
	return f
}

func (r *rig) irq() {
	r.t.Helper()
	require.True(r.t, r.s.HandleInterrupt(), "expected a pending interrupt")
}

// drain completes jobs in the model one at a time until it is idle. Every
// pending interrupt is serviced before the next completion, so a start is
// never seen together with the done of the same job.
func (r *rig) drain() {
	r.t.Helper()
	for i := 0; ; i++ {
		require.Less(r.t, i, 100)
		r.s.HandleInterrupt()
		if r.eng.Running() == nil {
			return
		}
		r.eng.Complete()
	}
}
