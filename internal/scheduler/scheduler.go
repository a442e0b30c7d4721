// ============================================================================
// Scheduler - 共用 ISP back-end 的工作排程器
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 將多個 node group 的緩衝區組成工作，一次一個地送進硬體的
//       兩層佇列（running + queued），並在中斷時對帳完成的工作
//
// 工作流程:
//   1. Queue() 把緩衝區放進該 node 的就緒佇列
//   2. TryScheduleOne/Any 在鎖內組裝工作（peek → commit），設定 busy
//   3. 釋放鎖後消毒 enables、寫入暫存器並送出 go 指令
//   4. HandleInterrupt 讀取 started/done 計數器，完成或提升工作
//   5. 完成的緩衝區在鎖外歸還，接著嘗試排下一個工作
//
// 並發安全:
//   - mu 保護 busy、兩個 slot、影子計數器、串流位元圖與序號
//   - busy 涵蓋釋放鎖之後的派送視窗，保證同時只有一個派送
//   - 緩衝區的 Done 回呼一律在鎖外呼叫，回呼中可以再次 Queue
//
// ============================================================================

package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/isp-scheduler/internal/dispatcher"
	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/ChuLiYu/isp-scheduler/internal/reconciler"
	"github.com/ChuLiYu/isp-scheduler/internal/sanitizer"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// DefaultNodeGroups is the number of independent clients the hardware is
// shared between unless configured otherwise.
const DefaultNodeGroups = 2

// Errors
var (
	ErrInvalidNode      = errors.New("scheduler: invalid node")
	ErrNotConfigBuffer  = errors.New("scheduler: config node needs a config buffer")
	ErrNoFormat         = errors.New("scheduler: no format set on node")
	ErrPlaneCount       = errors.New("scheduler: buffer has too few planes")
	ErrStreaming        = errors.New("scheduler: node is streaming")
	ErrAlreadyStreaming = errors.New("scheduler: node already streaming")
)

// ScanPolicy decides which node group is tried first when the hardware
// frees up.
type ScanPolicy int

const (
	// ScanRoundRobin starts after the group that last got a job in.
	ScanRoundRobin ScanPolicy = iota
	// ScanFixed always starts from group 0.
	ScanFixed
)

func (p ScanPolicy) String() string {
	switch p {
	case ScanRoundRobin:
		return "round_robin"
	case ScanFixed:
		return "fixed"
	}
	return fmt.Sprintf("scan(%d)", int(p))
}

// ParseScanPolicy parses "round_robin" or "fixed".
func ParseScanPolicy(s string) (ScanPolicy, error) {
	switch strings.ToLower(s) {
	case "", "round_robin", "round-robin", "rr":
		return ScanRoundRobin, nil
	case "fixed":
		return ScanFixed, nil
	}
	return 0, fmt.Errorf("scheduler: unknown scan policy %q", s)
}

// Config configures a Scheduler.
type Config struct {
	NodeGroups int
	ScanPolicy ScanPolicy
	// Initial is the hardware's counter state at start-up (see hw.Init).
	Initial reconciler.Counters
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.baseLog = l }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler arbitrates the hardware between node groups.
type Scheduler struct {
	mu     sync.Mutex
	busy   bool // a job is admitted and not yet seen starting
	pipe   reconciler.Pipeline[Job]
	groups []*NodeGroup
	policy ScanPolicy
	next   int           // first group tried by round robin
	change chan struct{} // closed and replaced whenever a slot empties

	irqMu sync.Mutex // serializes HandleInterrupt

	regs    hw.RegisterIO
	disp    *dispatcher.Dispatcher
	obs     Observer
	now     func() time.Time
	baseLog *slog.Logger
	log     *slog.Logger
}

// New creates a scheduler driving regs.
func New(cfg Config, regs hw.RegisterIO, opts ...Option) *Scheduler {
	s := &Scheduler{
		regs:   regs,
		policy: cfg.ScanPolicy,
		obs:    nopObserver{},
		now:    time.Now,
		change: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.For(s.baseLog, logging.ComponentScheduler)
	s.disp = dispatcher.New(regs, s.baseLog)
	s.pipe.Shadow = cfg.Initial

	n := cfg.NodeGroups
	if n <= 0 {
		n = DefaultNodeGroups
	}
	for i := 0; i < n; i++ {
		s.groups = append(s.groups, newNodeGroup(s, i))
	}
	return s
}

// Group returns node group i, or nil.
func (s *Scheduler) Group(i int) *NodeGroup {
	if i < 0 || i >= len(s.groups) {
		return nil
	}
	return s.groups[i]
}

// NumGroups is the number of node groups.
func (s *Scheduler) NumGroups() int { return len(s.groups) }

// TryScheduleOne tries to get a job from g into the hardware. It does
// nothing while another job is waiting to start. It reports whether a job
// was dispatched.
func (s *Scheduler) TryScheduleOne(g *NodeGroup) bool {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return false
	}
	job := s.admitLocked(g)
	if job == nil {
		s.mu.Unlock()
		return false
	}
	s.commitLocked(job)
	s.mu.Unlock()

	s.dispatch(job)
	return true
}

// TryScheduleAny scans the node groups for one that can form a job.
// clearBusy is passed by the interrupt path once the hardware has taken
// the queued job.
func (s *Scheduler) TryScheduleAny(clearBusy bool) bool {
	s.mu.Lock()
	if clearBusy {
		s.busy = false
	}
	if s.busy {
		s.mu.Unlock()
		return false
	}

	n := len(s.groups)
	start := 0
	if s.policy == ScanRoundRobin {
		start = s.next
	}
	for k := 0; k < n; k++ {
		g := s.groups[(start+k)%n]
		job := s.admitLocked(g)
		if job == nil {
			continue
		}
		s.commitLocked(job)
		s.mu.Unlock()

		s.dispatch(job)
		return true
	}
	s.mu.Unlock()
	return false
}

// commitLocked puts an admitted job into the queued slot.
func (s *Scheduler) commitLocked(job *Job) {
	job.ID = uuid.NewString()
	job.AdmittedAt = s.now()
	s.pipe.Queued = job
	s.busy = true
	s.next = (job.Group.id + 1) % len(s.groups)
}

// dispatch runs without the lock; busy keeps everyone else out.
func (s *Scheduler) dispatch(job *Job) {
	g := job.Group
	res := sanitizer.Sanitize(sanitizer.Input{
		Config:  job.Config,
		Buffers: job.Buffers,
		Formats: g,
	})
	if res.MissingInput {
		s.log.Warn("job has no usable main input", "job", job.ID, "group", g.id)
	}

	tiles := job.Config.NumTiles
	if tiles == 0 || tiles > jobconfig.MaxTiles || !res.HasInput() {
		// Survivable for the hardware, unlike a bad tile count.
		s.log.Error("bad job, running it with no tiles",
			"job", job.ID,
			"group", g.id,
			"tiles", job.Config.NumTiles,
			"bayer_enables", res.Bayer(),
			"rgb_enables", res.RGB(),
		)
		s.obs.DegenerateJob(g.id)
		tiles = 0
	}

	err := s.disp.Dispatch(dispatcher.Program{
		JobID:     job.ID,
		Addrs:     res.Addrs,
		Enables:   res.Enables,
		Config:    job.Config,
		TilesAddr: job.TilesAddr,
		NumTiles:  tiles,
	})
	if err != nil {
		s.fail(job, err)
		return
	}
	s.obs.JobDispatched(g.id, tiles)
}

// fail takes a job that never reached the hardware out of the queued slot
// and returns its buffers with an error. The freed slot goes to whichever
// group can fill it next.
func (s *Scheduler) fail(job *Job, err error) {
	s.mu.Lock()
	if s.pipe.Queued == job {
		s.pipe.Queued = nil
	}
	s.busy = false
	s.notifyLocked()
	s.mu.Unlock()

	s.log.Error("job failed", "job", job.ID, "group", job.Group.id, "error", err)
	job.release(types.StateError, types.Completion{Timestamp: s.now()})
	s.obs.JobFailed(job.Group.id, err)

	s.TryScheduleAny(false)
}

// notifyLocked wakes everyone waiting for a slot to change.
func (s *Scheduler) notifyLocked() {
	close(s.change)
	s.change = make(chan struct{})
}

// Teardown returns every buffer the scheduler holds: ready buffers as
// cancelled, buffers of jobs in the slots with an error. The hardware is
// not touched.
func (s *Scheduler) Teardown() {
	type drained struct {
		group int
		node  types.NodeID
		bufs  []types.Buffer
	}
	var ready []drained

	s.mu.Lock()
	for _, g := range s.groups {
		for _, n := range types.AllNodes {
			if bufs := g.trackers[n].Drain(); len(bufs) > 0 {
				ready = append(ready, drained{g.id, n, bufs})
			}
		}
		g.streaming = 0
	}
	jobs := s.pipe.Reset()
	s.busy = false
	s.notifyLocked()
	s.mu.Unlock()

	now := s.now()
	cancelled := 0
	for _, d := range ready {
		for _, b := range d.bufs {
			b.Done(types.StateCancelled, types.Completion{Timestamp: now})
		}
		cancelled += len(d.bufs)
		s.obs.BuffersCancelled(d.group, d.node, len(d.bufs))
	}
	for _, j := range jobs {
		j.release(types.StateError, types.Completion{Timestamp: now})
		s.obs.JobFailed(j.Group.id, errTornDown)
	}
	s.log.Info("scheduler torn down", "cancelled", cancelled, "jobs", len(jobs))
}

var errTornDown = errors.New("scheduler: torn down")
