package scheduler

import (
	"time"

	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// Observer receives scheduling events. Calls are made without the
// scheduler lock held and must not block.
type Observer interface {
	JobDispatched(group int, tiles uint32)
	JobCompleted(group int, latency time.Duration)
	JobFailed(group int, err error)
	DegenerateJob(group int)
	BuffersCancelled(group int, node types.NodeID, n int)
	CountersResynced()
	Interrupt(spurious bool)
}

type nopObserver struct{}

func (nopObserver) JobDispatched(int, uint32)               {}
func (nopObserver) JobCompleted(int, time.Duration)         {}
func (nopObserver) JobFailed(int, error)                    {}
func (nopObserver) DegenerateJob(int)                       {}
func (nopObserver) BuffersCancelled(int, types.NodeID, int) {}
func (nopObserver) CountersResynced()                       {}
func (nopObserver) Interrupt(bool)                          {}
