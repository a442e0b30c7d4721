package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/ChuLiYu/isp-scheduler/internal/reconciler"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

type finished struct {
	job *Job
	c   types.Completion
}

// HandleInterrupt services one hardware interrupt: it clears the status,
// reconciles the started/done counters against the two slots and returns
// the buffers of finished jobs. It reports false for a spurious interrupt.
func (s *Scheduler) HandleInterrupt() bool {
	s.irqMu.Lock()
	defer s.irqMu.Unlock()

	status := s.regs.Read(hw.RegInterruptStatus)
	if status == 0 {
		s.obs.Interrupt(true)
		return false
	}
	s.regs.Write(hw.RegInterruptStatus, status)
	s.obs.Interrupt(false)

	done, started := hw.DecodeBatchStatus(s.regs.Read(hw.RegBatchStatus))
	counters := reconciler.Counters{Started: reconciler.Counter(started), Done: reconciler.Counter(done)}

	var out []finished
	s.mu.Lock()
	now := s.now()
	res := s.pipe.Reconcile(counters, func(j *Job) {
		g := j.Group
		out = append(out, finished{j, types.Completion{Sequence: g.sequence, Timestamp: now}})
		g.sequence++
	})
	if res.Completed > 0 {
		s.notifyLocked()
	}
	s.mu.Unlock()

	s.log.Debug("interrupt",
		"status", status,
		"hw", counters.String(),
		"was", res.Before.String(),
		"completed", res.Completed,
		"promoted", res.Promoted,
	)
	if res.Resynced {
		s.log.Error("hardware counters out of step, resynchronised",
			"hw", counters.String(), "was", res.Before.String())
		s.obs.CountersResynced()
	}

	for _, f := range out {
		f.job.release(types.StateDone, f.c)
		s.obs.JobCompleted(f.job.Group.id, now.Sub(f.job.AdmittedAt))
	}

	s.TryScheduleAny(res.CanQueue)
	return true
}

// Serve waits for interrupts from src and handles them until ctx is done.
// A cancelled context is a clean exit.
func (s *Scheduler) Serve(ctx context.Context, src hw.InterruptSource) error {
	log := logging.For(s.baseLog, logging.ComponentInterrupt)
	log.Info("interrupt loop started")
	defer log.Info("interrupt loop stopped")

	for {
		if err := src.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("scheduler: wait for interrupt: %w", err)
		}
		s.HandleInterrupt()
		if err := src.Unmask(); err != nil {
			return fmt.Errorf("scheduler: unmask interrupt: %w", err)
		}
	}
}
