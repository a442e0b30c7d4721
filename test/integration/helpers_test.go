// ============================================================================
// pispbe Integration Test Suite
// ============================================================================
//
// Package: test/integration
// File: helpers_test.go
// Functionality: 以軟體模型驅動完整堆疊 (hw.Init → scheduler → metrics →
// HTTP) 的端到端測試
//
// Test Objectives:
//   1. 驗證多個 node group 的畫面全部完成且硬體佇列從未溢出
//   2. 驗證 8-bit 計數器跨越回繞時的對帳
//   3. 驗證拆除後所有緩衝區都被歸還，硬體排空後可重新初始化
//
// ============================================================================

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/hw/sim"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/ChuLiYu/isp-scheduler/internal/metrics"
	"github.com/ChuLiYu/isp-scheduler/internal/reconciler"
	"github.com/ChuLiYu/isp-scheduler/internal/scheduler"
	"github.com/ChuLiYu/isp-scheduler/internal/workload"
)

// stack is a scheduler on simulated hardware with metrics attached.
type stack struct {
	eng    *sim.Engine
	s      *scheduler.Scheduler
	reg    *prometheus.Registry
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStack(t testing.TB, eng *sim.Engine, cfg scheduler.Config, jobTime time.Duration) *stack {
	t.Helper()
	info, err := hw.Init(eng, logging.Discard())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	coll := metrics.NewCollector(reg, nil)
	cfg.Initial = reconciler.Counters{
		Started: reconciler.Counter(info.Started),
		Done:    reconciler.Counter(info.Done),
	}
	s := scheduler.New(cfg, eng,
		scheduler.WithLogger(logging.Discard()),
		scheduler.WithObserver(coll))
	require.NoError(t, metrics.RegisterStatus(reg, s))

	ctx, cancel := context.WithCancel(context.Background())
	st := &stack{eng: eng, s: s, reg: reg, cancel: cancel}
	st.wg.Add(2)
	go func() {
		defer st.wg.Done()
		eng.Run(ctx, jobTime)
	}()
	go func() {
		defer st.wg.Done()
		s.Serve(ctx, eng)
	}()
	t.Cleanup(st.stop)
	return st
}

// stop halts the engine clock and the interrupt loop. Safe to call twice.
func (st *stack) stop() {
	st.cancel()
	st.wg.Wait()
}

func (st *stack) run(t testing.TB, opts workload.Options) workload.Report {
	t.Helper()
	d, err := workload.New(st.s, sim.NewAllocator(0), opts, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rep, err := d.Run(ctx)
	require.NoError(t, err)
	return rep
}

func smallFrames(frames int) workload.Options {
	opts := workload.DefaultOptions()
	opts.Frames = frames
	opts.Width = 640
	opts.Height = 480
	return opts
}
