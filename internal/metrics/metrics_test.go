package metrics

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/isp-scheduler/internal/scheduler"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

type fixedStatus scheduler.Status

func (f fixedStatus) Status() scheduler.Status { return scheduler.Status(f) }

// gather flattens a registry into "name{k=v,...}" -> value.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			out[key] = value(mf.GetType(), m)
		}
	}
	return out
}

func value(typ dto.MetricType, m *dto.Metric) float64 {
	switch typ {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	}
	return 0
}

func TestNewCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	collector := NewCollector(reg, nil)

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.jobsDispatched)
	assert.NotNil(t, collector.jobsCompleted)
	assert.NotNil(t, collector.jobLatency)
	assert.NotNil(t, collector.resyncs)
}

func TestNewCollector_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg, nil)

	assert.Panics(t, func() { NewCollector(reg, nil) })
}

func TestNewCollector_DefaultRegisterer(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	old := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	defer func() { prometheus.DefaultRegisterer = old }()

	assert.NotPanics(t, func() { NewCollector(nil, nil) })
}

func TestObserverEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)

	c.JobDispatched(0, 4)
	c.JobDispatched(0, 4)
	c.JobDispatched(1, 8)
	c.JobCompleted(0, 3*time.Millisecond)
	c.JobFailed(1, errors.New("read-back"))
	c.DegenerateJob(1)
	c.BuffersCancelled(0, types.Output0, 3)
	c.CountersResynced()
	c.Interrupt(false)
	c.Interrupt(false)
	c.Interrupt(true)

	got := gather(t, reg)
	assert.Equal(t, 2.0, got["pispbe_jobs_dispatched_total{group=0}"])
	assert.Equal(t, 1.0, got["pispbe_jobs_dispatched_total{group=1}"])
	assert.Equal(t, 1.0, got["pispbe_jobs_completed_total{group=0}"])
	assert.Equal(t, 1.0, got["pispbe_jobs_failed_total{group=1}"])
	assert.Equal(t, 1.0, got["pispbe_jobs_degenerate_total{group=1}"])
	assert.Equal(t, 3.0, got["pispbe_buffers_cancelled_total{group=0,node=output0}"])
	assert.Equal(t, 1.0, got["pispbe_counter_resyncs_total"])
	assert.Equal(t, 2.0, got["pispbe_interrupts_total{kind=handled}"])
	assert.Equal(t, 1.0, got["pispbe_interrupts_total{kind=spurious}"])
	assert.Equal(t, 1.0, got["pispbe_job_latency_seconds"])
}

func TestStatusGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := fixedStatus{
		Busy:    true,
		Running: &scheduler.JobStatus{ID: "a"},
		Queued:  &scheduler.JobStatus{ID: "b", Group: 1},
		Groups: []scheduler.GroupStatus{
			{ID: 0, Sequence: 12, Ready: map[types.NodeID]int{types.MainInput: 2}},
			{ID: 1, Ready: map[types.NodeID]int{}},
		},
	}
	NewCollector(reg, src)

	got := gather(t, reg)
	assert.Equal(t, 1.0, got["pispbe_busy"])
	assert.Equal(t, 2.0, got["pispbe_jobs_in_flight"])
	assert.Equal(t, 12.0, got["pispbe_group_sequence{group=0}"])
	assert.Equal(t, 2.0, got["pispbe_ready_buffers{group=0,node=input}"])
	assert.Equal(t, 0.0, got["pispbe_ready_buffers{group=1,node=config}"])
	assert.Contains(t, got, "pispbe_ready_buffers{group=1,node=config}")
}

func TestRegisterStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg, nil)
	assert.NotContains(t, gather(t, reg), "pispbe_busy")

	require.NoError(t, RegisterStatus(reg, fixedStatus{Groups: []scheduler.GroupStatus{{ID: 0}}}))
	got := gather(t, reg)
	assert.Equal(t, 0.0, got["pispbe_busy"])
	assert.Contains(t, got, "pispbe_group_sequence{group=0}")

	err := RegisterStatus(reg, fixedStatus{})
	var already prometheus.AlreadyRegisteredError
	assert.True(t, errors.As(err, &already))
}
