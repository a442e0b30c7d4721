package scheduler

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// JobStatus describes a job sitting in one of the hardware slots.
type JobStatus struct {
	ID    string
	Group int
	Tiles uint32
	Age   time.Duration
}

// GroupStatus describes one node group.
type GroupStatus struct {
	ID        int
	Streaming []types.NodeID
	Sequence  uint32
	Ready     map[types.NodeID]int
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Busy    bool
	Running *JobStatus
	Queued  *JobStatus
	Started uint8
	Done    uint8
	Policy  ScanPolicy
	Groups  []GroupStatus
	Taken   time.Time
}

// Status takes a snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := Status{
		Busy:    s.busy,
		Running: jobStatus(s.pipe.Running, now),
		Queued:  jobStatus(s.pipe.Queued, now),
		Started: uint8(s.pipe.Shadow.Started),
		Done:    uint8(s.pipe.Shadow.Done),
		Policy:  s.policy,
		Taken:   now,
	}
	for _, g := range s.groups {
		gs := GroupStatus{
			ID:       g.id,
			Sequence: g.sequence,
			Ready:    make(map[types.NodeID]int),
		}
		for _, n := range types.AllNodes {
			if g.streaming&n.Bit() != 0 {
				gs.Streaming = append(gs.Streaming, n)
			}
			if l := g.trackers[n].Len(); l > 0 {
				gs.Ready[n] = l
			}
		}
		st.Groups = append(st.Groups, gs)
	}
	return st
}

func jobStatus(j *Job, now time.Time) *JobStatus {
	if j == nil {
		return nil
	}
	return &JobStatus{
		ID:    j.ID,
		Group: j.Group.id,
		Tiles: j.Config.NumTiles,
		Age:   now.Sub(j.AdmittedAt),
	}
}

// ReadyTotal sums the ready buffers over all groups and nodes.
func (st Status) ReadyTotal() int {
	n := 0
	for _, g := range st.Groups {
		for _, l := range g.Ready {
			n += l
		}
	}
	return n
}

// InFlight counts the occupied hardware slots.
func (st Status) InFlight() int {
	n := 0
	if st.Running != nil {
		n++
	}
	if st.Queued != nil {
		n++
	}
	return n
}

// AsMap renders the status with plain types only, as accepted by
// structpb.NewStruct and encoding/json.
func (st Status) AsMap() map[string]any {
	m := map[string]any{
		"busy":    st.Busy,
		"started": int(st.Started),
		"done":    int(st.Done),
		"policy":  st.Policy.String(),
		"taken":   st.Taken.Format(time.RFC3339Nano),
	}
	if st.Running != nil {
		m["running"] = st.Running.asMap()
	}
	if st.Queued != nil {
		m["queued"] = st.Queued.asMap()
	}

	groups := make([]any, 0, len(st.Groups))
	for _, g := range st.Groups {
		streaming := make([]any, 0, len(g.Streaming))
		for _, n := range g.Streaming {
			streaming = append(streaming, n.String())
		}
		ready := make(map[string]any, len(g.Ready))
		for n, l := range g.Ready {
			ready[n.String()] = l
		}
		groups = append(groups, map[string]any{
			"id":        g.ID,
			"streaming": streaming,
			"sequence":  int(g.Sequence),
			"ready":     ready,
		})
	}
	m["groups"] = groups
	return m
}

func (j *JobStatus) asMap() map[string]any {
	return map[string]any{
		"id":     j.ID,
		"group":  j.Group,
		"tiles":  int(j.Tiles),
		"age_ms": float64(j.Age) / float64(time.Millisecond),
	}
}

func (st Status) String() string {
	return fmt.Sprintf("busy=%v in_flight=%d started=%d done=%d ready=%d",
		st.Busy, st.InFlight(), st.Started, st.Done, st.ReadyTotal())
}
