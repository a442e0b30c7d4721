package reconciler

// Pipeline mirrors the hardware's two job slots. J is the job handle; the
// zero value of *J (nil) means an empty slot.
//
// Pipeline is not safe for concurrent use. The owner serializes access.
type Pipeline[J any] struct {
	Running *J
	Queued  *J
	Shadow  Counters
}

// Result describes what one reconciliation did.
type Result struct {
	// Completed counts jobs handed to the completion callback.
	Completed int
	// Promoted is set when the queued job moved to the running slot.
	Promoted bool
	// CanQueue is set when the hardware started a job and so has room
	// for another.
	CanQueue bool
	// Resynced is set when the shadow counters had to be forced to the
	// hardware values. Some completion may have been missed.
	Resynced bool
	// Before is the shadow state on entry.
	Before Counters
}

// Occupancy returns how many slots hold a job.
func (p *Pipeline[J]) Occupancy() int {
	n := 0
	if p.Running != nil {
		n++
	}
	if p.Queued != nil {
		n++
	}
	return n
}

// Reconcile applies one interrupt's counter reading.
//
// Steps, in order:
//  1. A running job completes if done moved.
//  2. If started moved the queued job began executing. When done has also
//     moved by two or more since entry it finished in the same window and
//     completes directly, otherwise it becomes the running job. A job
//     still in the running slot at that point has already finished and
//     completes first.
//  3. Any remaining difference forces the shadow to the hardware values.
func (p *Pipeline[J]) Reconcile(hw Counters, complete func(*J)) Result {
	res := Result{Before: p.Shadow}
	origDone := p.Shadow.Done

	if p.Running != nil && p.Shadow.Done != hw.Done {
		complete(p.Running)
		p.Running = nil
		p.Shadow.Done = p.Shadow.Done.Inc()
		res.Completed++
	}

	if p.Shadow.Started != hw.Started {
		p.Shadow.Started = p.Shadow.Started.Inc()
		res.CanQueue = true

		if p.Queued != nil && hw.Done.Since(origDone) >= 2 {
			complete(p.Queued)
			p.Shadow.Done = p.Shadow.Done.Inc()
			res.Completed++
		} else {
			if p.Running != nil {
				// The hardware only starts a job once the running slot has
				// drained, so this one finished and its done was absorbed
				// by an earlier resync.
				complete(p.Running)
				res.Completed++
			}
			p.Running = p.Queued
			res.Promoted = p.Queued != nil
		}
		p.Queued = nil
	}

	if p.Shadow != hw {
		p.Shadow = hw
		res.Resynced = true
	}
	return res
}

// Reset empties both slots and returns the jobs that were in them,
// running first.
func (p *Pipeline[J]) Reset() []*J {
	var out []*J
	if p.Running != nil {
		out = append(out, p.Running)
	}
	if p.Queued != nil {
		out = append(out, p.Queued)
	}
	p.Running, p.Queued = nil, nil
	return out
}
