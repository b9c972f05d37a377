package work

import (
	"strings"
	"time"
)

// MinPeriodicInterval is the floor applied to periodic intervals.
const MinPeriodicInterval = 15 * time.Minute

// Request is the immutable description of work submitted by a caller.
//
// Worker names a function registered with the runner. Records outlive the
// process, so the function is looked up by name at dispatch time rather than
// stored by reference.
type Request struct {
	Kind        Kind          `json:"kind"`
	Worker      string        `json:"worker"`
	Input       Data          `json:"input,omitempty"`
	Constraints Constraints   `json:"constraints"`
	Interval    time.Duration `json:"interval,omitempty"`
	UniqueName  string        `json:"unique_name,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
}

// NewOneTime builds a one-time request for worker.
func NewOneTime(worker string, input Data, c Constraints) Request {
	return Request{Kind: OneTime, Worker: worker, Input: input, Constraints: c}
}

// NewPeriodic builds a periodic request for worker. Intervals under
// MinPeriodicInterval are raised to the floor by Normalize.
func NewPeriodic(worker string, every time.Duration, c Constraints) Request {
	return Request{Kind: Periodic, Worker: worker, Interval: every, Constraints: c}
}

// Normalize validates r and returns a defensive copy with defaults applied.
func (r Request) Normalize() (Request, error) {
	out := r.Clone()
	out.Worker = strings.TrimSpace(out.Worker)
	out.UniqueName = strings.TrimSpace(out.UniqueName)

	if out.Worker == "" {
		return Request{}, &ValidationError{Field: "worker", Reason: "required"}
	}
	if !out.Constraints.RequiredNetwork.Valid() {
		return Request{}, &ValidationError{Field: "constraints.required_network", Reason: "unknown network type " + out.Constraints.RequiredNetwork.String()}
	}

	switch out.Kind {
	case OneTime:
		if out.Interval != 0 {
			return Request{}, &ValidationError{Field: "interval", Reason: "only periodic work has an interval"}
		}
	case Periodic:
		if out.Interval < MinPeriodicInterval {
			out.Interval = MinPeriodicInterval
		}
	default:
		return Request{}, &ValidationError{Field: "kind", Reason: "unknown kind " + out.Kind.String()}
	}
	return out, nil
}

func (r Request) Clone() Request {
	cp := r
	cp.Input = r.Input.Clone()
	if len(r.Tags) > 0 {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	return cp
}
