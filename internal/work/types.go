package work

import (
	"fmt"
	"strings"
	"time"
)

// Data is a small key/value payload used for work input and output.
type Data map[string]string

// Clone returns an independent copy. A nil or empty Data clones to nil.
func (d Data) Clone() Data {
	if len(d) == 0 {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

type Kind int

const (
	OneTime Kind = iota
	Periodic
)

var kindNames = [...]string{"one_time", "periodic"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range kindNames {
		if n == s {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown work kind %q", string(b))
}

// NetworkType is the network condition a request requires before it may run.
type NetworkType int

const (
	NetworkNotRequired NetworkType = iota
	NetworkConnected
	NetworkUnmetered
	NetworkNotRoaming
	NetworkMetered
)

var networkNames = [...]string{"not_required", "connected", "unmetered", "not_roaming", "metered"}

func (n NetworkType) Valid() bool { return n >= 0 && int(n) < len(networkNames) }

func (n NetworkType) String() string {
	if !n.Valid() {
		return fmt.Sprintf("network(%d)", int(n))
	}
	return networkNames[n]
}

func (n NetworkType) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *NetworkType) UnmarshalText(b []byte) error {
	v, err := ParseNetworkType(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// ParseNetworkType accepts the canonical names plus "none" and "" for NotRequired.
func ParseNetworkType(s string) (NetworkType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	if s == "" || s == "none" {
		return NetworkNotRequired, nil
	}
	for i, n := range networkNames {
		if n == s {
			return NetworkType(i), nil
		}
	}
	return NetworkNotRequired, fmt.Errorf("unknown network type %q", s)
}

// Constraints gate execution on the runtime environment.
// The zero value declares no constraints, so the work is immediately eligible.
type Constraints struct {
	RequiresCharging      bool        `json:"requires_charging,omitempty"`
	RequiredNetwork       NetworkType `json:"required_network,omitempty"`
	RequiresBatteryNotLow bool        `json:"requires_battery_not_low,omitempty"`
}

func (c Constraints) IsZero() bool {
	return !c.RequiresCharging && !c.RequiresBatteryNotLow && c.RequiredNetwork == NetworkNotRequired
}

type State int

const (
	Enqueued State = iota
	Blocked
	Running
	Succeeded
	Failed
	Cancelled
)

var stateNames = [...]string{"enqueued", "blocked", "running", "succeeded", "failed", "cancelled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// IsFinished reports whether s is one of the terminal states.
func (s State) IsFinished() bool { return s == Succeeded || s == Failed || s == Cancelled }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseState(raw string) (State, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for i, n := range stateNames {
		if n == s {
			return State(i), nil
		}
	}
	return Enqueued, fmt.Errorf("unknown work state %q", raw)
}

// ExistingPolicy decides what happens when unique work with the same name is
// already live.
type ExistingPolicy int

const (
	// Keep discards the new request and returns the live record's id.
	Keep ExistingPolicy = iota
	// Replace cancels the live record and enqueues the new request.
	Replace
)

func (p ExistingPolicy) String() string {
	if p == Replace {
		return "replace"
	}
	return "keep"
}

// Record is the persisted, mutable scheduling state of one Request.
type Record struct {
	ID      string  `json:"id"`
	Request Request `json:"request"`
	State   State   `json:"state"`
	Output  Data    `json:"output,omitempty"`

	RunAttemptCount int       `json:"run_attempt_count"`
	NextEligibleAt  time.Time `json:"next_eligible_at"`
	UniqueName      string    `json:"unique_name,omitempty"`

	// Seq is the insertion order used for FIFO dispatch.
	Seq        int64     `json:"seq"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Finished reports whether the record has reached a terminal state.
// Periodic records only finish when cancelled.
func (r Record) Finished() bool { return r.State.IsFinished() }

// Eligible reports whether the record is waiting to run and due at now.
func (r Record) Eligible(now time.Time) bool {
	return r.State == Enqueued && !r.NextEligibleAt.After(now)
}

// Clone returns a deep copy safe to hand out to callers.
func (r Record) Clone() Record {
	cp := r
	cp.Output = r.Output.Clone()
	cp.Request = r.Request.Clone()
	return cp
}
