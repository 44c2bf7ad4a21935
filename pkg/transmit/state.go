// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package transmit

import (
	"fmt"
	"slices"

	"github.com/korrel8r/shifter/pkg/shifter"
)

// State of a search [Session].
type State int

const (
	Idle State = iota
	Submitted
	Completed
	Failed
	TimedOut
	Retrieving
	Exhausted
	Deleted
)

var stateNames = []string{"idle", "submitted", "completed", "failed", "timed_out", "retrieving", "exhausted", "deleted"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	i := slices.Index(stateNames, string(b))
	if i < 0 {
		return fmt.Errorf("invalid session state: %q", b)
	}
	*s = State(i)
	return nil
}

// Terminal is true if no further operations are valid, except results for a completed search.
func (s State) Terminal() bool { return s == Failed || s == TimedOut || s == Deleted }

// ready is true if results can be fetched.
func (s State) ready() bool { return s == Completed || s == Retrieving || s == Exhausted }

// fromStatus returns the state for a search status reported by a connector.
func fromStatus(s shifter.SearchStatus) (State, error) {
	switch s {
	case shifter.Running:
		return Submitted, nil
	case shifter.Completed:
		return Completed, nil
	case shifter.Failed:
		return Failed, nil
	case shifter.TimedOut:
		return TimedOut, nil
	case shifter.Cancelled:
		return Deleted, nil
	default:
		return Idle, shifter.Errorf(shifter.MalformedResponse, "unknown search status: %q", s)
	}
}

// Session is the client side state of one search.
// A session is owned by one caller, it is not safe for concurrent use.
type Session struct {
	// ID is the search identifier, assigned by the connector or the driver.
	ID     string         `json:"search_id"`
	Module string         `json:"module"`
	Async  bool           `json:"async"`
	State  State          `json:"state"`
	Status shifter.Status `json:"status"`
	// Data from a synchronous query.
	Data []shifter.Row `json:"-"`

	resumed bool
}
