// Package conn owns the device handle: the connection state machine, the
// discovery loop that keeps the device catalog fresh, and the acquisition
// loop that feeds bytes into the pipeline.
package conn

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("conn: already connected")
	ErrNotConnected     = errors.New("conn: not connected")
	ErrNoPort           = errors.New("conn: no device selected")
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Establishing
	Connected
	Failed
)

var stateNames = [...]string{"disconnected", "establishing", "connected", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("conn: unknown state %q", b)
}

// Status is a snapshot of the connection as shown to the user.
type Status struct {
	State    State  `json:"state"`
	Port     string `json:"port,omitempty"`
	BaudRate int    `json:"baud_rate,omitempty"`
	Session  string `json:"session,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Text is the status label for the current state.
func (s Status) Text() string {
	switch s.State {
	case Establishing:
		return fmt.Sprintf("establishing connection to %s...", s.Port)
	case Connected:
		return fmt.Sprintf("connected to %s.", s.Port)
	case Failed:
		return fmt.Sprintf("unable to connect to %s.", s.Port)
	default:
		return "disconnected"
	}
}
