// Package lifecycle implements the admission state machine that every instance
// runs in front of its message handler.
package lifecycle

import "time"

// Mode is the lifecycle mode of one instance. The set of modes is closed:
// AwaitingBootstrap, Operational and Broken.
type Mode interface {
	String() string
	mode()
}

// AwaitingBootstrap is the initial mode. Only the bootstrap command is admitted.
type AwaitingBootstrap struct{}

// Operational admits every supported non-bootstrap command.
type Operational struct{}

// Broken is terminal. Every command is rejected until the process restarts.
type Broken struct {
	Reason string
	At     time.Time
}

func (AwaitingBootstrap) String() string { return "awaiting_bootstrap" }
func (Operational) String() string       { return "operational" }
func (Broken) String() string            { return "broken" }

func (AwaitingBootstrap) mode() {}
func (Operational) mode()       {}
func (Broken) mode()            {}

// IsBroken reports whether m is the Broken mode.
func IsBroken(m Mode) bool {
	_, ok := m.(Broken)
	return ok
}
