package engine

import (
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// Behavior is the business logic of one instance type. The engine calls it but
// never interprets what it does.
type Behavior interface {
	// InstanceType names the instance kind. It is the declared owner of every
	// event the behavior emits.
	InstanceType() string
	// Commands lists the command types the behavior accepts, including its
	// single bootstrap command.
	Commands() []command.Definition
	// Events lists the event types the behavior emits.
	Events() []event.Definition
	// NewState returns the state of an instance that has no history.
	NewState() any
	// Supports reports whether cmd is a command type this behavior handles.
	Supports(cmd command.Command) bool
	// Validate rejects a command before any event is staged.
	Validate(state any, cmd command.Command) error
	// Process stages events with h.AddEvent and may set a response with h.Respond.
	Process(h *Handler, cmd command.Command) error
	// Fold applies one event to state and returns the next state.
	Fold(state any, evt event.Event) (any, error)
}

// Snapshotter is implemented by behaviors whose state can be snapshotted.
type Snapshotter interface {
	EncodeState(state any) ([]byte, error)
	DecodeState(data []byte) (any, error)
}
