package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// Type identifies the command type string.
type Type string

// Command captures the canonical command envelope.
type Command struct {
	InstanceType string
	InstanceID   string
	Type         Type
	// ActorID identifies the originating caller.
	ActorID string
	// MessageID correlates the command with its response.
	MessageID string
	// Bootstrap is set during normalization from the registered definition.
	Bootstrap   bool
	Timestamp   time.Time
	PayloadJSON []byte
}

// Key returns the routing key of the addressed instance.
func (c Command) Key() string {
	return c.InstanceType + "/" + c.InstanceID
}

// DecodePayload unmarshals the command payload into target.
func (c Command) DecodePayload(target any) error {
	if err := json.Unmarshal(c.PayloadJSON, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.Type, err)
	}
	return nil
}

// NewEvent builds an event.Event by copying the shared envelope fields from a
// command. Callers supply the event type, payload, and timestamp.
func NewEvent(cmd Command, eventType event.Type, payloadJSON []byte, now time.Time) event.Event {
	return event.Event{
		InstanceID:   cmd.InstanceID,
		InstanceType: cmd.InstanceType,
		Type:         eventType,
		Timestamp:    now,
		MessageID:    cmd.MessageID,
		ActorID:      cmd.ActorID,
		PayloadJSON:  payloadJSON,
	}
}
