package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the event type string.
type Type string

// Engine-level event types. These are owned by the runtime rather than by any
// instance type and may appear in the journal of every instance.
const (
	// TypeDebugRecorded carries diagnostic messages captured while processing a command.
	TypeDebugRecorded Type = "engine.debug_recorded"
	// TypeEngineVersionChanged records that a newer engine processed the instance.
	TypeEngineVersionChanged Type = "engine.version_changed"
)

// Event captures the canonical event envelope.
type Event struct {
	InstanceID string
	// InstanceType is the declared owning type. Recovery refuses events whose
	// owner does not match the recovering instance.
	InstanceType string
	Seq          uint64
	Type         Type
	Timestamp    time.Time
	MessageID    string
	ActorID      string
	PayloadJSON  []byte

	Hash           string
	PrevHash       string
	ChainHash      string
	Signature      string
	SignatureKeyID string
}

// IsDebug reports whether the event is a diagnostic-only debug event.
func (e Event) IsDebug() bool {
	return e.Type == TypeDebugRecorded
}

// IsEngine reports whether the event type is owned by the runtime.
func (e Event) IsEngine() bool {
	return e.Type == TypeDebugRecorded || e.Type == TypeEngineVersionChanged
}

// DecodePayload unmarshals the payload into target.
func (e Event) DecodePayload(target any) error {
	if len(e.PayloadJSON) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.PayloadJSON, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DebugEntry is one diagnostic message inside a debug event.
type DebugEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// DebugPayload is the payload of TypeDebugRecorded.
type DebugPayload struct {
	Entries []DebugEntry `json:"entries"`
}

// EngineVersionPayload is the payload of TypeEngineVersionChanged.
type EngineVersionPayload struct {
	Previous string `json:"previous,omitempty"`
	Current  string `json:"current"`
}

// CanonicalJSON re-encodes raw JSON with sorted object keys and no
// insignificant whitespace so that hashing is stable.
func CanonicalJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}"), nil
	}
	var value any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return json.Marshal(value)
}
