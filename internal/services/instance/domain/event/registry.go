package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInstanceIDRequired indicates a missing instance id.
	ErrInstanceIDRequired = errors.New("instance id is required")
	// ErrInstanceTypeRequired indicates a missing owning instance type.
	ErrInstanceTypeRequired = errors.New("instance type is required")
	// ErrTypeRequired indicates a missing event type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrTypeUnknown indicates an unregistered event type.
	ErrTypeUnknown = errors.New("event type is not registered")
	// ErrOwnerMismatch indicates an event type used by an instance type that does not own it.
	ErrOwnerMismatch = errors.New("event type is owned by a different instance type")
	// ErrTimestampRequired indicates a zero event timestamp.
	ErrTimestampRequired = errors.New("event timestamp is required")
	// ErrPayloadInvalid indicates malformed payload JSON.
	ErrPayloadInvalid = errors.New("payload json must be valid")
)

// OwnerEngine marks event types shared by every instance type.
const OwnerEngine = ""

// Intent classifies whether an event type changes durable state.
type Intent string

const (
	// IntentState events are folded into instance state.
	IntentState Intent = "state"
	// IntentDebug events are diagnostics and never affect state.
	IntentDebug Intent = "debug"
)

// PayloadValidator validates a payload JSON document.
type PayloadValidator func(json.RawMessage) error

// Definition registers metadata for an event type.
type Definition struct {
	Type Type
	// Owner is the instance type allowed to emit this event, or OwnerEngine.
	Owner           string
	Intent          Intent
	ValidatePayload PayloadValidator
}

// Registry stores event definitions and validates events before append.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates a registry with the engine-level event types registered.
func NewRegistry() *Registry {
	r := &Registry{definitions: make(map[Type]Definition)}
	r.definitions[TypeDebugRecorded] = Definition{Type: TypeDebugRecorded, Owner: OwnerEngine, Intent: IntentDebug}
	r.definitions[TypeEngineVersionChanged] = Definition{
		Type:   TypeEngineVersionChanged,
		Owner:  OwnerEngine,
		Intent: IntentState,
		ValidatePayload: func(raw json.RawMessage) error {
			var payload EngineVersionPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return err
			}
			if strings.TrimSpace(payload.Current) == "" {
				return errors.New("current engine version is required")
			}
			return nil
		},
	}
	return r
}

// Register adds a new event type definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	def.Owner = strings.TrimSpace(def.Owner)
	if def.Owner == OwnerEngine {
		return fmt.Errorf("event type %s: %w", def.Type, ErrInstanceTypeRequired)
	}
	switch def.Intent {
	case "":
		def.Intent = IntentState
	case IntentState, IntentDebug:
	default:
		return fmt.Errorf("intent must be state or debug")
	}
	if r.definitions == nil {
		r.definitions = make(map[Type]Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("event type already registered: %s", def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// Definition returns the event definition for a given type.
func (r *Registry) Definition(evtType Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[Type(strings.TrimSpace(string(evtType)))]
	return def, ok
}

// ValidateForAppend validates and normalizes an event before persistence.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	evt.InstanceID = strings.TrimSpace(evt.InstanceID)
	if evt.InstanceID == "" {
		return Event{}, ErrInstanceIDRequired
	}
	evt.InstanceType = strings.TrimSpace(evt.InstanceType)
	if evt.InstanceType == "" {
		return Event{}, ErrInstanceTypeRequired
	}
	evt.Type = Type(strings.TrimSpace(string(evt.Type)))
	if evt.Type == "" {
		return Event{}, ErrTypeRequired
	}
	def, ok := r.Definition(evt.Type)
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrTypeUnknown, evt.Type)
	}
	if def.Owner != OwnerEngine && def.Owner != evt.InstanceType {
		return Event{}, fmt.Errorf("%w: %s belongs to %s", ErrOwnerMismatch, evt.Type, def.Owner)
	}
	if evt.Timestamp.IsZero() {
		return Event{}, ErrTimestampRequired
	}
	evt.Timestamp = evt.Timestamp.UTC()

	if !json.Valid(evt.PayloadJSON) {
		return Event{}, ErrPayloadInvalid
	}
	canonical, err := CanonicalJSON(evt.PayloadJSON)
	if err != nil {
		return Event{}, fmt.Errorf("canonical payload json: %w", err)
	}
	evt.PayloadJSON = canonical
	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(json.RawMessage(evt.PayloadJSON)); err != nil {
			return Event{}, fmt.Errorf("payload invalid: %w", err)
		}
	}
	return evt, nil
}

// IsDebug reports whether the event type is registered with debug intent.
func (r *Registry) IsDebug(evtType Type) bool {
	def, ok := r.Definition(evtType)
	return ok && def.Intent == IntentDebug
}

// ListDefinitions returns a stable, sorted snapshot of registered definitions.
func (r *Registry) ListDefinitions() []Definition {
	if r == nil || len(r.definitions) == 0 {
		return nil
	}
	definitions := make([]Definition, 0, len(r.definitions))
	for _, definition := range r.definitions {
		definitions = append(definitions, definition)
	}
	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Type < definitions[j].Type
	})
	return definitions
}
