package casefile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/engine"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

var validate = validator.New()

// ErrCaseClosed rejects commands against a closed case.
var ErrCaseClosed = apperrors.WithMetadata(apperrors.CodeCommandValidationFailed, "command validation failed",
	map[string]string{"Reason": "case is closed"})

// Behavior implements engine.Behavior and engine.Snapshotter for cases.
type Behavior struct{}

var (
	_ engine.Behavior    = Behavior{}
	_ engine.Snapshotter = Behavior{}
)

func (Behavior) InstanceType() string { return InstanceType }

func (Behavior) Commands() []command.Definition {
	return []command.Definition{
		{Type: CommandOpen, InstanceType: InstanceType, Bootstrap: true},
		{Type: CommandNote, InstanceType: InstanceType},
		{Type: CommandAssign, InstanceType: InstanceType},
		{Type: CommandInspect, InstanceType: InstanceType},
		{Type: CommandClose, InstanceType: InstanceType},
	}
}

func (Behavior) Events() []event.Definition {
	return []event.Definition{
		{Type: EventOpened, Owner: InstanceType, ValidatePayload: payloadValidator[OpenPayload]()},
		{Type: EventNoted, Owner: InstanceType, ValidatePayload: payloadValidator[NotePayload]()},
		{Type: EventAssigned, Owner: InstanceType, ValidatePayload: payloadValidator[AssignPayload]()},
		{Type: EventActivityLogged, Owner: InstanceType},
		{Type: EventClosed, Owner: InstanceType, ValidatePayload: payloadValidator[ClosePayload]()},
	}
}

func (Behavior) NewState() any { return State{} }

func (b Behavior) Supports(cmd command.Command) bool {
	return lo.ContainsBy(b.Commands(), func(def command.Definition) bool {
		return def.Type == cmd.Type
	})
}

// Validate checks payload shape and rejects changes to a closed case.
func (Behavior) Validate(state any, cmd command.Command) error {
	current := state.(State)
	switch cmd.Type {
	case CommandOpen:
		var payload OpenPayload
		if err := cmd.DecodePayload(&payload); err != nil {
			return err
		}
		payload.Title = strings.TrimSpace(payload.Title)
		return validate.Struct(payload)
	case CommandNote:
		if current.Closed {
			return ErrCaseClosed
		}
		return decodeValid[NotePayload](cmd)
	case CommandAssign:
		if current.Closed {
			return ErrCaseClosed
		}
		return decodeValid[AssignPayload](cmd)
	case CommandClose:
		if current.Closed {
			return ErrCaseClosed
		}
		return decodeValid[ClosePayload](cmd)
	}
	return nil
}

func (Behavior) Process(h *engine.Handler, cmd command.Command) error {
	switch cmd.Type {
	case CommandOpen:
		var payload OpenPayload
		if err := cmd.DecodePayload(&payload); err != nil {
			return err
		}
		payload.Title = strings.TrimSpace(payload.Title)
		return h.AddEvent(EventOpened, payload)
	case CommandNote:
		var payload NotePayload
		if err := cmd.DecodePayload(&payload); err != nil {
			return err
		}
		return h.AddEvent(EventNoted, payload)
	case CommandAssign:
		var payload AssignPayload
		if err := cmd.DecodePayload(&payload); err != nil {
			return err
		}
		previous := h.State().(State).Assignee
		if payload.Assignee != previous {
			h.Debug(func() string {
				return fmt.Sprintf("reassigning from %q to %q", previous, payload.Assignee)
			})
			if err := h.AddEvent(EventAssigned, payload); err != nil {
				return err
			}
		}
		// Activity is only logged for assignments that changed the case.
		if h.HasOnlyDebugEvents() {
			h.Debug(func() string { return fmt.Sprintf("already assigned to %q", previous) })
			return h.Respond(h.State())
		}
		return h.AddEvent(EventActivityLogged, ActivityPayload{Actor: cmd.ActorID, Action: "assigned " + payload.Assignee})
	case CommandInspect:
		state := h.State().(State)
		h.Debug(func() string {
			return fmt.Sprintf("inspected with %d notes, closed=%t", len(state.Notes), state.Closed)
		})
		return h.Respond(state)
	case CommandClose:
		var payload ClosePayload
		if err := cmd.DecodePayload(&payload); err != nil {
			return err
		}
		if err := h.AddEvent(EventClosed, payload); err != nil {
			return err
		}
		return h.Respond(h.State())
	}
	return fmt.Errorf("unsupported command %s", cmd.Type)
}

func (Behavior) Fold(state any, evt event.Event) (any, error) {
	current := state.(State)
	switch evt.Type {
	case EventOpened:
		var payload OpenPayload
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		current.Title = payload.Title
	case EventNoted:
		var payload NotePayload
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		current.Notes = append(append([]string(nil), current.Notes...), payload.Text)
	case EventAssigned:
		var payload AssignPayload
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		current.Assignee = payload.Assignee
	case EventActivityLogged:
		current.Activity++
	case EventClosed:
		var payload ClosePayload
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		current.Closed = true
		current.Resolution = payload.Resolution
	default:
		return nil, fmt.Errorf("unknown case event %s", evt.Type)
	}
	return current, nil
}

func (Behavior) EncodeState(state any) ([]byte, error) {
	current, ok := state.(State)
	if !ok {
		return nil, fmt.Errorf("unexpected state %T", state)
	}
	return json.Marshal(current)
}

func (Behavior) DecodeState(data []byte) (any, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode case state: %w", err)
	}
	return state, nil
}

func decodeValid[T any](cmd command.Command) error {
	var payload T
	if err := cmd.DecodePayload(&payload); err != nil {
		return err
	}
	return validate.Struct(payload)
}

func payloadValidator[T any]() event.PayloadValidator {
	return func(raw json.RawMessage) error {
		var payload T
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		return validate.Struct(payload)
	}
}
