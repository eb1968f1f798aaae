package engine

import (
	"errors"
	"fmt"

	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

type counterState struct {
	Total   int
	Applied []string
}

type addPayload struct {
	N int `json:"n"`
}

// counterBehavior is a minimal behavior used to drive the handler.
type counterBehavior struct{}

func (counterBehavior) InstanceType() string { return "counter" }

func (counterBehavior) Commands() []command.Definition {
	return []command.Definition{
		{Type: "counter.create", InstanceType: "counter", Bootstrap: true},
		{Type: "counter.add", InstanceType: "counter"},
		{Type: "counter.double_add", InstanceType: "counter"},
		{Type: "counter.add_then_fail", InstanceType: "counter"},
		{Type: "counter.peek", InstanceType: "counter"},
		{Type: "counter.panic", InstanceType: "counter"},
	}
}

func (counterBehavior) Events() []event.Definition {
	return []event.Definition{
		{Type: "counter.created", Owner: "counter"},
		{Type: "counter.added", Owner: "counter"},
	}
}

func (counterBehavior) NewState() any { return counterState{} }

func (b counterBehavior) Supports(cmd command.Command) bool {
	for _, def := range b.Commands() {
		if def.Type == cmd.Type {
			return true
		}
	}
	return false
}

func (counterBehavior) Validate(_ any, cmd command.Command) error {
	if cmd.Type == "counter.add" {
		var payload addPayload
		if err := cmd.DecodePayload(&payload); err != nil {
			return err
		}
		if payload.N <= 0 {
			return errors.New("n must be positive")
		}
	}
	return nil
}

func (counterBehavior) Process(h *Handler, cmd command.Command) error {
	switch cmd.Type {
	case "counter.create":
		return h.AddEvent("counter.created", struct{}{})
	case "counter.add":
		var payload addPayload
		if err := cmd.DecodePayload(&payload); err != nil {
			return err
		}
		h.Debug(func() string { return fmt.Sprintf("adding %d", payload.N) })
		return h.AddEvent("counter.added", payload)
	case "counter.double_add":
		if err := h.AddEvent("counter.added", addPayload{N: 1}); err != nil {
			return err
		}
		// Eager application: the second step sees the first.
		seen := h.State().(counterState).Total
		if err := h.AddEvent("counter.added", addPayload{N: seen}); err != nil {
			return err
		}
		return h.Respond(map[string]int{"total": h.State().(counterState).Total})
	case "counter.add_then_fail":
		if err := h.AddEvent("counter.added", addPayload{N: 1}); err != nil {
			return err
		}
		if err := h.AddEvent("counter.added", addPayload{N: 1}); err != nil {
			return err
		}
		return errors.New("rule failed after staging")
	case "counter.peek":
		h.Debug(func() string { return "peek" })
		return h.Respond(map[string]int{"total": h.State().(counterState).Total})
	case "counter.panic":
		panic("boom")
	}
	return fmt.Errorf("unexpected command %s", cmd.Type)
}

func (counterBehavior) Fold(state any, evt event.Event) (any, error) {
	current := state.(counterState)
	switch evt.Type {
	case "counter.created":
	case "counter.added":
		var payload addPayload
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		current.Total += payload.N
	case "counter.poison":
		panic("poisoned event")
	default:
		return nil, fmt.Errorf("unknown event %s", evt.Type)
	}
	current.Applied = append(append([]string(nil), current.Applied...), string(evt.Type))
	return current, nil
}
