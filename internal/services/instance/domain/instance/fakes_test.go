package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/engine"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/domain/reply"
	"github.com/louisbranch/casework/internal/services/instance/storage/memory"
)

type ledgerState struct {
	Balance int `json:"balance"`
	Entries int `json:"entries"`
}

type creditPayload struct {
	Amount int `json:"amount"`
}

// ledgerBehavior is a small instance type used to drive the host.
type ledgerBehavior struct{}

func (ledgerBehavior) InstanceType() string { return "ledger" }

func (ledgerBehavior) Commands() []command.Definition {
	return []command.Definition{
		{Type: "ledger.open", Bootstrap: true},
		{Type: "ledger.credit"},
		{Type: "ledger.credit_pair"},
		{Type: "ledger.credit_then_fail"},
		{Type: "ledger.balance"},
	}
}

func (ledgerBehavior) Events() []event.Definition {
	return []event.Definition{
		{Type: "ledger.opened"},
		{Type: "ledger.credited"},
	}
}

func (ledgerBehavior) NewState() any { return ledgerState{} }

func (b ledgerBehavior) Supports(cmd command.Command) bool {
	for _, def := range b.Commands() {
		if def.Type == cmd.Type {
			return true
		}
	}
	return false
}

func (ledgerBehavior) Validate(_ any, cmd command.Command) error {
	if cmd.Type != "ledger.credit" {
		return nil
	}
	var payload creditPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	return nil
}

func (ledgerBehavior) Process(h *engine.Handler, cmd command.Command) error {
	switch cmd.Type {
	case "ledger.open":
		return h.AddEvent("ledger.opened", struct{}{})
	case "ledger.credit":
		var payload creditPayload
		if err := cmd.DecodePayload(&payload); err != nil {
			return err
		}
		return h.AddEvent("ledger.credited", payload)
	case "ledger.credit_pair":
		h.Debug(func() string { return "crediting pair" })
		if err := h.AddEvent("ledger.credited", creditPayload{Amount: 1}); err != nil {
			return err
		}
		if err := h.AddEvent("ledger.credited", creditPayload{Amount: 2}); err != nil {
			return err
		}
		return h.Respond(h.State())
	case "ledger.credit_then_fail":
		if err := h.AddEvent("ledger.credited", creditPayload{Amount: 10}); err != nil {
			return err
		}
		if err := h.AddEvent("ledger.credited", creditPayload{Amount: 10}); err != nil {
			return err
		}
		return errors.New("limit exceeded after staging")
	case "ledger.balance":
		h.Debug(func() string { return fmt.Sprintf("balance read at %d", h.State().(ledgerState).Balance) })
		return h.Respond(h.State())
	}
	return fmt.Errorf("unexpected command %s", cmd.Type)
}

func (ledgerBehavior) Fold(state any, evt event.Event) (any, error) {
	current := state.(ledgerState)
	switch evt.Type {
	case "ledger.opened":
	case "ledger.credited":
		var payload creditPayload
		if err := evt.DecodePayload(&payload); err != nil {
			return nil, err
		}
		current.Balance += payload.Amount
		current.Entries++
	case "ledger.overflowed":
		panic("balance overflow")
	default:
		return nil, fmt.Errorf("unknown event %s", evt.Type)
	}
	return current, nil
}

func (ledgerBehavior) EncodeState(state any) ([]byte, error) {
	return json.Marshal(state)
}

func (ledgerBehavior) DecodeState(data []byte) (any, error) {
	var state ledgerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// controlledJournal wraps a memory store with hooks to hold or fail appends.
type controlledJournal struct {
	*memory.Store

	mu        sync.Mutex
	hold      chan struct{}
	holdDebug chan struct{}
	entered   chan struct{}
	failNext  bool
	batches   [][]event.Type
}

func newControlledJournal() *controlledJournal {
	return &controlledJournal{Store: memory.New(nil)}
}

func (j *controlledJournal) Append(ctx context.Context, instanceID string, events []event.Event, onPersisted func(event.Event)) ([]event.Event, error) {
	debugOnly := len(events) == 1 && events[0].IsDebug()

	j.mu.Lock()
	types := make([]event.Type, 0, len(events))
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	j.batches = append(j.batches, types)
	hold := j.hold
	if debugOnly {
		hold = j.holdDebug
	}
	entered := j.entered
	fail := j.failNext && !debugOnly
	if fail {
		j.failNext = false
	}
	j.mu.Unlock()

	if hold != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-hold
	}
	if fail {
		return nil, errors.New("disk full")
	}
	return j.Store.Append(ctx, instanceID, events, onPersisted)
}

func (j *controlledJournal) Batches() [][]event.Type {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([][]event.Type(nil), j.batches...)
}

type countingMonitor struct {
	mu        sync.Mutex
	persisted []uint64
}

func (m *countingMonitor) EventPersisted(evt event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persisted = append(m.persisted, evt.Seq)
}

func (m *countingMonitor) Seqs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.persisted...)
}

func newTestHost(t *testing.T, cfg Config, opts ...Option) *Host {
	t.Helper()
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = time.Millisecond
	}
	host := NewHost(cfg, opts...)
	if err := host.Register(ledgerBehavior{}); err != nil {
		t.Fatalf("register ledger: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = host.Stop(ctx)
	})
	return host
}

func ledgerCommand(id string, cmdType command.Type, payload string) command.Command {
	cmd := command.Command{InstanceType: "ledger", InstanceID: id, Type: cmdType, ActorID: "tester"}
	if payload != "" {
		cmd.PayloadJSON = []byte(payload)
	}
	return cmd
}

func send(t *testing.T, host *Host, cmd command.Command) reply.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := host.Send(ctx, cmd)
	if err != nil {
		t.Fatalf("send %s: %v", cmd.Type, err)
	}
	return resp
}

func inspect(t *testing.T, host *Host, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := host.Inspect(ctx, "ledger", id)
	if err != nil {
		t.Fatalf("inspect %s: %v", id, err)
	}
	return status
}

func decodeLedger(t *testing.T, data []byte) ledgerState {
	t.Helper()
	var state ledgerState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("decode ledger state %q: %v", data, err)
	}
	return state
}
