package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

type consoleRecorder struct {
	messages []string
}

func (c *consoleRecorder) Mirror(_, _, message string) {
	c.messages = append(c.messages, message)
}

func fixedNow() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }

func newCreatedInstance(t *testing.T) *Instance {
	t.Helper()
	inst := NewInstance("c1", counterBehavior{})
	inst.EngineVersion = "1.0.0"
	if err := inst.Apply(event.Event{Seq: 1, InstanceType: "counter", Type: "counter.created", PayloadJSON: []byte(`{}`)}); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	return inst
}

func cmd(cmdType command.Type, payload string) command.Command {
	if payload == "" {
		payload = "{}"
	}
	return command.Command{
		InstanceType: "counter",
		InstanceID:   "c1",
		Type:         cmdType,
		MessageID:    "m-" + string(cmdType),
		PayloadJSON:  []byte(payload),
	}
}

func eventRegistry(t *testing.T) *event.Registry {
	t.Helper()
	registry := event.NewRegistry()
	for _, def := range (counterBehavior{}).Events() {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return registry
}

func TestHandlerPrependsEngineVersionChange(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.add", `{"n":2}`), Options{EngineVersion: "2.0.0", Now: fixedNow})
	if err := h.Process(); err != nil {
		t.Fatalf("process: %v", err)
	}

	events := h.Transaction().Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != event.TypeEngineVersionChanged {
		t.Fatalf("first event = %s, want engine version change", events[0].Type)
	}
	var payload event.EngineVersionPayload
	if err := events[0].DecodePayload(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Previous != "1.0.0" || payload.Current != "2.0.0" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if inst.EngineVersion != "2.0.0" {
		t.Fatalf("instance version = %q", inst.EngineVersion)
	}
}

func TestHandlerSkipsVersionEventWhenCurrent(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.add", `{"n":2}`), Options{EngineVersion: "1.0.0"})
	if err := h.Process(); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := h.Transaction().Events(); len(got) != 1 || got[0].Type != "counter.added" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestHandlerAppliesEventsEagerly(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.double_add", ""), Options{EngineVersion: "1.0.0"})
	if err := h.Process(); err != nil {
		t.Fatalf("process: %v", err)
	}
	// First add 1, then add the observed total (1).
	if total := inst.State.(counterState).Total; total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	resp := h.Complete()
	var body map[string]int
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["total"] != 2 {
		t.Fatalf("response total = %d", body["total"])
	}
	if h.HasOnlyDebugEvents() {
		t.Fatal("state changed")
	}
}

func TestHandlerValidationErrorStagesNothing(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.add", `{"n":0}`), Options{EngineVersion: "9.9.9"})
	err := h.Process()
	if apperrors.CodeOf(err) != apperrors.CodeCommandValidationFailed {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if len(h.Transaction().Events()) != 0 {
		t.Fatal("validation failure must not stage events")
	}
	if inst.EngineVersion != "1.0.0" {
		t.Fatal("version check must not run for rejected commands")
	}
}

func TestHandlerPartialFailureLeavesEventsStaged(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.add_then_fail", ""), Options{EngineVersion: "1.0.0"})
	if err := h.Process(); err == nil {
		t.Fatal("expected failure")
	}
	if h.Transaction().StateEvents() != 2 {
		t.Fatalf("expected 2 staged events, got %d", h.Transaction().StateEvents())
	}
}

func TestHandlerRecoversPanics(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.panic", ""), Options{})
	err := h.Process()
	if apperrors.CodeOf(err) != apperrors.CodeProcessingFailed {
		t.Fatalf("expected processing failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected panic value in error, got %v", err)
	}
}

func TestHandlerDebugSkipsConstructionWhenDisabled(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.peek", ""), Options{DebugEnabled: false})
	called := false
	h.Debug(func() string {
		called = true
		return "expensive"
	})
	if called {
		t.Fatal("debug message built while debugging disabled")
	}
	if h.Transaction().HasDebug() {
		t.Fatal("no debug event expected")
	}
}

func TestHandlerDebugRecordsAndMirrors(t *testing.T) {
	inst := newCreatedInstance(t)
	console := &consoleRecorder{}
	h := NewHandler(inst, cmd("counter.peek", ""), Options{DebugEnabled: true, Console: console})
	if err := h.Process(); err != nil {
		t.Fatalf("process: %v", err)
	}
	h.Debug(func() string { return "second" })

	if !h.HasOnlyDebugEvents() {
		t.Fatal("peek must not change state")
	}
	if h.Transaction().Debug().Len() != 2 {
		t.Fatalf("expected 2 debug messages in one builder, got %d", h.Transaction().Debug().Len())
	}
	if len(console.messages) != 2 || console.messages[0] != "peek" {
		t.Fatalf("console = %v", console.messages)
	}
}

func TestHandlerAddEventValidatesAgainstRegistry(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.peek", ""), Options{Events: eventRegistry(t), Now: fixedNow})
	if err := h.AddEvent("counter.unknown", struct{}{}); !errors.Is(err, event.ErrTypeUnknown) {
		t.Fatalf("expected ErrTypeUnknown, got %v", err)
	}
	if err := h.AddEvent(event.TypeDebugRecorded, struct{}{}); !errors.Is(err, ErrDebugViaAddEvent) {
		t.Fatalf("expected ErrDebugViaAddEvent, got %v", err)
	}
	if err := h.AddEvent("counter.added", addPayload{N: 3}); err != nil {
		t.Fatalf("add event: %v", err)
	}
	if inst.State.(counterState).Total != 3 {
		t.Fatal("event not applied")
	}
}

func TestHandlerCompleteSynthesizesResponse(t *testing.T) {
	inst := newCreatedInstance(t)
	h := NewHandler(inst, cmd("counter.add", `{"n":1}`), Options{})
	if err := h.Process(); err != nil {
		t.Fatalf("process: %v", err)
	}
	resp := h.Complete()
	if !resp.OK() || resp.MessageID != "m-counter.add" || resp.InstanceID != "c1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if again := h.Complete(); again.MessageID != resp.MessageID {
		t.Fatal("Complete must be stable")
	}
}
