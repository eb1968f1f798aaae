package command

import (
	"errors"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	registry.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	for _, def := range []Definition{
		{Type: "case.open", InstanceType: "case", Bootstrap: true},
		{Type: "case.note", InstanceType: "case"},
	} {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Type, err)
		}
	}
	return registry
}

func TestRegistryRegisterRejectsSecondBootstrap(t *testing.T) {
	registry := newTestRegistry(t)
	err := registry.Register(Definition{Type: "case.reopen", InstanceType: "case", Bootstrap: true})
	if !errors.Is(err, ErrBootstrapConflict) {
		t.Fatalf("expected ErrBootstrapConflict, got %v", err)
	}
}

func TestRegistryRegisterRequiresInstanceType(t *testing.T) {
	if err := NewRegistry().Register(Definition{Type: "x"}); !errors.Is(err, ErrInstanceTypeRequired) {
		t.Fatalf("expected ErrInstanceTypeRequired, got %v", err)
	}
}

func TestRegistryNormalize(t *testing.T) {
	registry := newTestRegistry(t)

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{name: "missing type", cmd: Command{InstanceType: "case", InstanceID: "c1"}, want: ErrTypeRequired},
		{name: "missing id", cmd: Command{InstanceType: "case", Type: "case.open"}, want: ErrInstanceIDRequired},
		{name: "missing instance type", cmd: Command{InstanceID: "c1", Type: "case.open"}, want: ErrInstanceTypeRequired},
		{name: "bad payload", cmd: Command{InstanceType: "case", InstanceID: "c1", Type: "case.open", PayloadJSON: []byte("{")}, want: ErrPayloadInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := registry.Normalize(tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegistryNormalizeFillsEnvelope(t *testing.T) {
	registry := newTestRegistry(t)

	got, err := registry.Normalize(Command{
		InstanceType: " case ",
		InstanceID:   " c1 ",
		Type:         " case.open ",
		PayloadJSON:  []byte(`{"z":1,"a":2}`),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.InstanceID != "c1" || got.InstanceType != "case" || got.Type != "case.open" {
		t.Fatalf("expected trimmed envelope, got %+v", got)
	}
	if got.MessageID == "" {
		t.Fatal("expected generated message id")
	}
	if !got.Bootstrap {
		t.Fatal("expected bootstrap flag from definition")
	}
	if string(got.PayloadJSON) != `{"a":2,"z":1}` {
		t.Fatalf("expected canonical payload, got %s", got.PayloadJSON)
	}
	if !got.Timestamp.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", got.Timestamp)
	}
}

func TestRegistryNormalizeKeepsUnknownTypes(t *testing.T) {
	registry := newTestRegistry(t)
	got, err := registry.Normalize(Command{InstanceType: "case", InstanceID: "c1", Type: "case.unknown", MessageID: "m1"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.Bootstrap {
		t.Fatal("unknown type must not be bootstrap")
	}
	if got.MessageID != "m1" {
		t.Fatalf("expected caller message id kept, got %q", got.MessageID)
	}
}

func TestRegistryNormalizeIgnoresBootstrapOfOtherType(t *testing.T) {
	registry := newTestRegistry(t)
	got, err := registry.Normalize(Command{InstanceType: "task", InstanceID: "t1", Type: "case.open"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.Bootstrap {
		t.Fatal("bootstrap flag must only apply to the owning instance type")
	}
}

func TestNewEventCopiesEnvelope(t *testing.T) {
	now := time.Unix(100, 0).UTC()
	cmd := Command{InstanceType: "case", InstanceID: "c1", ActorID: "u1", MessageID: "m1"}
	evt := NewEvent(cmd, "case.noted", []byte(`{}`), now)
	if evt.InstanceID != "c1" || evt.InstanceType != "case" || evt.ActorID != "u1" || evt.MessageID != "m1" {
		t.Fatalf("envelope not copied: %+v", evt)
	}
	if !evt.Timestamp.Equal(now) || evt.Type != "case.noted" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestRegistryScopesTypesByInstanceType(t *testing.T) {
	registry := newTestRegistry(t)
	if err := registry.Register(Definition{Type: "case.note", InstanceType: "task"}); err != nil {
		t.Fatalf("register same name for another instance type: %v", err)
	}
	if err := registry.Register(Definition{Type: "case.note", InstanceType: "case"}); err == nil {
		t.Fatal("expected duplicate definition for the same instance type to be rejected")
	}
	if err := registry.Register(Definition{Type: "task.open", InstanceType: "task", Bootstrap: true}); err != nil {
		t.Fatalf("bootstrap for a second instance type: %v", err)
	}

	def, ok := registry.Definition("task", "case.note")
	if !ok || def.InstanceType != "task" {
		t.Fatalf("definition = %+v, %v", def, ok)
	}
	if _, ok := registry.Definition("ticket", "case.note"); ok {
		t.Fatal("definition must not leak to unregistered instance types")
	}

	defs := registry.ListDefinitions()
	if len(defs) != 4 || defs[0].InstanceType != "case" || defs[3].InstanceType != "task" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}
