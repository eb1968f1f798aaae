package engine

import (
	"errors"
	"testing"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

func TestInstanceApplyRefusesDoubleApply(t *testing.T) {
	inst := NewInstance("c1", counterBehavior{})
	first := event.Event{Seq: 1, InstanceType: "counter", Type: "counter.added", PayloadJSON: []byte(`{"n":5}`)}
	if err := inst.Apply(first); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := inst.Apply(first); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	if inst.State.(counterState).Total != 5 {
		t.Fatal("event applied twice")
	}
}

func TestInstanceApplyDebugOnlyAdvancesSequence(t *testing.T) {
	inst := NewInstance("c1", counterBehavior{})
	if err := inst.Apply(event.Event{Seq: 1, Type: event.TypeDebugRecorded, PayloadJSON: []byte(`{}`)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if inst.LastSeq != 1 || inst.Created {
		t.Fatalf("debug event must only advance seq: %+v", inst)
	}
}

func TestInstanceApplyEngineVersionDoesNotCreate(t *testing.T) {
	inst := NewInstance("c1", counterBehavior{})
	evt := event.Event{Seq: 1, Type: event.TypeEngineVersionChanged, PayloadJSON: []byte(`{"current":"1.0.0"}`)}
	if err := inst.Apply(evt); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if inst.EngineVersion != "1.0.0" || inst.Created {
		t.Fatalf("unexpected instance %+v", inst)
	}
}

func TestInstanceAdvance(t *testing.T) {
	inst := NewInstance("c1", counterBehavior{})
	inst.Advance([]event.Event{{Seq: 3}, {Seq: 4}})
	if inst.LastSeq != 4 {
		t.Fatalf("LastSeq = %d", inst.LastSeq)
	}
}

func TestRecoverConvertsPanics(t *testing.T) {
	inst := NewInstance("c1", counterBehavior{})
	err := Recover(inst, event.Event{Seq: 1, InstanceType: "counter", Type: "counter.poison", PayloadJSON: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected error from panicking fold")
	}
	if inst.LastSeq != 0 {
		t.Fatal("failed event must not advance the sequence")
	}
}
