package engine

import (
	"errors"
	"fmt"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// ErrAlreadyApplied reports an event whose sequence is not past the last applied one.
var ErrAlreadyApplied = errors.New("event already applied")

// Instance is the in-memory state of one instance. Only its owning actor
// touches it.
type Instance struct {
	ID            string
	Behavior      Behavior
	State         any
	EngineVersion string
	LastSeq       uint64
	// Created is set once a business event has been applied.
	Created bool
}

// NewInstance returns an instance with the behavior's empty state.
func NewInstance(id string, behavior Behavior) *Instance {
	return &Instance{ID: id, Behavior: behavior, State: behavior.NewState()}
}

// Apply folds evt into the instance. Debug events only advance the sequence.
// A persisted event at or below LastSeq is refused.
func (i *Instance) Apply(evt event.Event) error {
	if evt.Seq != 0 && evt.Seq <= i.LastSeq {
		return fmt.Errorf("%w: seq %d, last %d", ErrAlreadyApplied, evt.Seq, i.LastSeq)
	}
	switch {
	case evt.IsDebug():
	case evt.Type == event.TypeEngineVersionChanged:
		var payload event.EngineVersionPayload
		if err := evt.DecodePayload(&payload); err != nil {
			return err
		}
		i.EngineVersion = payload.Current
	default:
		next, err := i.Behavior.Fold(i.State, evt)
		if err != nil {
			return fmt.Errorf("fold %s: %w", evt.Type, err)
		}
		i.State = next
		i.Created = true
	}
	if evt.Seq > i.LastSeq {
		i.LastSeq = evt.Seq
	}
	return nil
}

// Advance records the sequences assigned to events that were already applied
// while they were staged.
func (i *Instance) Advance(stored []event.Event) {
	for _, evt := range stored {
		if evt.Seq > i.LastSeq {
			i.LastSeq = evt.Seq
		}
	}
}
