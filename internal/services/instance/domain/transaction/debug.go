package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// DebugBuilder collects the diagnostic messages of one transaction. It is
// frozen into a single immutable debug event at commit or abort.
type DebugBuilder struct {
	entries []event.DebugEntry
	frozen  bool
}

// Add records one message. Messages recorded after freezing are dropped.
func (b *DebugBuilder) Add(at time.Time, message string) {
	if b.frozen {
		return
	}
	b.entries = append(b.entries, event.DebugEntry{At: at.UTC(), Message: message})
}

// Len returns the number of recorded messages.
func (b *DebugBuilder) Len() int {
	return len(b.entries)
}

// Freeze builds the debug event for cmd. It can be called once.
func (b *DebugBuilder) Freeze(cmd command.Command, now time.Time) (event.Event, error) {
	if b.frozen {
		return event.Event{}, fmt.Errorf("debug event already frozen")
	}
	b.frozen = true
	payload, err := json.Marshal(event.DebugPayload{Entries: b.entries})
	if err != nil {
		return event.Event{}, fmt.Errorf("encode debug payload: %w", err)
	}
	return command.NewEvent(cmd, event.TypeDebugRecorded, payload, now.UTC()), nil
}

// freezeDebug freezes the pending debug messages, if any.
func (t *Transaction) freezeDebug(now time.Time) (event.Event, bool, error) {
	if !t.HasDebug() {
		return event.Event{}, false, nil
	}
	evt, err := t.debug.Freeze(t.cmd, now)
	if err != nil {
		return event.Event{}, false, err
	}
	return evt, true, nil
}
