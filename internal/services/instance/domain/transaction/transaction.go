// Package transaction stages the events of one admitted message and owns the
// commit and abort protocol that decides when the caller gets its reply.
package transaction

import (
	"github.com/samber/lo"

	"github.com/louisbranch/casework/internal/services/instance/domain/command"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/domain/reply"
)

// Transaction accumulates the events and the response of one message.
// Insertion order is application order and persistence order.
type Transaction struct {
	cmd      command.Command
	events   []event.Event
	debug    *DebugBuilder
	response *reply.Response
}

// New opens a transaction for cmd.
func New(cmd command.Command) *Transaction {
	return &Transaction{cmd: cmd}
}

// Command returns the command the transaction was opened for.
func (t *Transaction) Command() command.Command {
	return t.cmd
}

// Append stages evt after the events already staged.
func (t *Transaction) Append(evt event.Event) {
	t.events = append(t.events, evt)
}

// Prepend stages evt in front of every staged event.
func (t *Transaction) Prepend(evt event.Event) {
	t.events = append([]event.Event{evt}, t.events...)
}

// Events returns a copy of the staged events, excluding the pending debug event.
func (t *Transaction) Events() []event.Event {
	return append([]event.Event(nil), t.events...)
}

// StateEvents returns how many staged events are not debug events.
func (t *Transaction) StateEvents() int {
	return lo.CountBy(t.events, func(evt event.Event) bool { return !evt.IsDebug() })
}

// HasOnlyDebugEvents reports whether no staged event changes durable state.
// An empty transaction qualifies.
func (t *Transaction) HasOnlyDebugEvents() bool {
	return lo.EveryBy(t.events, func(evt event.Event) bool { return evt.IsDebug() })
}

// Debug returns the debug builder, creating it on first use.
func (t *Transaction) Debug() *DebugBuilder {
	if t.debug == nil {
		t.debug = &DebugBuilder{}
	}
	return t.debug
}

// HasDebug reports whether a debug message was recorded.
func (t *Transaction) HasDebug() bool {
	return t.debug != nil && len(t.debug.entries) > 0
}

// SetResponse records the response to deliver on commit.
func (t *Transaction) SetResponse(resp reply.Response) {
	t.response = &resp
}

// Response returns the recorded response.
func (t *Transaction) Response() (reply.Response, bool) {
	if t.response == nil {
		return reply.Response{}, false
	}
	return *t.response, true
}
