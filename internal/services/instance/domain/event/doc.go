// Package event defines the canonical event envelope and event-type registry used by
// the instance write path.
//
// Events are immutable facts produced while an instance processes one command.
// The registry records which instance type owns each event type and whether the
// type carries durable state or only diagnostics. Persistence assigns sequence and
// integrity fields; everything else is fixed when the event is staged.
package event
