// Package instance runs instance actors.
//
// A Host routes each command to the actor addressed by its instance type and
// id. An actor owns one engine.Instance and drains its mailbox on a single
// goroutine, so at most one transaction is open per instance. Before serving
// its first command an actor replays the instance journal; corruption found
// during replay leaves the instance Broken.
//
// Each activation of an actor is a generation. A fatal error (a failed append
// or an aborted transaction that already mutated state) ends the generation:
// the actor drops its in-memory state, replays the journal under a new
// generation id and keeps draining the same mailbox.
package instance
