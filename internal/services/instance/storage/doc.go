// Package storage defines the journal and snapshot contracts the instance
// runtime depends on.
//
// A journal is append-only and keyed by instance id. Append stores a batch in
// order and reports every durable event through a callback, once per event and
// in order. ListEvents returns events in append order. Backends live in the
// memory, sqlite and badger subpackages and share the hash chain rules of the
// integrity subpackage.
package storage
