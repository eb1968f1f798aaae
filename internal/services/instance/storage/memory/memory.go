// Package memory provides an in-process journal and snapshot store used by
// tests and by the offline CLI.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/storage"
	"github.com/louisbranch/casework/internal/services/instance/storage/integrity"
)

var errStoreRequired = errors.New("memory store is required")

// Store keeps journals and snapshots in memory.
type Store struct {
	mu        sync.Mutex
	keyring   *integrity.Keyring
	events    map[string][]event.Event
	snapshots map[string]storage.Snapshot
	closed    bool
}

// New creates an empty store. A nil keyring leaves records unsigned.
func New(keyring *integrity.Keyring) *Store {
	return &Store{
		keyring:   keyring,
		events:    make(map[string][]event.Event),
		snapshots: make(map[string]storage.Snapshot),
	}
}

// Append seals and stores events in order.
func (s *Store) Append(ctx context.Context, instanceID string, events []event.Event, onPersisted func(event.Event)) ([]event.Event, error) {
	if err := guard(ctx, s); err != nil {
		return nil, err
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, storage.ErrInstanceIDRequired
	}
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	journal := s.events[instanceID]
	prev := ""
	if n := len(journal); n > 0 {
		prev = journal[n-1].ChainHash
	}
	stored := make([]event.Event, 0, len(events))
	for _, evt := range events {
		if evt.InstanceID != instanceID {
			s.mu.Unlock()
			return nil, fmt.Errorf("event instance %q does not match journal %q", evt.InstanceID, instanceID)
		}
		sealed, err := integrity.Seal(cloneEvent(evt), uint64(len(journal)+len(stored)+1), prev, s.keyring)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		stored = append(stored, sealed)
		prev = sealed.ChainHash
	}
	s.events[instanceID] = append(journal, stored...)
	s.mu.Unlock()

	if onPersisted != nil {
		for _, evt := range stored {
			onPersisted(evt)
		}
	}
	return stored, nil
}

// ListEvents returns up to limit verified events after afterSeq.
func (s *Store) ListEvents(ctx context.Context, instanceID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := guard(ctx, s); err != nil {
		return nil, err
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, storage.ErrInstanceIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	journal := s.events[instanceID]
	if afterSeq >= uint64(len(journal)) {
		return nil, nil
	}
	page := journal[afterSeq:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	prev := ""
	if afterSeq > 0 {
		prev = journal[afterSeq-1].ChainHash
	}
	out := make([]event.Event, 0, len(page))
	for _, evt := range page {
		if err := integrity.Verify(evt, prev, s.keyring); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrRecordCorrupt, err)
		}
		prev = evt.ChainHash
		out = append(out, cloneEvent(evt))
	}
	return out, nil
}

// ListInstances returns every instance with at least one event.
func (s *Store) ListInstances(ctx context.Context) ([]storage.InstanceRef, error) {
	if err := guard(ctx, s); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := make([]storage.InstanceRef, 0, len(s.events))
	for id, journal := range s.events {
		if len(journal) == 0 {
			continue
		}
		last := journal[len(journal)-1]
		refs = append(refs, storage.InstanceRef{InstanceType: last.InstanceType, InstanceID: id, LastSeq: last.Seq})
	}
	slices.SortFunc(refs, func(a, b storage.InstanceRef) int { return strings.Compare(a.InstanceID, b.InstanceID) })
	return refs, nil
}

// SaveSnapshot replaces the snapshot for the instance.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if err := guard(ctx, s); err != nil {
		return err
	}
	snapshot.InstanceID = strings.TrimSpace(snapshot.InstanceID)
	if snapshot.InstanceID == "" {
		return storage.ErrInstanceIDRequired
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	snapshot.StateJSON = slices.Clone(snapshot.StateJSON)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.InstanceID] = snapshot
	return nil
}

// LoadSnapshot returns the latest snapshot for the instance.
func (s *Store) LoadSnapshot(ctx context.Context, instanceID string) (storage.Snapshot, error) {
	if err := guard(ctx, s); err != nil {
		return storage.Snapshot{}, err
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return storage.Snapshot{}, storage.ErrInstanceIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[instanceID]
	if !ok {
		return storage.Snapshot{}, storage.ErrSnapshotNotFound
	}
	snapshot.StateJSON = slices.Clone(snapshot.StateJSON)
	return snapshot, nil
}

// Tamper rewrites a stored record in place. Tests use it to simulate
// corruption that must be caught on replay.
func (s *Store) Tamper(instanceID string, seq uint64, edit func(*event.Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	journal := s.events[instanceID]
	if seq == 0 || seq > uint64(len(journal)) {
		return false
	}
	edit(&journal[seq-1])
	return true
}

// Close marks the store closed. Later calls fail.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func guard(ctx context.Context, s *Store) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if s == nil {
		return errStoreRequired
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("memory store is closed")
	}
	return nil
}

func cloneEvent(evt event.Event) event.Event {
	evt.PayloadJSON = slices.Clone(evt.PayloadJSON)
	return evt
}

var _ storage.Store = (*Store)(nil)
