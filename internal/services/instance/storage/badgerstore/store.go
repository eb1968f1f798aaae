// Package badgerstore provides an embedded key-value journal backed by BadgerDB.
//
// Keys:
//
//	evt/<instance>/<seq, 20 digits>  sealed event record
//	head/<instance>                  last seq and chain hash
//	snap/<instance>                  latest snapshot
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/storage"
	"github.com/louisbranch/casework/internal/services/instance/storage/integrity"
)

type record struct {
	InstanceID     string          `json:"instance_id"`
	InstanceType   string          `json:"instance_type"`
	Seq            uint64          `json:"seq"`
	Type           string          `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	MessageID      string          `json:"message_id,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Hash           string          `json:"hash"`
	PrevHash       string          `json:"prev_hash"`
	ChainHash      string          `json:"chain_hash"`
	Signature      string          `json:"signature,omitempty"`
	SignatureKeyID string          `json:"signature_key_id,omitempty"`
}

type head struct {
	InstanceType string `json:"instance_type"`
	Seq          uint64 `json:"seq"`
	ChainHash    string `json:"chain_hash"`
}

type snapshotRecord struct {
	InstanceType  string          `json:"instance_type"`
	LastSeq       uint64          `json:"last_seq"`
	EngineVersion string          `json:"engine_version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store is a Badger journal and snapshot store.
type Store struct {
	db      *badger.DB
	keyring *integrity.Keyring
	log     *slog.Logger
	mu      sync.Mutex
}

// Open opens a store in dir. An empty dir keeps everything in memory.
func Open(dir string, keyring *integrity.Keyring, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log: log.With("component", "badger")})
	if strings.TrimSpace(dir) == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, keyring: keyring, log: log}, nil
}

// Close closes the database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func eventKey(instanceID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("evt/%s/%020d", instanceID, seq))
}

func eventPrefix(instanceID string) []byte {
	return []byte("evt/" + instanceID + "/")
}

func headKey(instanceID string) []byte {
	return []byte("head/" + instanceID)
}

func snapshotKey(instanceID string) []byte {
	return []byte("snap/" + instanceID)
}

// Append seals events and writes them with the journal head in one transaction.
func (s *Store) Append(ctx context.Context, instanceID string, events []event.Event, onPersisted func(event.Event)) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, storage.ErrInstanceIDRequired
	}
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored []event.Event
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := loadHead(txn, instanceID)
		if err != nil {
			return err
		}
		stored = make([]event.Event, 0, len(events))
		for i, evt := range events {
			if evt.InstanceID != instanceID {
				return fmt.Errorf("event %d: instance %q does not match journal %q", i, evt.InstanceID, instanceID)
			}
			if evt.Timestamp.IsZero() {
				evt.Timestamp = time.Now().UTC()
			}
			evt.Timestamp = evt.Timestamp.UTC()
			sealed, err := integrity.Seal(evt, current.Seq+1, current.ChainHash, s.keyring)
			if err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
			data, err := json.Marshal(toRecord(sealed))
			if err != nil {
				return fmt.Errorf("encode event %d: %w", i, err)
			}
			if err := txn.Set(eventKey(instanceID, sealed.Seq), data); err != nil {
				return err
			}
			current = head{InstanceType: sealed.InstanceType, Seq: sealed.Seq, ChainHash: sealed.ChainHash}
			stored = append(stored, sealed)
		}
		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("encode head: %w", err)
		}
		return txn.Set(headKey(instanceID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("append events: %w", err)
	}

	if onPersisted != nil {
		for _, evt := range stored {
			onPersisted(evt)
		}
	}
	return stored, nil
}

// ListEvents returns up to limit verified events with seq > afterSeq.
func (s *Store) ListEvents(ctx context.Context, instanceID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, storage.ErrInstanceIDRequired
	}

	var out []event.Event
	err := s.db.View(func(txn *badger.Txn) error {
		prevHash := ""
		if afterSeq > 0 {
			anchor, err := getRecord(txn, eventKey(instanceID, afterSeq))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				prevHash = anchor.ChainHash
			}
		}

		opts := badger.DefaultIteratorOptions
		if limit > 0 {
			opts.PrefetchSize = limit
		}
		prefix := eventPrefix(instanceID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventKey(instanceID, afterSeq+1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var evt event.Event
			err := it.Item().Value(func(v []byte) error {
				var rec record
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("%w: decode %s: %v", storage.ErrRecordCorrupt, it.Item().Key(), err)
				}
				evt = rec.toEvent()
				return nil
			})
			if err != nil {
				return err
			}
			if err := integrity.Verify(evt, prevHash, s.keyring); err != nil {
				return fmt.Errorf("%w: %v", storage.ErrRecordCorrupt, err)
			}
			prevHash = evt.ChainHash
			out = append(out, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListInstances returns every instance with a journal head.
func (s *Store) ListInstances(ctx context.Context) ([]storage.InstanceRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	var refs []storage.InstanceRef
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("head/")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := strings.TrimPrefix(string(it.Item().Key()), "head/")
			err := it.Item().Value(func(v []byte) error {
				var h head
				if err := json.Unmarshal(v, &h); err != nil {
					return fmt.Errorf("decode head %s: %w", id, err)
				}
				refs = append(refs, storage.InstanceRef{InstanceType: h.InstanceType, InstanceID: id, LastSeq: h.Seq})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// SaveSnapshot replaces the snapshot for an instance.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(snapshot.InstanceID)
	if id == "" {
		return storage.ErrInstanceIDRequired
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snapshotRecord{
		InstanceType:  snapshot.InstanceType,
		LastSeq:       snapshot.LastSeq,
		EngineVersion: snapshot.EngineVersion,
		State:         json.RawMessage(snapshot.StateJSON),
		CreatedAt:     snapshot.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(id), data)
	})
}

// LoadSnapshot returns the snapshot for an instance.
func (s *Store) LoadSnapshot(ctx context.Context, instanceID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.db == nil {
		return storage.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return storage.Snapshot{}, storage.ErrInstanceIDRequired
	}
	var rec snapshotRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(instanceID))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.Snapshot{}, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return storage.Snapshot{
		InstanceID:    instanceID,
		InstanceType:  rec.InstanceType,
		LastSeq:       rec.LastSeq,
		EngineVersion: rec.EngineVersion,
		StateJSON:     []byte(rec.State),
		CreatedAt:     rec.CreatedAt,
	}, nil
}

func loadHead(txn *badger.Txn, instanceID string) (head, error) {
	item, err := txn.Get(headKey(instanceID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return head{}, nil
	}
	if err != nil {
		return head{}, err
	}
	var h head
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &h)
	})
	if err != nil {
		return head{}, fmt.Errorf("%w: decode head: %v", storage.ErrRecordCorrupt, err)
	}
	return h, nil
}

func getRecord(txn *badger.Txn, key []byte) (record, error) {
	item, err := txn.Get(key)
	if err != nil {
		return record{}, err
	}
	var rec record
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return record{}, fmt.Errorf("%w: decode %s: %v", storage.ErrRecordCorrupt, key, err)
	}
	return rec, nil
}

func toRecord(evt event.Event) record {
	return record{
		InstanceID:     evt.InstanceID,
		InstanceType:   evt.InstanceType,
		Seq:            evt.Seq,
		Type:           string(evt.Type),
		Timestamp:      evt.Timestamp,
		MessageID:      evt.MessageID,
		ActorID:        evt.ActorID,
		Payload:        json.RawMessage(evt.PayloadJSON),
		Hash:           evt.Hash,
		PrevHash:       evt.PrevHash,
		ChainHash:      evt.ChainHash,
		Signature:      evt.Signature,
		SignatureKeyID: evt.SignatureKeyID,
	}
}

func (r record) toEvent() event.Event {
	return event.Event{
		InstanceID:     r.InstanceID,
		InstanceType:   r.InstanceType,
		Seq:            r.Seq,
		Type:           event.Type(r.Type),
		Timestamp:      r.Timestamp,
		MessageID:      r.MessageID,
		ActorID:        r.ActorID,
		PayloadJSON:    []byte(r.Payload),
		Hash:           r.Hash,
		PrevHash:       r.PrevHash,
		ChainHash:      r.ChainHash,
		Signature:      r.Signature,
		SignatureKeyID: r.SignatureKeyID,
	}
}

// badgerLogger routes badger's printf-style logs to slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

var _ storage.Store = (*Store)(nil)
