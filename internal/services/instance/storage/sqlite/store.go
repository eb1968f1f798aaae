// Package sqlite provides the SQLite-backed journal and snapshot store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/casework/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/storage"
	"github.com/louisbranch/casework/internal/services/instance/storage/integrity"
	"github.com/louisbranch/casework/internal/services/instance/storage/sqlite/migrations"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is a SQLite journal and snapshot store.
type Store struct {
	sqlDB   *sql.DB
	keyring *integrity.Keyring
	// appendMu serializes seq allocation within this process.
	appendMu sync.Mutex
}

// Open opens the journal at path and applies embedded migrations.
func Open(ctx context.Context, path string, keyring *integrity.Keyring) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.JournalFS, "journal"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, keyring: keyring}, nil
}

// Close closes the underlying database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append seals events and inserts them in one transaction. onPersisted runs
// after commit, once per event.
func (s *Store) Append(ctx context.Context, instanceID string, events []event.Event, onPersisted func(event.Event)) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, storage.ErrInstanceIDRequired
	}
	if len(events) == 0 {
		return nil, nil
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var lastSeq int64
	var prevHash string
	err = tx.QueryRowContext(ctx,
		`SELECT seq, chain_hash FROM events WHERE instance_id = ? ORDER BY seq DESC LIMIT 1`,
		instanceID,
	).Scan(&lastSeq, &prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load journal head: %w", err)
	}

	stored := make([]event.Event, 0, len(events))
	for i, evt := range events {
		if evt.InstanceID != instanceID {
			return nil, fmt.Errorf("event %d: instance %q does not match journal %q", i, evt.InstanceID, instanceID)
		}
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now().UTC()
		}
		evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)

		sealed, err := integrity.Seal(evt, uint64(lastSeq)+uint64(i)+1, prevHash, s.keyring)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO events (
    instance_id, seq, instance_type, event_type, timestamp, message_id, actor_id,
    payload_json, event_hash, prev_chain_hash, chain_hash, signature, signature_key_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sealed.InstanceID,
			int64(sealed.Seq),
			sealed.InstanceType,
			string(sealed.Type),
			toMillis(sealed.Timestamp),
			sealed.MessageID,
			sealed.ActorID,
			sealed.PayloadJSON,
			sealed.Hash,
			sealed.PrevHash,
			sealed.ChainHash,
			sealed.Signature,
			sealed.SignatureKeyID,
		); err != nil {
			if isConstraintError(err) {
				return nil, fmt.Errorf("append event seq %d: sequence already taken: %w", sealed.Seq, err)
			}
			return nil, fmt.Errorf("append event: %w", err)
		}
		stored = append(stored, sealed)
		prevHash = sealed.ChainHash
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
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
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, storage.ErrInstanceIDRequired
	}
	if limit <= 0 {
		limit = -1
	}

	prevHash := ""
	if afterSeq > 0 {
		err := s.sqlDB.QueryRowContext(ctx,
			`SELECT chain_hash FROM events WHERE instance_id = ? AND seq = ?`,
			instanceID, int64(afterSeq),
		).Scan(&prevHash)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load chain anchor: %w", err)
		}
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT instance_id, seq, instance_type, event_type, timestamp, message_id, actor_id,
       payload_json, event_hash, prev_chain_hash, chain_hash, signature, signature_key_id
FROM events
WHERE instance_id = ? AND seq > ?
ORDER BY seq
LIMIT ?`, instanceID, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrRecordCorrupt, err)
		}
		if err := integrity.Verify(evt, prevHash, s.keyring); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrRecordCorrupt, err)
		}
		prevHash = evt.ChainHash
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

// ListInstances returns every instance with a journal, ordered by id.
func (s *Store) ListInstances(ctx context.Context) ([]storage.InstanceRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT instance_id, MAX(instance_type), MAX(seq)
FROM events
GROUP BY instance_id
ORDER BY instance_id`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var refs []storage.InstanceRef
	for rows.Next() {
		var ref storage.InstanceRef
		var lastSeq int64
		if err := rows.Scan(&ref.InstanceID, &ref.InstanceType, &lastSeq); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		ref.LastSeq = uint64(lastSeq)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}
	return refs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (event.Event, error) {
	var (
		evt       event.Event
		seq       int64
		eventType string
		millis    int64
	)
	if err := row.Scan(
		&evt.InstanceID,
		&seq,
		&evt.InstanceType,
		&eventType,
		&millis,
		&evt.MessageID,
		&evt.ActorID,
		&evt.PayloadJSON,
		&evt.Hash,
		&evt.PrevHash,
		&evt.ChainHash,
		&evt.Signature,
		&evt.SignatureKeyID,
	); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	if seq <= 0 {
		return event.Event{}, fmt.Errorf("invalid seq %d", seq)
	}
	evt.Seq = uint64(seq)
	evt.Type = event.Type(eventType)
	evt.Timestamp = fromMillis(millis)
	return evt, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

var _ storage.Store = (*Store)(nil)
