package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/casework/internal/services/instance/storage"
)

// SaveSnapshot upserts the snapshot for an instance.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	snapshot.InstanceID = strings.TrimSpace(snapshot.InstanceID)
	if snapshot.InstanceID == "" {
		return storage.ErrInstanceIDRequired
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	state := snapshot.StateJSON
	if state == nil {
		state = []byte("null")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO snapshots (instance_id, instance_type, last_seq, engine_version, state_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(instance_id) DO UPDATE SET
    instance_type = excluded.instance_type,
    last_seq = excluded.last_seq,
    engine_version = excluded.engine_version,
    state_json = excluded.state_json,
    created_at = excluded.created_at`,
		snapshot.InstanceID,
		snapshot.InstanceType,
		int64(snapshot.LastSeq),
		snapshot.EngineVersion,
		state,
		toMillis(snapshot.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for an instance.
func (s *Store) LoadSnapshot(ctx context.Context, instanceID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return storage.Snapshot{}, storage.ErrInstanceIDRequired
	}

	var (
		snapshot  storage.Snapshot
		lastSeq   int64
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT instance_id, instance_type, last_seq, engine_version, state_json, created_at
FROM snapshots WHERE instance_id = ?`, instanceID).Scan(
		&snapshot.InstanceID,
		&snapshot.InstanceType,
		&lastSeq,
		&snapshot.EngineVersion,
		&snapshot.StateJSON,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{}, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snapshot.LastSeq = uint64(lastSeq)
	snapshot.CreatedAt = fromMillis(createdAt)
	return snapshot, nil
}
