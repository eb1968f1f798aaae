package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

var (
	// ErrInstanceIDRequired indicates a missing instance id.
	ErrInstanceIDRequired = errors.New("instance id is required")
	// ErrRecordCorrupt indicates a stored record that cannot be decoded or
	// fails integrity verification. Recovery treats it as corruption.
	ErrRecordCorrupt = errors.New("journal record corrupt")
	// ErrSnapshotNotFound indicates no snapshot exists for the instance.
	ErrSnapshotNotFound = apperrors.New(apperrors.CodeNotFound, "snapshot not found")
)

// Journal is the append-only event log.
type Journal interface {
	// Append stores events in order, assigning sequence and integrity fields.
	// onPersisted is called once per durable event, in order.
	Append(ctx context.Context, instanceID string, events []event.Event, onPersisted func(event.Event)) ([]event.Event, error)
	// ListEvents returns up to limit events with Seq > afterSeq, in order.
	ListEvents(ctx context.Context, instanceID string, afterSeq uint64, limit int) ([]event.Event, error)
}

// InstanceRef identifies an instance that has a journal.
type InstanceRef struct {
	InstanceType string
	InstanceID   string
	LastSeq      uint64
}

// InstanceLister enumerates instances known to a journal.
type InstanceLister interface {
	ListInstances(ctx context.Context) ([]InstanceRef, error)
}

// Snapshot captures encoded instance state at a sequence.
type Snapshot struct {
	InstanceID    string
	InstanceType  string
	LastSeq       uint64
	EngineVersion string
	StateJSON     []byte
	CreatedAt     time.Time
}

// SnapshotStore keeps the latest snapshot per instance.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	LoadSnapshot(ctx context.Context, instanceID string) (Snapshot, error)
}

// Store is a complete persistence backend.
type Store interface {
	Journal
	SnapshotStore
	InstanceLister
	Close() error
}

const verifyPageSize = 500

// VerifyIntegrity reads the whole journal of an instance, letting the
// backend check every record, and returns the last verified sequence.
func VerifyIntegrity(ctx context.Context, journal Journal, instanceID string) (uint64, error) {
	if journal == nil {
		return 0, errors.New("journal is required")
	}
	var lastSeq uint64
	for {
		events, err := journal.ListEvents(ctx, instanceID, lastSeq, verifyPageSize)
		if err != nil {
			return lastSeq, err
		}
		if len(events) == 0 {
			return lastSeq, nil
		}
		for _, evt := range events {
			if evt.Seq != lastSeq+1 {
				return lastSeq, fmt.Errorf("%w: expected seq %d got %d", ErrRecordCorrupt, lastSeq+1, evt.Seq)
			}
			lastSeq = evt.Seq
		}
	}
}
