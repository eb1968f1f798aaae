// Package replay rebuilds instance state by reading its journal in pages.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

const defaultPageSize = 200

var (
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New("event store is required")
	// ErrApplyRequired indicates a missing apply function.
	ErrApplyRequired = errors.New("apply function is required")
	// ErrInstanceIDRequired indicates a missing instance id.
	ErrInstanceIDRequired = errors.New("instance id is required")
	// ErrSequenceGap indicates the journal skipped or repeated a sequence number.
	ErrSequenceGap = errors.New("event sequence gap")
)

// EventStore lists events for replay.
type EventStore interface {
	ListEvents(ctx context.Context, instanceID string, afterSeq uint64, limit int) ([]event.Event, error)
}

// ApplyFunc applies one historical event.
type ApplyFunc func(evt event.Event) error

// ApplyError wraps a failure returned by the apply function, as opposed to a
// failure reading the journal.
type ApplyError struct {
	Seq uint64
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply event seq %d: %v", e.Seq, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Options configures replay behavior.
type Options struct {
	AfterSeq uint64
	PageSize int
}

// Result captures replay outcomes.
type Result struct {
	LastSeq uint64
	Applied int
}

// Replay applies events after options.AfterSeq in order. It stops at the first
// error: a journal read error is returned wrapped, a sequence gap returns
// ErrSequenceGap, and an apply failure returns *ApplyError.
func Replay(ctx context.Context, store EventStore, instanceID string, apply ApplyFunc, options Options) (Result, error) {
	if store == nil {
		return Result{}, ErrEventStoreRequired
	}
	if apply == nil {
		return Result{}, ErrApplyRequired
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return Result{}, ErrInstanceIDRequired
	}

	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{LastSeq: options.AfterSeq}
	for {
		events, err := store.ListEvents(ctx, instanceID, result.LastSeq, pageSize)
		if err != nil {
			return result, fmt.Errorf("list events after %d: %w", result.LastSeq, err)
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			expectedSeq := result.LastSeq + 1
			if evt.Seq != expectedSeq {
				return result, fmt.Errorf("%w: expected %d got %d", ErrSequenceGap, expectedSeq, evt.Seq)
			}
			if err := apply(evt); err != nil {
				return result, &ApplyError{Seq: evt.Seq, Err: err}
			}
			result.LastSeq = evt.Seq
			result.Applied++
		}
		if len(events) < pageSize {
			return result, nil
		}
	}
}
