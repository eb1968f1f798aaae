// Package storagetest holds the behavior every storage backend must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/storage"
)

// Opener returns a fresh, empty store. Cleanup is the caller's job.
type Opener func(t *testing.T) storage.Store

// NoteEvent builds a business event for instance id.
func NoteEvent(id string, n int) event.Event {
	return event.Event{
		InstanceID:   id,
		InstanceType: "case",
		Type:         "case.noted",
		Timestamp:    time.Date(2026, 3, 1, 12, 0, n, 0, time.UTC),
		MessageID:    fmt.Sprintf("msg-%d", n),
		ActorID:      "tester",
		PayloadJSON:  []byte(fmt.Sprintf(`{"text":"note %d"}`, n)),
	}
}

// Run exercises the journal, snapshot and lister contracts.
func Run(t *testing.T, open Opener) {
	t.Run("append assigns contiguous seq and links chain", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		first, err := store.Append(ctx, "c1", []event.Event{NoteEvent("c1", 1), NoteEvent("c1", 2)}, nil)
		if err != nil {
			t.Fatalf("append first batch: %v", err)
		}
		second, err := store.Append(ctx, "c1", []event.Event{NoteEvent("c1", 3)}, nil)
		if err != nil {
			t.Fatalf("append second batch: %v", err)
		}
		if len(first) != 2 || first[0].Seq != 1 || first[1].Seq != 2 || second[0].Seq != 3 {
			t.Fatalf("unexpected seqs: %+v %+v", first, second)
		}
		if first[0].PrevHash != "" {
			t.Fatalf("first prev hash = %q, want empty", first[0].PrevHash)
		}
		if first[1].PrevHash != first[0].ChainHash || second[0].PrevHash != first[1].ChainHash {
			t.Fatal("expected records to be chained")
		}
	})

	t.Run("append reports each persisted event in order", func(t *testing.T) {
		store := open(t)
		var seen []uint64
		_, err := store.Append(context.Background(), "c1", []event.Event{NoteEvent("c1", 1), NoteEvent("c1", 2)}, func(evt event.Event) {
			seen = append(seen, evt.Seq)
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
			t.Fatalf("persisted callbacks = %v, want [1 2]", seen)
		}
	})

	t.Run("sequences are per instance", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		if _, err := store.Append(ctx, "c1", []event.Event{NoteEvent("c1", 1)}, nil); err != nil {
			t.Fatalf("append c1: %v", err)
		}
		stored, err := store.Append(ctx, "c2", []event.Event{NoteEvent("c2", 1)}, nil)
		if err != nil {
			t.Fatalf("append c2: %v", err)
		}
		if stored[0].Seq != 1 {
			t.Fatalf("c2 seq = %d, want 1", stored[0].Seq)
		}
	})

	t.Run("list respects after seq and limit", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		for i := 1; i <= 5; i++ {
			if _, err := store.Append(ctx, "c1", []event.Event{NoteEvent("c1", i)}, nil); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		page, err := store.ListEvents(ctx, "c1", 2, 2)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(page) != 2 || page[0].Seq != 3 || page[1].Seq != 4 {
			t.Fatalf("unexpected page: %+v", page)
		}
		if string(page[0].PayloadJSON) != `{"text":"note 3"}` || page[0].MessageID != "msg-3" {
			t.Fatalf("unexpected record content: %+v", page[0])
		}
		if !page[0].Timestamp.Equal(NoteEvent("c1", 3).Timestamp) {
			t.Fatalf("timestamp = %v", page[0].Timestamp)
		}
		rest, err := store.ListEvents(ctx, "c1", 5, 10)
		if err != nil {
			t.Fatalf("list past end: %v", err)
		}
		if len(rest) != 0 {
			t.Fatalf("expected empty page, got %d", len(rest))
		}
	})

	t.Run("missing instance id is rejected", func(t *testing.T) {
		store := open(t)
		if _, err := store.Append(context.Background(), " ", []event.Event{NoteEvent("", 1)}, nil); !errors.Is(err, storage.ErrInstanceIDRequired) {
			t.Fatalf("append err = %v, want ErrInstanceIDRequired", err)
		}
		if _, err := store.ListEvents(context.Background(), "", 0, 1); !errors.Is(err, storage.ErrInstanceIDRequired) {
			t.Fatalf("list err = %v, want ErrInstanceIDRequired", err)
		}
	})

	t.Run("canceled context is honored", func(t *testing.T) {
		store := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := store.Append(ctx, "c1", []event.Event{NoteEvent("c1", 1)}, nil); !errors.Is(err, context.Canceled) {
			t.Fatalf("append err = %v, want context.Canceled", err)
		}
	})

	t.Run("snapshots round trip", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		if _, err := store.LoadSnapshot(ctx, "c1"); !errors.Is(err, storage.ErrSnapshotNotFound) {
			t.Fatalf("load err = %v, want ErrSnapshotNotFound", err)
		}
		want := storage.Snapshot{
			InstanceID:    "c1",
			InstanceType:  "case",
			LastSeq:       7,
			EngineVersion: "1.2.0",
			StateJSON:     []byte(`{"title":"x"}`),
			CreatedAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := store.SaveSnapshot(ctx, want); err != nil {
			t.Fatalf("save snapshot: %v", err)
		}
		want.LastSeq = 9
		if err := store.SaveSnapshot(ctx, want); err != nil {
			t.Fatalf("replace snapshot: %v", err)
		}
		got, err := store.LoadSnapshot(ctx, "c1")
		if err != nil {
			t.Fatalf("load snapshot: %v", err)
		}
		if got.LastSeq != 9 || got.EngineVersion != "1.2.0" || string(got.StateJSON) != `{"title":"x"}` || got.InstanceType != "case" {
			t.Fatalf("unexpected snapshot: %+v", got)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Fatalf("created at = %v, want %v", got.CreatedAt, want.CreatedAt)
		}
	})

	t.Run("instances are listed with last seq", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		if _, err := store.Append(ctx, "b", []event.Event{NoteEvent("b", 1), NoteEvent("b", 2)}, nil); err != nil {
			t.Fatalf("append b: %v", err)
		}
		if _, err := store.Append(ctx, "a", []event.Event{NoteEvent("a", 1)}, nil); err != nil {
			t.Fatalf("append a: %v", err)
		}
		refs, err := store.ListInstances(ctx)
		if err != nil {
			t.Fatalf("list instances: %v", err)
		}
		if len(refs) != 2 || refs[0].InstanceID != "a" || refs[1].InstanceID != "b" || refs[1].LastSeq != 2 || refs[0].InstanceType != "case" {
			t.Fatalf("unexpected refs: %+v", refs)
		}
	})
}
