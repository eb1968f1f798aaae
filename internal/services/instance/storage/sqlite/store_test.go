package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/storage"
	"github.com/louisbranch/casework/internal/services/instance/storage/integrity"
	"github.com/louisbranch/casework/internal/services/instance/storage/storagetest"
)

func openTestStore(t *testing.T, path string, keyring *integrity.Keyring) *Store {
	t.Helper()
	store, err := Open(context.Background(), path, keyring)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testKeyring(t *testing.T) *integrity.Keyring {
	t.Helper()
	ring, err := integrity.NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return ring
}

func TestSQLiteContract(t *testing.T) {
	ring := testKeyring(t)
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTestStore(t, filepath.Join(t.TempDir(), "journal.db"), ring)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReopenKeepsJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ring := testKeyring(t)

	first, err := Open(context.Background(), path, ring)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := first.Append(context.Background(), "c1", []event.Event{storagetest.NoteEvent("c1", 1)}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openTestStore(t, path, ring)
	stored, err := second.Append(context.Background(), "c1", []event.Event{storagetest.NoteEvent("c1", 2)}, nil)
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if stored[0].Seq != 2 {
		t.Fatalf("seq after reopen = %d, want 2", stored[0].Seq)
	}
	events, err := second.ListEvents(context.Background(), "c1", 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestListEventsDetectsEditedRecord(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "journal.db"), testKeyring(t))
	ctx := context.Background()
	if _, err := store.Append(ctx, "c1", []event.Event{storagetest.NoteEvent("c1", 1), storagetest.NoteEvent("c1", 2)}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.sqlDB.ExecContext(ctx, `UPDATE events SET payload_json = ? WHERE instance_id = ? AND seq = 2`, []byte(`{"text":"forged"}`), "c1"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := store.ListEvents(ctx, "c1", 0, 10); !errors.Is(err, storage.ErrRecordCorrupt) {
		t.Fatalf("list err = %v, want ErrRecordCorrupt", err)
	}
}

func TestListEventsRejectsForeignSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	writer, err := Open(ctx, path, testKeyring(t))
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := writer.Append(ctx, "c1", []event.Event{storagetest.NoteEvent("c1", 1)}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	other, err := integrity.NewKeyring(map[string][]byte{"v1": []byte("different")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	reader := openTestStore(t, path, other)
	if _, err := reader.ListEvents(ctx, "c1", 0, 10); !errors.Is(err, storage.ErrRecordCorrupt) {
		t.Fatalf("list err = %v, want ErrRecordCorrupt", err)
	}
}
