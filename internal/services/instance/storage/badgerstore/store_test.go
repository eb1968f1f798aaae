package badgerstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
	"github.com/louisbranch/casework/internal/services/instance/storage"
	"github.com/louisbranch/casework/internal/services/instance/storage/integrity"
	"github.com/louisbranch/casework/internal/services/instance/storage/storagetest"
)

func setupTestStore(t *testing.T, dir string, keyring *integrity.Keyring) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := Open(dir, keyring, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerContract(t *testing.T) {
	ring, err := integrity.NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	require.NoError(t, err)
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return setupTestStore(t, "", ring)
	})
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	ctx := context.Background()

	first, err := Open(dir, nil, nil)
	req.NoError(err)
	_, err = first.Append(ctx, "c1", []event.Event{storagetest.NoteEvent("c1", 1), storagetest.NoteEvent("c1", 2)}, nil)
	req.NoError(err)
	req.NoError(first.Close())

	second := setupTestStore(t, dir, nil)
	stored, err := second.Append(ctx, "c1", []event.Event{storagetest.NoteEvent("c1", 3)}, nil)
	req.NoError(err)
	req.Equal(uint64(3), stored[0].Seq)

	events, err := second.ListEvents(ctx, "c1", 0, 0)
	req.NoError(err)
	req.Len(events, 3)
	req.Equal(events[1].ChainHash, events[2].PrevHash)
}

func TestBadgerDetectsEditedRecord(t *testing.T) {
	req := require.New(t)
	store := setupTestStore(t, "", nil)
	ctx := context.Background()

	_, err := store.Append(ctx, "c1", []event.Event{storagetest.NoteEvent("c1", 1)}, nil)
	req.NoError(err)

	err = store.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, eventKey("c1", 1))
		if err != nil {
			return err
		}
		rec.ActorID = "intruder"
		return txn.Set(eventKey("c1", 1), mustJSON(t, rec))
	})
	req.NoError(err)

	_, err = store.ListEvents(ctx, "c1", 0, 10)
	req.True(errors.Is(err, storage.ErrRecordCorrupt), "got %v", err)
}

func TestBadgerUndecodableRecordIsCorrupt(t *testing.T) {
	req := require.New(t)
	store := setupTestStore(t, "", nil)
	ctx := context.Background()

	_, err := store.Append(ctx, "c1", []event.Event{storagetest.NoteEvent("c1", 1)}, nil)
	req.NoError(err)
	req.NoError(store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey("c1", 1), []byte("not json"))
	}))

	_, err = store.ListEvents(ctx, "c1", 0, 10)
	req.ErrorIs(err, storage.ErrRecordCorrupt)
}
