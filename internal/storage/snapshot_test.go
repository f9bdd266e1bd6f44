package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pocket-ledger/internal/model"
)

func TestSnapshotManager_RejectsMemoryDatabase(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = NewSnapshotManager(store)
	assert.Error(t, err)
}

func TestSnapshotManager_CreateListDelete(t *testing.T) {
	store, clock := createTestStorage(t)
	ctx := context.Background()
	mustWallet(t, store, "Checking", model.WalletKindBank, "100")
	mustCategory(t, store, "Rent")

	mgr, err := NewSnapshotManager(store)
	require.NoError(t, err)

	info, err := mgr.Create(ctx, "month-end", "before closing March")
	require.NoError(t, err)
	assert.Equal(t, "month-end", info.ID)
	assert.Equal(t, ExpectedSchemaVersion, info.SchemaVersion)
	assert.Equal(t, 1, info.RowCounts["wallets"])
	assert.Equal(t, 1, info.RowCounts["categories"])
	assert.Equal(t, 0, info.RowCounts["transactions"])
	assert.Positive(t, info.FileSize)
	assert.False(t, info.IsAuto)

	_, err = mgr.Create(ctx, "month-end", "")
	assert.ErrorIs(t, err, ErrSnapshotExists)

	_, err = mgr.Create(ctx, "../escape", "")
	assert.ErrorIs(t, err, ErrInvalidSnapshotID)

	clock.Advance(time.Minute)
	untagged, err := mgr.Create(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "snapshot-2025-03-15-120100", untagged.ID)

	list, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, untagged.ID, list[0].ID)
	assert.Equal(t, "month-end", list[1].ID)

	require.NoError(t, mgr.Delete(ctx, "month-end"))
	assert.ErrorIs(t, mgr.Delete(ctx, "month-end"), ErrSnapshotNotFound)

	list, err = mgr.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSnapshotManager_AutoSnapshotPrunes(t *testing.T) {
	store, clock := createTestStorage(t)
	ctx := context.Background()

	mgr, err := NewSnapshotManager(store)
	require.NoError(t, err)

	manual, err := mgr.Create(ctx, "keep-me", "")
	require.NoError(t, err)

	for i := 0; i < maxAutoSnapshots+2; i++ {
		clock.Advance(time.Second)
		_, err := mgr.AutoSnapshot(ctx, "migrate")
		require.NoError(t, err)
	}

	list, err := mgr.List(ctx)
	require.NoError(t, err)

	auto := 0
	manualKept := false
	for _, s := range list {
		if s.IsAuto {
			auto++
		}
		if s.ID == manual.ID {
			manualKept = true
		}
	}
	assert.Equal(t, maxAutoSnapshots, auto)
	assert.True(t, manualKept)
}

func TestRestoreSnapshot(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	ctx := context.Background()

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	mustWallet(t, store, "Before", model.WalletKindBank, "10")
	mgr, err := NewSnapshotManager(store)
	require.NoError(t, err)
	_, err = mgr.Create(ctx, "checkpoint", "")
	require.NoError(t, err)
	mustWallet(t, store, "After", model.WalletKindBank, "20")
	require.NoError(t, store.Close())

	require.NoError(t, RestoreSnapshot(dbPath, "checkpoint"))

	_, err = os.Stat(dbPath + ".restore-backup")
	assert.True(t, os.IsNotExist(err), "backup is removed after a successful restore")

	reopened, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.NoError(t, reopened.Migrate(ctx))

	wallets, err := reopened.ListWallets(ctx, true)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, "Before", wallets[0].Name)
}

func TestRestoreSnapshot_Errors(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")

	assert.ErrorIs(t, RestoreSnapshot(dbPath, "missing"), ErrSnapshotNotFound)
	assert.ErrorIs(t, RestoreSnapshot(dbPath, "a/b"), ErrInvalidSnapshotID)

	snapDir := SnapshotDir(dbPath)
	require.NoError(t, os.MkdirAll(snapDir, 0750))
	dbFile, metaFile := snapshotPaths(snapDir, "garbage")
	require.NoError(t, os.WriteFile(dbFile, []byte(strings.Repeat("not a database ", 512)), 0600))
	require.NoError(t, writeSnapshotMeta(metaFile, &SnapshotInfo{ID: "garbage", SchemaVersion: ExpectedSchemaVersion}))

	err := RestoreSnapshot(dbPath, "garbage")
	assert.ErrorIs(t, err, ErrSnapshotCorrupted)

	require.NoError(t, writeSnapshotMeta(metaFile, &SnapshotInfo{ID: "garbage", SchemaVersion: ExpectedSchemaVersion + 1}))
	err = RestoreSnapshot(dbPath, "garbage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}
