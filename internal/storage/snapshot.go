package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SnapshotInfo describes a saved copy of the ledger database.
type SnapshotInfo struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	FileSize      int64          `json:"file_size"`
	SchemaVersion int            `json:"schema_version"`
	IsAuto        bool           `json:"is_auto"`
}

// Snapshot errors.
var (
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrSnapshotCorrupted = errors.New("snapshot integrity check failed")
	ErrSnapshotExists    = errors.New("snapshot already exists")
	ErrInvalidSnapshotID = errors.New("invalid snapshot id")
)

const maxAutoSnapshots = 5

// snapshotTables are counted into each snapshot's metadata.
var snapshotTables = []string{"wallets", "transactions", "categories", "budgets", "sync_log"}

// SnapshotManager stores point-in-time copies of the ledger database next to it.
type SnapshotManager struct {
	store *SQLiteStorage
	dir   string
}

// NewSnapshotManager returns a manager keeping snapshots in a "snapshots"
// directory beside the database file.
func NewSnapshotManager(store *SQLiteStorage) (*SnapshotManager, error) {
	if store.Path() == ":memory:" {
		return nil, fmt.Errorf("%w: in-memory databases cannot be snapshotted", ErrInvalidSnapshotID)
	}
	dir := SnapshotDir(store.Path())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return &SnapshotManager{store: store, dir: dir}, nil
}

// SnapshotDir returns the snapshot directory for a database path.
func SnapshotDir(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "snapshots")
}

func validateSnapshotID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\'";`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSnapshotID, id)
	}
	return nil
}

func snapshotPaths(dir, id string) (dbFile, metaFile string) {
	return filepath.Join(dir, id+".db"), filepath.Join(dir, id+".meta.json")
}

// Create writes a consistent copy of the database. An empty tag gets a
// timestamped name.
func (m *SnapshotManager) Create(ctx context.Context, tag, description string) (*SnapshotInfo, error) {
	return m.create(ctx, tag, description, false)
}

// AutoSnapshot takes a snapshot before a risky operation and prunes old
// automatic snapshots.
func (m *SnapshotManager) AutoSnapshot(ctx context.Context, reason string) (*SnapshotInfo, error) {
	tag := fmt.Sprintf("auto-%s-%s", reason, m.store.now().Format("20060102-150405.000"))
	info, err := m.create(ctx, strings.ReplaceAll(tag, ".", ""), "Automatic snapshot before "+reason, true)
	if err != nil {
		return nil, err
	}
	if err := m.pruneAuto(ctx); err != nil {
		slog.Warn("failed to prune automatic snapshots", "error", err)
	}
	return info, nil
}

func (m *SnapshotManager) create(ctx context.Context, tag, description string, auto bool) (*SnapshotInfo, error) {
	if tag == "" {
		tag = "snapshot-" + m.store.now().Format("2006-01-02-150405")
	}
	if err := validateSnapshotID(tag); err != nil {
		return nil, err
	}

	dbFile, metaFile := snapshotPaths(m.dir, tag)
	if _, err := os.Stat(dbFile); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotExists, tag)
	}

	version, err := m.store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := m.rowCounts(ctx)
	if err != nil {
		return nil, err
	}

	absFile, err := filepath.Abs(dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve snapshot path: %w", err)
	}
	// #nosec G201 - the path is built from a validated id
	if _, err := m.store.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", absFile)); err != nil {
		return nil, classifyError(fmt.Errorf("failed to write snapshot: %w", err))
	}

	stat, err := os.Stat(dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	info := &SnapshotInfo{
		ID:            tag,
		CreatedAt:     m.store.now(),
		Description:   description,
		FileSize:      stat.Size(),
		RowCounts:     counts,
		SchemaVersion: version,
		IsAuto:        auto,
	}
	if err := writeSnapshotMeta(metaFile, info); err != nil {
		if rmErr := os.Remove(dbFile); rmErr != nil {
			slog.Error("failed to remove snapshot after metadata failure", "error", rmErr)
		}
		return nil, fmt.Errorf("failed to save snapshot metadata: %w", err)
	}

	slog.Info("created snapshot", "id", tag, "size", info.FileSize, "auto", auto)
	return info, nil
}

func (m *SnapshotManager) rowCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(snapshotTables))
	for _, table := range snapshotTables {
		var n int
		// #nosec G201 - table names come from a fixed list
		if err := m.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, classifyError(fmt.Errorf("failed to count %s: %w", table, err))
		}
		counts[table] = n
	}
	return counts, nil
}

// List returns every snapshot, newest first. Unreadable metadata is skipped.
func (m *SnapshotManager) List(_ context.Context) ([]SnapshotInfo, error) {
	return listSnapshots(m.dir)
}

func listSnapshots(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	snapshots := make([]SnapshotInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		info, err := readSnapshotMeta(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Debug("skipping unreadable snapshot metadata", "file", entry.Name(), "error", err)
			continue
		}
		snapshots = append(snapshots, *info)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// Delete removes a snapshot and its metadata.
func (m *SnapshotManager) Delete(_ context.Context, id string) error {
	if err := validateSnapshotID(id); err != nil {
		return err
	}
	dbFile, metaFile := snapshotPaths(m.dir, id)
	if err := os.Remove(dbFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
		}
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	if err := os.Remove(metaFile); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove snapshot metadata", "error", err, "path", metaFile)
	}
	return nil
}

func (m *SnapshotManager) pruneAuto(ctx context.Context) error {
	snapshots, err := m.List(ctx)
	if err != nil {
		return err
	}
	kept := 0
	for _, s := range snapshots {
		if !s.IsAuto {
			continue
		}
		kept++
		if kept > maxAutoSnapshots {
			if err := m.Delete(ctx, s.ID); err != nil {
				slog.Debug("failed to delete old automatic snapshot", "id", s.ID, "error", err)
			}
		}
	}
	return nil
}

// RestoreSnapshot replaces the database at dbPath with snapshot id. The
// database must not be open. The previous file is kept until the copy
// succeeds.
func RestoreSnapshot(dbPath, id string) error {
	if err := validateSnapshotID(id); err != nil {
		return err
	}
	dbFile, metaFile := snapshotPaths(SnapshotDir(dbPath), id)

	if _, err := os.Stat(dbFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
		}
		return fmt.Errorf("failed to access snapshot: %w", err)
	}
	info, err := readSnapshotMeta(metaFile)
	if err != nil {
		return fmt.Errorf("failed to load snapshot metadata: %w", err)
	}
	if info.SchemaVersion > ExpectedSchemaVersion {
		return fmt.Errorf("snapshot schema version %d is newer than supported version %d",
			info.SchemaVersion, ExpectedSchemaVersion)
	}
	if err := checkIntegrity(dbFile); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupted, err)
	}

	backup := dbPath + ".restore-backup"
	hadCurrent := true
	if err := copyFile(dbPath, backup); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to back up current database: %w", err)
		}
		hadCurrent = false
	}

	if err := copyFile(dbFile, dbPath); err != nil {
		if hadCurrent {
			if restoreErr := copyFile(backup, dbPath); restoreErr != nil {
				slog.Error("failed to put back database after failed restore", "error", restoreErr)
			}
		}
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}

	// Stale WAL files from the replaced database must not be replayed.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove stale journal file", "path", dbPath+suffix, "error", err)
		}
	}
	if hadCurrent {
		if err := os.Remove(backup); err != nil {
			slog.Error("failed to remove restore backup", "error", err)
		}
	}

	slog.Info("restored snapshot", "id", id, "path", dbPath)
	return nil
}

func checkIntegrity(path string) error {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

func copyFile(src, dst string) error {
	// #nosec G304 - paths are derived from the configured database location
	source, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	tmp := dst + ".tmp"
	// #nosec G304
	dest, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dest, source); err != nil {
		_ = dest.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dest.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func writeSnapshotMeta(path string, info *SnapshotInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readSnapshotMeta(path string) (*SnapshotInfo, error) {
	// #nosec G304 - path is inside the snapshot directory
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var info SnapshotInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
