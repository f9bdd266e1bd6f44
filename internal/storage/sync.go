package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/pocket-ledger/internal/model"
)

// ListUnsynchronized returns every dirty wallet, transaction and category,
// including transaction tombstones.
func (q *queries) ListUnsynchronized(ctx context.Context) (*model.UnsyncedSnapshot, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	wallets, err := q.queryWallets(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE is_dirty = 1 ORDER BY updated_at, id`)
	if err != nil {
		return nil, err
	}

	transactions, err := q.queryTransactions(ctx,
		`SELECT `+transactionColumns+transactionFrom+` WHERE t.is_dirty = 1 ORDER BY t.updated_at, t.rowid`)
	if err != nil {
		return nil, err
	}

	rows, err := q.q.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE is_dirty = 1 ORDER BY updated_at, id`)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query dirty categories: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	return &model.UnsyncedSnapshot{
		Wallets:      wallets,
		Transactions: transactions,
		Categories:   categories,
	}, nil
}

// MarkSynchronized clears the dirty flag on the given rows and stamps
// last_synced. Rows changed after syncedAt stay dirty, and marking an already
// clean row is a no-op, so repeated calls are harmless. It returns the number
// of rows cleared.
func (q *queries) MarkSynchronized(ctx context.Context, table model.SyncTable, ids []string, syncedAt time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if !table.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	syncedAt = syncedAt.UTC()
	args := make([]any, 0, len(ids)+2)
	args = append(args, syncedAt, syncedAt)
	for _, id := range ids {
		args = append(args, id)
	}

	// table is one of three constants checked above.
	query := fmt.Sprintf(`
		UPDATE %s SET is_dirty = 0, last_synced = ?
		WHERE is_dirty = 1 AND updated_at <= ? AND id IN (%s)`,
		table, placeholders(len(ids)))

	result, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classifyError(fmt.Errorf("failed to mark %s synchronized: %w", table, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check mark result: %w", err)
	}

	slog.Debug("marked records synchronized", "table", table, "requested", len(ids), "cleared", affected)
	return int(affected), nil
}

// CountDirty returns how many rows in table await synchronization.
func (q *queries) CountDirty(ctx context.Context, table model.SyncTable) (int, error) {
	if !table.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	var n int
	err := q.q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE is_dirty = 1`, table)).Scan(&n)
	if err != nil {
		return 0, classifyError(fmt.Errorf("failed to count dirty %s: %w", table, err))
	}
	return n, nil
}

// AppendSyncLog records a synchronization attempt. Entries can never be
// updated or deleted afterwards.
func (q *queries) AppendSyncLog(ctx context.Context, entry model.SyncLogEntry) (*model.SyncLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	switch entry.Outcome {
	case model.SyncSuccess, model.SyncPartial, model.SyncFailure:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidSyncLog, entry.Outcome)
	}
	if entry.Uploaded < 0 || entry.Downloaded < 0 {
		return nil, fmt.Errorf("%w: counts cannot be negative", ErrInvalidSyncLog)
	}

	if entry.Errors == nil {
		entry.Errors = []string{}
	}
	encoded, err := json.Marshal(entry.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync errors: %w", err)
	}

	entry.ID = q.NewID()
	entry.CreatedAt = q.Now()

	if _, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_log (id, outcome, uploaded, downloaded, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Outcome, entry.Uploaded, entry.Downloaded, string(encoded), entry.CreatedAt,
	); err != nil {
		return nil, classifyError(fmt.Errorf("failed to append sync log: %w", err))
	}

	slog.Info("recorded sync attempt",
		"outcome", entry.Outcome, "uploaded", entry.Uploaded, "downloaded", entry.Downloaded, "errors", len(entry.Errors))
	return &entry, nil
}

// ListSyncLog returns the most recent sync log entries, newest first.
func (q *queries) ListSyncLog(ctx context.Context, limit int) ([]model.SyncLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := q.q.QueryContext(ctx, `
		SELECT id, outcome, uploaded, downloaded, errors, created_at
		FROM sync_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query sync log: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var entries []model.SyncLogEntry
	for rows.Next() {
		var e model.SyncLogEntry
		var encoded string
		if err := rows.Scan(&e.ID, &e.Outcome, &e.Uploaded, &e.Downloaded, &encoded, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &e.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode sync errors for %s: %w", e.ID, err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastSuccessfulSync returns when the last successful sync was recorded, or
// nil if there has never been one.
func (q *queries) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var last time.Time
	err := q.q.QueryRowContext(ctx, `
		SELECT created_at FROM sync_log
		WHERE outcome = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, model.SyncSuccess).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query last sync: %w", err))
	}
	last = last.UTC()
	return &last, nil
}

// SyncStatus counts pending rows per table and reports the last success.
func (q *queries) SyncStatus(ctx context.Context) (*model.SyncStatus, error) {
	var status model.SyncStatus
	var err error
	if status.PendingWallets, err = q.CountDirty(ctx, model.TableWallets); err != nil {
		return nil, err
	}
	if status.PendingTransactions, err = q.CountDirty(ctx, model.TableTransactions); err != nil {
		return nil, err
	}
	if status.PendingCategories, err = q.CountDirty(ctx, model.TableCategories); err != nil {
		return nil, err
	}
	if status.LastSuccess, err = q.LastSuccessfulSync(ctx); err != nil {
		return nil, err
	}
	return &status, nil
}
