package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial ledger schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS wallets (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					kind TEXT NOT NULL,
					balance TEXT NOT NULL,
					initial_balance TEXT NOT NULL,
					color TEXT NOT NULL DEFAULT '',
					icon TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'active',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					last_synced DATETIME,
					is_dirty INTEGER NOT NULL DEFAULT 1
				)`,
				`CREATE INDEX IF NOT EXISTS idx_wallets_dirty ON wallets(is_dirty)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL COLLATE NOCASE UNIQUE,
					icon TEXT NOT NULL DEFAULT '',
					color TEXT NOT NULL DEFAULT '',
					is_user_defined INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					last_synced DATETIME,
					is_dirty INTEGER NOT NULL DEFAULT 1
				)`,
				`CREATE INDEX IF NOT EXISTS idx_categories_dirty ON categories(is_dirty)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					wallet_id TEXT NOT NULL REFERENCES wallets(id),
					category_id TEXT REFERENCES categories(id),
					kind TEXT NOT NULL,
					amount TEXT NOT NULL,
					fee TEXT NOT NULL DEFAULT '0',
					date DATETIME NOT NULL,
					note TEXT NOT NULL DEFAULT '',
					transfer_group_id TEXT,
					leg TEXT NOT NULL DEFAULT '',
					external_id TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					deleted_at DATETIME,
					last_synced DATETIME,
					is_dirty INTEGER NOT NULL DEFAULT 1
				)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_wallet_date ON transactions(wallet_id, date)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_group ON transactions(transfer_group_id)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_dirty ON transactions(is_dirty)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_external
					ON transactions(wallet_id, external_id) WHERE external_id IS NOT NULL`,

				`CREATE TABLE IF NOT EXISTS user_preferences (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS sync_log (
					id TEXT PRIMARY KEY,
					outcome TEXT NOT NULL,
					uploaded INTEGER NOT NULL DEFAULT 0,
					downloaded INTEGER NOT NULL DEFAULT 0,
					errors TEXT NOT NULL DEFAULT '[]',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sync_log_outcome ON sync_log(outcome, created_at)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add budgets and folded transaction tracking",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS budgets (
					id TEXT PRIMARY KEY,
					category_id TEXT NOT NULL REFERENCES categories(id),
					category_name TEXT NOT NULL,
					month TEXT NOT NULL,
					ceiling TEXT NOT NULL,
					spent TEXT NOT NULL DEFAULT '0',
					remaining TEXT NOT NULL,
					status TEXT NOT NULL,
					warning_threshold INTEGER NOT NULL,
					notes TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					UNIQUE (category_id, month)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_budgets_month ON budgets(month)`,

				`CREATE TABLE IF NOT EXISTS budget_transactions (
					transaction_id TEXT PRIMARY KEY,
					budget_id TEXT NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
					amount TEXT NOT NULL,
					folded_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_budget_transactions_budget ON budget_transactions(budget_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Make sync log append-only",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TRIGGER IF NOT EXISTS sync_log_no_update
				BEFORE UPDATE ON sync_log
				BEGIN
					SELECT RAISE(ABORT, 'sync_log is append-only');
				END`,
				`CREATE TRIGGER IF NOT EXISTS sync_log_no_delete
				BEFORE DELETE ON sync_log
				BEGIN
					SELECT RAISE(ABORT, 'sync_log is append-only');
				END`,
			})
		},
	},
}

// SchemaVersion returns the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, classifyError(fmt.Errorf("failed to get schema version: %w", err))
	}
	return version, nil
}

// Migrate applies all pending database migrations. It is safe to call on
// every start.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if currentVersion > ExpectedSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, ExpectedSchemaVersion)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return classifyError(fmt.Errorf("failed to begin transaction: %w", txErr))
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return classifyError(fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr))
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
