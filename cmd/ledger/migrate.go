package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

An automatic snapshot is taken before an existing database is upgraded.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current schema version without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	ctx := cmd.Context()
	dbPath := cfg.Database.Path

	_, statErr := os.Stat(dbPath)
	existed := statErr == nil

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if status {
		cmd.Println(cli.FormatTitle("Database Migration Status"))
		cmd.Printf("Database:        %s\n", dbPath)
		cmd.Printf("Current version: %d\n", current)
		cmd.Printf("Latest version:  %d\n", storage.ExpectedSchemaVersion)
		return nil
	}

	if current == storage.ExpectedSchemaVersion {
		cmd.Println(cli.FormatSuccess("Database is already up to date"))
		return nil
	}

	if existed && current > 0 {
		manager, err := storage.NewSnapshotManager(store)
		if err != nil {
			return err
		}
		info, err := manager.AutoSnapshot(ctx, fmt.Sprintf("before migration from v%d", current))
		if err != nil && !errors.Is(err, storage.ErrSnapshotExists) {
			return fmt.Errorf("failed to snapshot before migration: %w", err)
		}
		if info != nil {
			slog.Info("Created pre-migration snapshot", "id", info.ID)
		}
	}

	slog.Info("Running database migrations", "database", dbPath, "from", current, "to", storage.ExpectedSchemaVersion)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	cmd.Println(cli.FormatSuccess(fmt.Sprintf("Database migrated to version %d", storage.ExpectedSchemaVersion)))
	return nil
}
