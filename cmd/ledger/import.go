package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/model"
	"github.com/Veraticus/pocket-ledger/internal/ofx"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

func importCmd() *cobra.Command {
	var wallet, category string
	var dryRun, snapshot bool

	cmd := &cobra.Command{
		Use:   "import <files...>",
		Short: "Import transactions from OFX/QFX statements",
		Long: `Import posted transactions from OFX or QFX files exported from your bank
into one wallet. Each file is imported in a single database transaction, and
entries already imported are skipped, so re-importing a statement is safe.`,
		Example: `  # Import a statement into Checking
  ledger import ~/Downloads/chase_march.qfx --wallet Checking

  # Preview without recording anything
  ledger import ~/Downloads/*.qfx --wallet Checking --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			for _, pattern := range args {
				matches, err := filepath.Glob(pattern)
				if err != nil {
					return fmt.Errorf("invalid pattern %s: %w", pattern, err)
				}
				if len(matches) == 0 {
					slog.Warn("No files found matching pattern", "pattern", pattern)
				}
				files = append(files, matches...)
			}
			if len(files) == 0 {
				return fmt.Errorf("no files found to import")
			}

			handler := cli.NewInterruptHandler(cmd.ErrOrStderr())
			ctx := handler.HandleInterrupts(cmd.Context(), "Import")

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			w, err := resolveWallet(ctx, l, wallet)
			if err != nil {
				return err
			}
			categoryID, err := resolveCategory(ctx, l, category)
			if err != nil {
				return err
			}

			if snapshot && !dryRun {
				if err := snapshotBeforeImport(cmd, l.Storage()); err != nil {
					return err
				}
			}

			parser := ofx.NewParser()
			prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			imported, skipped := 0, 0

			for _, path := range files {
				entries, err := parseStatement(cmd, parser, path)
				if err != nil {
					return err
				}

				specs := make([]model.NewTransaction, 0, len(entries))
				for _, e := range entries {
					spec, err := e.NewTransaction(w.ID, categoryID)
					if errors.Is(err, ofx.ErrZeroAmount) {
						slog.Debug("Skipping zero-amount entry", "id", e.ExternalID)
						continue
					}
					if err != nil {
						return err
					}
					specs = append(specs, spec)
				}

				if dryRun {
					rows := make([][]string, 0, len(specs))
					for _, s := range specs {
						effect := s.Amount
						if s.Kind == model.KindExpense {
							effect = effect.Neg()
						}
						rows = append(rows, []string{s.Date.Format("2006-01-02"), cli.FormatSignedMoney(effect), s.Note, s.ExternalID})
					}
					cmd.Println(cli.FormatTitle(filepath.Base(path)))
					cmd.Println(cli.RenderTable([]string{"DATE", "AMOUNT", "PAYEE", "FITID"}, rows))
					continue
				}

				result, err := l.ImportTransactions(ctx, specs, prompter.ImportProgress("Importing "+filepath.Base(path)))
				if err != nil {
					if handler.WasInterrupted() {
						return nil
					}
					return fmt.Errorf("failed to import %s: %w", filepath.Base(path), err)
				}
				imported += len(result.Imported)
				skipped += result.Skipped
			}

			if !dryRun {
				cmd.Println(cli.FormatSuccess(fmt.Sprintf("Imported %s into %s, skipped %d already present",
					cli.Pluralize(imported, "transaction"), w.Name, skipped)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&wallet, "wallet", "w", "", "Wallet to import into (required)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Category for imported entries (default: uncategorized)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview import without saving")
	cmd.Flags().BoolVar(&snapshot, "snapshot", true, "Take an automatic snapshot before importing")
	_ = cmd.MarkFlagRequired("wallet")

	return cmd
}

func parseStatement(cmd *cobra.Command, parser *ofx.Parser, path string) ([]ofx.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	entries, err := parser.ParseFile(cmd.Context(), f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

func snapshotBeforeImport(cmd *cobra.Command, store *storage.SQLiteStorage) error {
	if store.Path() == ":memory:" {
		return nil
	}
	manager, err := storage.NewSnapshotManager(store)
	if err != nil {
		return err
	}
	info, err := manager.AutoSnapshot(cmd.Context(), "before import")
	if err != nil && !errors.Is(err, storage.ErrSnapshotExists) {
		return fmt.Errorf("failed to snapshot before import: %w", err)
	}
	if info != nil {
		slog.Info("Created pre-import snapshot", "id", info.ID)
	}
	return nil
}
