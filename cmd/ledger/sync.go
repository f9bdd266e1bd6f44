package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/ledger"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and exchange unsynchronized changes",
		Long: `Every change to a wallet, transaction or category is marked dirty until it
is confirmed synchronized. These commands show what is pending, exchange
changes through a JSON file, and keep an append-only log of sync attempts.`,
		Example: `  # What has changed since the last sync?
  ledger sync status

  # Write pending changes to a file and mark them synchronized
  ledger sync push changes.json

  # Apply changes received from another device
  ledger sync pull remote.json`,
	}

	cmd.AddCommand(syncStatusCmd())
	cmd.AddCommand(syncLogCmd())
	cmd.AddCommand(syncPushCmd())
	cmd.AddCommand(syncPullCmd())

	return cmd
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes and the last successful sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			status, err := l.SyncStatus(ctx)
			if err != nil {
				return err
			}
			content := fmt.Sprintf("Wallets:       %d\nTransactions:  %d\nCategories:    %d\nLast success:  %s",
				status.PendingWallets, status.PendingTransactions, status.PendingCategories,
				formatOptionalTime(status.LastSuccess))
			cmd.Println(cli.RenderBox(cli.SyncIcon+" Pending changes", content))
			return nil
		},
	}
}

func syncLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent sync attempts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			entries, err := l.ListSyncLog(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println(cli.SubtleStyle.Render("No sync attempts recorded."))
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				outcome := string(e.Outcome)
				switch e.Outcome {
				case model.SyncSuccess:
					outcome = cli.SuccessStyle.Render(outcome)
				case model.SyncPartial:
					outcome = cli.WarningStyle.Render(outcome)
				case model.SyncFailure:
					outcome = cli.ErrorStyle.Render(outcome)
				}
				rows = append(rows, []string{
					e.CreatedAt.Local().Format("2006-01-02 15:04"),
					outcome,
					fmt.Sprintf("%d", e.Uploaded),
					fmt.Sprintf("%d", e.Downloaded),
					strings.Join(e.Errors, "; "),
				})
			}
			cmd.Println(cli.RenderTable([]string{"WHEN", "OUTCOME", "UP", "DOWN", "ERRORS"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries (0 for all)")

	return cmd
}

// changeSet is the file format exchanged by push and pull.
type changeSet struct {
	ExportedAt   time.Time           `json:"exported_at"`
	Wallets      []model.Wallet      `json:"wallets"`
	Categories   []model.Category    `json:"categories"`
	Transactions []model.Transaction `json:"transactions"`
}

func syncPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <file>",
		Short: "Write pending changes to a file and mark them synchronized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			pending, err := l.ListUnsynchronized(ctx)
			if err != nil {
				return err
			}
			if pending.IsEmpty() {
				cmd.Println(cli.FormatInfo("Nothing to push"))
				return nil
			}

			pushedAt := time.Now()
			set := changeSet{
				ExportedAt:   pushedAt,
				Wallets:      pending.Wallets,
				Categories:   pending.Categories,
				Transactions: pending.Transactions,
			}
			data, err := json.MarshalIndent(set, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode changes: %w", err)
			}
			if err := os.WriteFile(args[0], data, 0600); err != nil {
				_, _ = l.AppendSyncLog(ctx, model.SyncLogEntry{Outcome: model.SyncFailure, Errors: []string{err.Error()}})
				return fmt.Errorf("failed to write changes: %w", err)
			}

			marked, failures := markPushed(cmd, l, pending, pushedAt)
			outcome := model.SyncSuccess
			if len(failures) > 0 {
				outcome = model.SyncPartial
			}
			if _, err := l.AppendSyncLog(ctx, model.SyncLogEntry{Outcome: outcome, Uploaded: marked, Errors: failures}); err != nil {
				return err
			}

			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Pushed %s to %s", cli.Pluralize(marked, "record"), args[0])))
			return nil
		},
	}
}

func markPushed(cmd *cobra.Command, l *ledger.Ledger, pending *model.UnsyncedSnapshot, pushedAt time.Time) (int, []string) {
	ctx := cmd.Context()
	batches := []struct {
		table model.SyncTable
		ids   []string
	}{
		{model.TableWallets, make([]string, 0, len(pending.Wallets))},
		{model.TableCategories, make([]string, 0, len(pending.Categories))},
		{model.TableTransactions, make([]string, 0, len(pending.Transactions))},
	}
	for _, w := range pending.Wallets {
		batches[0].ids = append(batches[0].ids, w.ID)
	}
	for _, c := range pending.Categories {
		batches[1].ids = append(batches[1].ids, c.ID)
	}
	for _, t := range pending.Transactions {
		batches[2].ids = append(batches[2].ids, t.ID)
	}

	marked := 0
	var failures []string
	for _, b := range batches {
		n, err := l.MarkSynchronized(ctx, b.table, b.ids, pushedAt)
		if err != nil {
			common.LogError(ctx, err, "Failed to mark records synchronized", common.Fields{"table": b.table, "count": len(b.ids)})
			failures = append(failures, fmt.Sprintf("%s: %v", b.table, err))
			continue
		}
		marked += n
	}
	return marked, failures
}

func syncPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <file>",
		Short: "Apply changes received from another device",
		Long: `Apply wallets, categories and transactions from a change file. Records are
written as already synchronized; balances and budgets follow the applied
transactions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read changes: %w", err)
			}
			var set changeSet
			if err := json.Unmarshal(data, &set); err != nil {
				return fmt.Errorf("failed to decode changes: %w", err)
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			applied := 0
			var failures []string
			record := func(kind, id string, err error) {
				if err != nil {
					common.LogError(ctx, err, "Failed to apply remote record", common.Fields{"kind": kind, "id": id})
					failures = append(failures, fmt.Sprintf("%s %s: %v", kind, id, err))
					return
				}
				applied++
			}
			// Wallets and categories first: transactions reference both.
			for i := range set.Wallets {
				_, err := l.RestoreWallet(ctx, &set.Wallets[i])
				record("wallet", set.Wallets[i].ID, err)
			}
			for i := range set.Categories {
				_, err := l.RestoreCategory(ctx, &set.Categories[i])
				record("category", set.Categories[i].ID, err)
			}
			for i := range set.Transactions {
				_, err := l.RestoreTransaction(ctx, &set.Transactions[i])
				record("transaction", set.Transactions[i].ID, err)
			}

			outcome := model.SyncSuccess
			switch {
			case len(failures) > 0 && applied == 0:
				outcome = model.SyncFailure
			case len(failures) > 0:
				outcome = model.SyncPartial
			}
			if _, err := l.AppendSyncLog(ctx, model.SyncLogEntry{Outcome: outcome, Downloaded: applied, Errors: failures}); err != nil {
				return err
			}

			for _, f := range failures {
				cmd.Println(cli.FormatWarning(f))
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Applied %s from %s", cli.Pluralize(applied, "record"), args[0])))
			return nil
		},
	}
}
