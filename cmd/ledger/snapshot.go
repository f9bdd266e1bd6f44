package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snapshots"},
		Short:   "Manage database snapshots",
		Long: `Create, list, restore and delete copies of the ledger database.

Automatic snapshots are taken before migrations and imports; only the most
recent few are kept.`,
		Example: `  # Save the ledger before a risky change
  ledger snapshot create --tag before-cleanup

  # Roll back
  ledger snapshot restore before-cleanup`,
	}

	cmd.AddCommand(createSnapshotCmd())
	cmd.AddCommand(listSnapshotsCmd())
	cmd.AddCommand(restoreSnapshotCmd())
	cmd.AddCommand(deleteSnapshotCmd())

	return cmd
}

func createSnapshotCmd() *cobra.Command {
	var tag, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, err := storage.NewSnapshotManager(store)
			if err != nil {
				return err
			}
			info, err := manager.Create(ctx, tag, description)
			if err != nil {
				return fmt.Errorf("failed to create snapshot: %w", err)
			}

			cmd.Printf("%s Created snapshot %s (%s)\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(info.ID),
				formatFileSize(info.FileSize))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Snapshot name (generated from the time if empty)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the snapshot")

	return cmd
}

func listSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, err := storage.NewSnapshotManager(store)
			if err != nil {
				return err
			}
			snapshots, err := manager.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}
			if len(snapshots) == 0 {
				cmd.Println(cli.SubtleStyle.Render("No snapshots found."))
				return nil
			}

			rows := make([][]string, 0, len(snapshots))
			for _, s := range snapshots {
				kind := "manual"
				if s.IsAuto {
					kind = "auto"
				}
				rows = append(rows, []string{
					cli.InfoStyle.Render(s.ID),
					formatRelativeTime(s.CreatedAt),
					formatFileSize(s.FileSize),
					fmt.Sprintf("%d", s.RowCounts["wallets"]),
					fmt.Sprintf("%d", s.RowCounts["transactions"]),
					cli.SubtleStyle.Render(kind),
					s.Description,
				})
			}
			cmd.Println(cli.RenderTable([]string{"NAME", "CREATED", "SIZE", "WALLETS", "TRANSACTIONS", "TYPE", "DESCRIPTION"}, rows))
			return nil
		},
	}
}

func restoreSnapshotCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Replace the database with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			if !force {
				cmd.Printf("%s This will replace your current database with snapshot %s.\n",
					cli.WarningStyle.Render(cli.WarningIcon), cli.InfoStyle.Render(id))
				ok, err := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()).Confirm(ctx, "Continue?", false)
				if err != nil {
					return err
				}
				if !ok {
					cmd.Println(cli.SubtleStyle.Render("Restore cancelled."))
					return nil
				}
			}

			if err := storage.RestoreSnapshot(cfg.Database.Path, id); err != nil {
				return err
			}

			// Restored snapshots may predate the current schema.
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cmd.Printf("%s Restored snapshot %s\n", cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(id))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

func deleteSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, err := storage.NewSnapshotManager(store)
			if err != nil {
				return err
			}
			if err := manager.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete snapshot: %w", err)
			}
			cmd.Printf("%s Deleted snapshot %s\n", cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(args[0]))
			return nil
		},
	}
}
