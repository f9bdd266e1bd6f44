package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
)

func preferenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pref",
		Aliases: []string{"preferences"},
		Short:   "Get and set stored preferences",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			value, err := l.GetPreference(ctx, args[0])
			if err != nil {
				return err
			}
			if value == nil {
				cmd.Println(cli.SubtleStyle.Render("(not set)"))
				return nil
			}
			cmd.Println(*value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			if err := l.SetPreference(ctx, args[0], args[1]); err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(args[0] + " = " + args[1]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			if err := l.DeletePreference(ctx, args[0]); err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess("Removed " + args[0]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all preferences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			prefs, err := l.ListPreferences(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(prefs))
			for k := range prefs {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			rows := make([][]string, len(keys))
			for i, k := range keys {
				rows[i] = []string{k, prefs[k]}
			}
			cmd.Println(cli.RenderTable([]string{"KEY", "VALUE"}, rows))
			return nil
		},
	})

	return cmd
}
