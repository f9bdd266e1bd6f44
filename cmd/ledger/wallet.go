package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wallet",
		Aliases: []string{"wallets"},
		Short:   "Manage wallets",
		Example: `  # Open a checking account with $1,250.00
  ledger wallet create Checking --kind bank --balance 1250

  # Show every wallet, including closed ones
  ledger wallet list --all

  # Thirty days of end-of-day balances
  ledger wallet history Checking --days 30`,
	}

	cmd.AddCommand(createWalletCmd())
	cmd.AddCommand(listWalletsCmd())
	cmd.AddCommand(showWalletCmd())
	cmd.AddCommand(renameWalletCmd())
	cmd.AddCommand(setWalletStatusCmd("deactivate", "Hide a wallet from new activity", false))
	cmd.AddCommand(setWalletStatusCmd("reactivate", "Return an inactive wallet to service", true))
	cmd.AddCommand(walletHistoryCmd())

	return cmd
}

func createWalletCmd() *cobra.Command {
	var kind, balance, color, icon string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opening, err := parseAmount(balance)
			if err != nil {
				return err
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			w, err := l.CreateWallet(ctx, model.NewWallet{
				Name:           args[0],
				Kind:           model.WalletKind(kind),
				InitialBalance: opening,
				Color:          color,
				Icon:           icon,
			})
			if err != nil {
				return err
			}

			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Created wallet %s (%s) with balance %s",
				cli.BoldStyle.Render(w.Name), w.ID, cli.FormatMoney(w.Balance))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(model.WalletKindBank), "bank, cash, savings, credit_card, investment or other")
	cmd.Flags().StringVarP(&balance, "balance", "b", "0", "Opening balance")
	cmd.Flags().StringVar(&color, "color", "", "Display color")
	cmd.Flags().StringVar(&icon, "icon", "", "Display icon")

	return cmd
}

func listWalletsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List wallets and balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			wallets, err := l.ListWallets(ctx, all)
			if err != nil {
				return err
			}
			if len(wallets) == 0 {
				cmd.Println(cli.SubtleStyle.Render("No wallets yet. Create one with: ledger wallet create <name>"))
				return nil
			}

			rows := make([][]string, 0, len(wallets))
			for _, w := range wallets {
				status := string(w.Status)
				if w.IsDirty {
					status += " *"
				}
				rows = append(rows, []string{w.Name, string(w.Kind), cli.FormatMoney(w.Balance), status, w.ID})
			}
			cmd.Println(cli.RenderTable([]string{"NAME", "KIND", "BALANCE", "STATUS", "ID"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include inactive wallets")

	return cmd
}

func showWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <wallet>",
		Short: "Show a wallet and its recent transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			w, err := resolveWallet(ctx, l, args[0])
			if err != nil {
				return err
			}
			txns, err := l.ListTransactions(ctx, model.TransactionFilter{WalletID: w.ID, Limit: 10})
			if err != nil {
				return err
			}

			content := fmt.Sprintf("Kind:     %s\nStatus:   %s\nOpening:  %s\nBalance:  %s\nSynced:   %s",
				w.Kind, w.Status, cli.FormatMoney(w.InitialBalance), cli.FormatMoney(w.Balance), formatOptionalTime(w.LastSynced))
			cmd.Println(cli.RenderBox(w.Name, content))
			if len(txns) > 0 {
				cmd.Println(renderTransactions(txns))
			}
			return nil
		},
	}
}

func renameWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <wallet> <new-name>",
		Short: "Rename a wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			w, err := resolveWallet(ctx, l, args[0])
			if err != nil {
				return err
			}
			name := args[1]
			if err := l.UpdateWallet(ctx, w.ID, model.WalletUpdate{Name: &name}); err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Renamed %s to %s", w.Name, name)))
			return nil
		},
	}
}

func setWalletStatusCmd(use, short string, activate bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <wallet>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			w, err := resolveWallet(ctx, l, args[0])
			if err != nil {
				return err
			}
			if activate {
				err = l.ReactivateWallet(ctx, w.ID)
			} else {
				err = l.DeactivateWallet(ctx, w.ID)
			}
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("%s is now %sactive", w.Name, map[bool]string{true: "", false: "in"}[activate])))
			return nil
		},
	}
}

func walletHistoryCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "history <wallet>",
		Short: "Show end-of-day balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			w, err := resolveWallet(ctx, l, args[0])
			if err != nil {
				return err
			}
			points, err := l.GetBalanceHistory(ctx, w.ID, days)
			if err != nil {
				return err
			}

			rows := make([][]string, len(points))
			for i, p := range points {
				rows[i] = []string{p.Date.Format("2006-01-02"), cli.FormatMoney(p.Balance)}
			}
			cmd.Println(cli.FormatTitle(w.Name))
			cmd.Println(cli.RenderTable([]string{"DATE", "BALANCE"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "n", 30, "Number of days to show")

	return cmd
}
