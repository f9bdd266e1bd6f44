package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func transactionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "txn",
		Aliases: []string{"transaction", "transactions"},
		Short:   "Record, list and delete transactions",
		Example: `  # Spend $42.10 on groceries today
  ledger txn expense Checking 42.10 --category Groceries --note "Farmers market"

  # Record a paycheck on a specific day
  ledger txn income Checking 2500 --date 2025-03-01

  # Show the latest 20 transactions for a wallet
  ledger txn list --wallet Checking --limit 20`,
	}

	cmd.AddCommand(recordTransactionCmd(model.KindExpense))
	cmd.AddCommand(recordTransactionCmd(model.KindIncome))
	cmd.AddCommand(listTransactionsCmd())
	cmd.AddCommand(deleteTransactionCmd())

	return cmd
}

func recordTransactionCmd(kind model.TransactionKind) *cobra.Command {
	var category, note, date string

	cmd := &cobra.Command{
		Use:   string(kind) + " <wallet> <amount>",
		Short: fmt.Sprintf("Record %s", map[model.TransactionKind]string{model.KindExpense: "an expense", model.KindIncome: "income"}[kind]),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			when, err := parseDate(date)
			if err != nil {
				return err
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			w, err := resolveWallet(ctx, l, args[0])
			if err != nil {
				return err
			}
			categoryID, err := resolveCategory(ctx, l, category)
			if err != nil {
				return err
			}

			txn, err := l.RecordTransaction(ctx, model.NewTransaction{
				WalletID:   w.ID,
				Kind:       kind,
				Amount:     amount,
				CategoryID: categoryID,
				Date:       when,
				Note:       note,
			})
			if err != nil {
				return err
			}

			updated, err := l.GetWallet(ctx, w.ID)
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Recorded %s %s on %s (%s)",
				kind, cli.FormatSignedMoney(txn.SignedEffect()), w.Name, txn.ID)))
			cmd.Println(cli.SubtleStyle.Render("Balance: " + updated.Balance.StringFixed(2)))
			return nil
		},
	}

	if kind == model.KindExpense {
		cmd.Flags().StringVarP(&category, "category", "c", "", "Category name (unbudgeted expenses go to Miscellaneous)")
	} else {
		cmd.Flags().StringVarP(&category, "category", "c", "", "Category name")
	}
	cmd.Flags().StringVarP(&note, "note", "m", "", "Free-form note")
	cmd.Flags().StringVarP(&date, "date", "d", "", "Date as YYYY-MM-DD (default: now)")

	return cmd
}

func listTransactionsCmd() *cobra.Command {
	var wallet string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			filter := model.TransactionFilter{Limit: limit, Offset: offset}
			if wallet != "" {
				w, err := resolveWallet(ctx, l, wallet)
				if err != nil {
					return err
				}
				filter.WalletID = w.ID
			}

			txns, err := l.ListTransactions(ctx, filter)
			if err != nil {
				return err
			}
			if len(txns) == 0 {
				cmd.Println(cli.SubtleStyle.Render("No transactions found."))
				return nil
			}
			cmd.Println(renderTransactions(txns))
			return nil
		},
	}

	cmd.Flags().StringVarP(&wallet, "wallet", "w", "", "Only this wallet")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")

	return cmd
}

func deleteTransactionCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <transaction-id>",
		Short: "Delete a transaction and reverse its effect",
		Long: `Delete a transaction, reverse its effect on the wallet balance and remove it
from its budget. Deleting either leg of a transfer deletes both.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			txn, err := l.GetTransaction(ctx, args[0])
			if err != nil {
				return err
			}
			if !yes {
				ok, err := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()).Confirm(ctx,
					fmt.Sprintf("Delete %s of %s?", txn.Kind, txn.Amount.StringFixed(2)), false)
				if err != nil {
					return err
				}
				if !ok {
					cmd.Println(cli.FormatInfo("Nothing deleted"))
					return nil
				}
			}

			removed, err := l.DeleteTransaction(ctx, txn.ID)
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess("Deleted " + cli.Pluralize(len(removed), "transaction")))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func renderTransactions(txns []model.Transaction) string {
	rows := make([][]string, 0, len(txns))
	for i := range txns {
		t := &txns[i]
		category := t.CategoryName
		if t.Kind == model.KindTransfer {
			category = "transfer (" + string(t.Leg) + ")"
		}
		rows = append(rows, []string{
			t.Date.Local().Format("2006-01-02"),
			string(t.Kind),
			cli.FormatSignedMoney(t.SignedEffect()),
			category,
			t.Note,
			t.ID,
		})
	}
	return cli.RenderTable([]string{"DATE", "KIND", "AMOUNT", "CATEGORY", "NOTE", "ID"}, rows)
}
