package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func transferCmd() *cobra.Command {
	var fee, note, date string

	cmd := &cobra.Command{
		Use:   "transfer <from-wallet> <to-wallet> <amount>",
		Short: "Move money between wallets",
		Long: `Move money between two wallets. Both legs are recorded together, and the
fee, if any, is charged to the source wallet.`,
		Example: `  # Move $40 to savings
  ledger transfer Checking Savings 40

  # Withdraw cash with a $2.50 ATM fee
  ledger transfer Checking Cash 100 --fee 2.50

  # Undo a transfer given either leg
  ledger transfer reverse <transaction-id>`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			feeAmount := decimal.Zero
			if fee != "" {
				if feeAmount, err = parseAmount(fee); err != nil {
					return err
				}
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

			from, err := resolveWallet(ctx, l, args[0])
			if err != nil {
				return err
			}
			to, err := resolveWallet(ctx, l, args[1])
			if err != nil {
				return err
			}

			result, err := l.Transfer(ctx, model.TransferRequest{
				FromWalletID: from.ID,
				ToWalletID:   to.ID,
				Amount:       amount,
				Fee:          feeAmount,
				Date:         when,
				Note:         note,
			})
			if err != nil {
				return err
			}

			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Moved %s from %s to %s", amount.StringFixed(2), from.Name, to.Name)))
			cmd.Println(cli.RenderTable([]string{"WALLET", "BALANCE"}, [][]string{
				{from.Name, cli.FormatMoney(result.FromBalance)},
				{to.Name, cli.FormatMoney(result.ToBalance)},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&fee, "fee", "", "Fee charged to the source wallet")
	cmd.Flags().StringVarP(&note, "note", "m", "", "Free-form note")
	cmd.Flags().StringVarP(&date, "date", "d", "", "Date as YYYY-MM-DD (default: now)")

	cmd.AddCommand(reverseTransferCmd())

	return cmd
}

func reverseTransferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reverse <transaction-id>",
		Short: "Undo a transfer given either of its legs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			removed, err := l.ReverseTransfer(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess("Reversed transfer (" + cli.Pluralize(len(removed), "leg") + " removed)"))
			return nil
		},
	}
}
