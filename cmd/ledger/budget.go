package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func budgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "budget",
		Aliases: []string{"budgets"},
		Short:   "Manage monthly budgets",
		Example: `  # Budget $400 for groceries this month
  ledger budget set Groceries 400

  # How is March going?
  ledger budget summary --month 2025-03

  # Carry March's budgets into April
  ledger budget copy 2025-03 2025-04

  # Apply a template file of budgets
  ledger budget template budgets.yaml`,
	}

	cmd.AddCommand(setBudgetCmd())
	cmd.AddCommand(listBudgetsCmd())
	cmd.AddCommand(updateBudgetCmd())
	cmd.AddCommand(deleteBudgetCmd())
	cmd.AddCommand(summaryCmd())
	cmd.AddCommand(copyBudgetsCmd())
	cmd.AddCommand(templateCmd())

	return cmd
}

func setBudgetCmd() *cobra.Command {
	var month, notes string
	var threshold int

	cmd := &cobra.Command{
		Use:   "set <category> <ceiling>",
		Short: "Create a budget for a category and month",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ceiling, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			m, err := parseMonth(month)
			if err != nil {
				return err
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			cat, err := l.GetCategoryByName(ctx, args[0])
			if err != nil {
				return err
			}
			b, err := l.CreateBudgetStrict(ctx, model.NewBudget{
				CategoryID:       cat.ID,
				Month:            m,
				Ceiling:          ceiling,
				Notes:            notes,
				WarningThreshold: threshold,
			})
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Budgeted %s for %s in %s (already spent %s)",
				b.Ceiling.StringFixed(2), b.CategoryName, b.Month, b.Spent.StringFixed(2))))
			return nil
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "Month as YYYY-MM (default: current month)")
	cmd.Flags().StringVar(&notes, "notes", "", "Notes")
	cmd.Flags().IntVar(&threshold, "warn-at", 0, "Warning threshold percentage (default from config)")

	return cmd
}

func listBudgetsCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List budgets for a month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, err := parseMonth(month)
			if err != nil {
				return err
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			budgets, err := l.ListBudgets(ctx, m)
			if err != nil {
				return err
			}
			if len(budgets) == 0 {
				cmd.Println(cli.SubtleStyle.Render("No budgets for " + m.String()))
				return nil
			}

			rows := make([][]string, 0, len(budgets))
			for _, b := range budgets {
				rows = append(rows, []string{
					b.CategoryName,
					cli.FormatMoney(b.Ceiling),
					cli.FormatMoney(b.Spent),
					cli.FormatMoney(b.Remaining),
					cli.FormatBudgetStatus(b.Status),
					b.ID,
				})
			}
			cmd.Println(cli.FormatTitle("Budgets for " + m.String()))
			cmd.Println(cli.RenderTable([]string{"CATEGORY", "CEILING", "SPENT", "REMAINING", "STATUS", "ID"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "Month as YYYY-MM (default: current month)")

	return cmd
}

func updateBudgetCmd() *cobra.Command {
	var ceiling, notes string
	var threshold int

	cmd := &cobra.Command{
		Use:   "update <budget-id>",
		Short: "Change a budget's ceiling, threshold or notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var update model.BudgetUpdate
			if cmd.Flags().Changed("ceiling") {
				c, err := parseAmount(ceiling)
				if err != nil {
					return err
				}
				update.Ceiling = &c
			}
			if cmd.Flags().Changed("warn-at") {
				update.WarningThreshold = &threshold
			}
			if cmd.Flags().Changed("notes") {
				update.Notes = &notes
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			b, err := l.UpdateBudget(ctx, args[0], update)
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("%s %s: %s of %s spent, %s",
				b.CategoryName, b.Month, b.Spent.StringFixed(2), b.Ceiling.StringFixed(2), cli.FormatBudgetStatus(b.Status))))
			return nil
		},
	}

	cmd.Flags().StringVar(&ceiling, "ceiling", "", "New ceiling")
	cmd.Flags().IntVar(&threshold, "warn-at", 0, "New warning threshold percentage")
	cmd.Flags().StringVar(&notes, "notes", "", "New notes")

	return cmd
}

func deleteBudgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <budget-id>",
		Short: "Delete a budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			if err := l.DeleteBudget(ctx, args[0]); err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess("Deleted budget " + args[0]))
			return nil
		},
	}
}

func summaryCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize spending against budgets for a month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, err := parseMonth(month)
			if err != nil {
				return err
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			s, err := l.MonthlySummary(ctx, m)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(s.Categories))
			for _, c := range s.Categories {
				rows = append(rows, []string{
					c.CategoryName,
					cli.FormatMoney(c.Ceiling),
					cli.FormatMoney(c.Spent),
					cli.FormatMoney(c.Remaining),
					cli.FormatBudgetStatus(c.Status),
				})
			}
			rows = append(rows, []string{
				cli.BoldStyle.Render("Total"),
				cli.FormatMoney(s.CeilingTotal),
				cli.FormatMoney(s.SpentTotal),
				cli.FormatMoney(s.RemainingTotal),
				cli.FormatBudgetStatus(s.Status),
			})

			cmd.Println(cli.TitleStyle.Render(cli.ChartIcon + " " + m.String()))
			cmd.Println(cli.RenderTable([]string{"CATEGORY", "CEILING", "SPENT", "REMAINING", "STATUS"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "Month as YYYY-MM (default: current month)")

	return cmd
}

func copyBudgetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <from-month> <to-month>",
		Short: "Copy a month's budgets into another month",
		Long: `Copy every budget in one month into another. Budgets that already exist in
the target month are left alone.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := model.ParseMonth(args[0])
			if err != nil {
				return err
			}
			to, err := model.ParseMonth(args[1])
			if err != nil {
				return err
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			result, err := l.CopyToMonth(ctx, from, to)
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Copied %s into %s, skipped %d already present",
				cli.Pluralize(len(result.Created), "budget"), to, result.Skipped)))
			return nil
		},
	}
}

// templateFile is the on-disk shape of a budget template.
type templateFile struct {
	Budgets []struct {
		Category  string `mapstructure:"category"`
		Month     string `mapstructure:"month"`
		Ceiling   string `mapstructure:"ceiling"`
		Notes     string `mapstructure:"notes"`
		Threshold int    `mapstructure:"warn_at"`
	} `mapstructure:"budgets"`
}

func templateCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "template <file>",
		Short: "Create budgets from a YAML template",
		Long: `Create budgets from a YAML file. Entries without a month use --month.
Missing categories are created. Budgets that already exist are skipped.

  budgets:
    - category: Groceries
      ceiling: "400"
    - category: Rent
      ceiling: "1800"
      warn_at: 95`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			defaultMonth, err := parseMonth(month)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open template: %w", err)
			}
			defer func() { _ = f.Close() }()

			v := viper.New()
			v.SetConfigType("yaml")
			if err := v.ReadConfig(f); err != nil {
				return fmt.Errorf("failed to parse template: %w", err)
			}
			var tmpl templateFile
			if err := v.Unmarshal(&tmpl); err != nil {
				return fmt.Errorf("failed to parse template: %w", err)
			}

			entries := make([]model.TemplateEntry, 0, len(tmpl.Budgets))
			for i, b := range tmpl.Budgets {
				m := defaultMonth
				if b.Month != "" {
					if m, err = model.ParseMonth(b.Month); err != nil {
						return fmt.Errorf("entry %d: %w", i+1, err)
					}
				}
				ceiling, err := decimal.NewFromString(b.Ceiling)
				if err != nil {
					return fmt.Errorf("entry %d: invalid ceiling %q: %w", i+1, b.Ceiling, err)
				}
				entries = append(entries, model.TemplateEntry{
					CategoryName:     b.Category,
					Month:            m,
					Ceiling:          ceiling,
					Notes:            b.Notes,
					WarningThreshold: b.Threshold,
				})
			}

			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			result, err := l.ApplyTemplate(ctx, entries)
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Created %s, skipped %d already present",
				cli.Pluralize(len(result.Created), "budget"), result.Skipped)))
			return nil
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "Month for entries without one (default: current month)")

	return cmd
}
