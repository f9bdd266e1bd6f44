package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pocket-ledger/internal/cli"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func categoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"categories"},
		Short:   "Manage spending categories",
	}

	cmd.AddCommand(addCategoryCmd())
	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(renameCategoryCmd())

	return cmd
}

func addCategoryCmd() *cobra.Command {
	var icon, color string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			cat, err := l.CreateCategory(ctx, model.NewCategory{
				Name:          args[0],
				Icon:          icon,
				Color:         color,
				IsUserDefined: true,
			})
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Added category %s", cli.BoldStyle.Render(cat.Name))))
			return nil
		},
	}

	cmd.Flags().StringVar(&icon, "icon", "", "Display icon")
	cmd.Flags().StringVar(&color, "color", "", "Display color")

	return cmd
}

func listCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			cats, err := l.ListCategories(ctx)
			if err != nil {
				return err
			}
			if len(cats) == 0 {
				cmd.Println(cli.SubtleStyle.Render("No categories yet. Add one with: ledger category add <name>"))
				return nil
			}

			rows := make([][]string, 0, len(cats))
			for _, c := range cats {
				origin := "user"
				if !c.IsUserDefined {
					origin = cli.SubtleStyle.Render("system")
				}
				rows = append(rows, []string{c.Icon + " " + c.Name, origin, c.ID})
			}
			cmd.Println(cli.RenderTable([]string{"NAME", "ORIGIN", "ID"}, rows))
			return nil
		},
	}
}

func renameCategoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			cat, err := l.GetCategoryByName(ctx, args[0])
			if err != nil {
				return err
			}
			name := args[1]
			updated, err := l.UpdateCategory(ctx, cat.ID, model.CategoryUpdate{Name: &name})
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Renamed %s to %s", cat.Name, updated.Name)))
			return nil
		},
	}
}
