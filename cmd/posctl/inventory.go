package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matthieugras/pos-client/internal/api"
	"github.com/matthieugras/pos-client/internal/ui"
)

func newIngredientsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ingredients",
		Aliases: []string{"ingredient"},
		Short:   "Manage inventory ingredients",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List ingredients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.client.ListIngredients(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{strconv.Itoa(it.ID), it.Name, string(it.Quantity), it.Unit})
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Table([]string{"ID", "Name", "Quantity", "Unit"}, rows))
			return nil
		},
	}

	var in api.IngredientInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an ingredient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateIngredient(in); err != nil {
				return err
			}
			created, err := a.client.CreateIngredient(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added ingredient %d (%s).\n", created.ID, created.Name)
			return nil
		},
	}
	ingredientFlags(add, &in)

	var upd api.IngredientInput
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change the name and unit of an ingredient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := validateIngredient(upd); err != nil {
				return err
			}
			if _, err := a.client.UpdateIngredient(cmd.Context(), id, upd); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated ingredient %d.\n", id)
			return nil
		},
	}
	ingredientFlags(update, &upd)

	del := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete an ingredient",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client.DeleteIngredient(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted ingredient %d.\n", id)
			return nil
		},
	}

	cmd.AddCommand(list, add, update, del)
	return cmd
}

func ingredientFlags(cmd *cobra.Command, in *api.IngredientInput) {
	cmd.Flags().StringVar(&in.Name, "name", "", "Ingredient name")
	cmd.Flags().StringVar(&in.Unit, "unit", "", "Unit of measure (kg, l, pcs, ...)")
}

func validateIngredient(in api.IngredientInput) error {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Unit) == "" {
		return fmt.Errorf("--name and --unit are required")
	}
	return nil
}

func newTransactionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "Inventory transaction log",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List inventory transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			txs, err := a.client.ListTransactions(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(txs))
			for _, tx := range txs {
				ingredient := ""
				if tx.Ingredient != nil {
					ingredient = tx.Ingredient.Name
				}
				rows = append(rows, []string{
					strconv.Itoa(tx.ID), tx.CreatedAt, tx.TransactionType, ingredient, string(tx.Quantity), tx.Note,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Table([]string{"ID", "Date", "Type", "Ingredient", "Quantity", "Note"}, rows))
			return nil
		},
	}

	var in api.TransactionInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a stock movement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.TransactionType = strings.ToUpper(in.TransactionType)
			if err := validateTransaction(in); err != nil {
				return err
			}
			created, err := a.client.CreateTransaction(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded transaction %d.\n", created.ID)
			return nil
		},
	}
	add.Flags().IntVar(&in.IngredientID, "ingredient", 0, "Ingredient ID")
	add.Flags().StringVar(&in.TransactionType, "type", api.TransactionIn, "IN, OUT or ADJ")
	add.Flags().StringVar(&in.Quantity, "quantity", "", "Quantity moved")
	add.Flags().StringVar(&in.Note, "note", "", "Free text note")

	cmd.AddCommand(list, add)
	return cmd
}

func validateTransaction(in api.TransactionInput) error {
	if in.IngredientID <= 0 {
		return fmt.Errorf("--ingredient is required")
	}
	switch in.TransactionType {
	case api.TransactionIn, api.TransactionOut, api.TransactionAdjust:
	default:
		return fmt.Errorf("--type must be IN, OUT or ADJ, got %q", in.TransactionType)
	}
	q, err := strconv.ParseFloat(in.Quantity, 64)
	if err != nil || q <= 0 {
		return fmt.Errorf("--quantity must be a positive number, got %q", in.Quantity)
	}
	return nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
