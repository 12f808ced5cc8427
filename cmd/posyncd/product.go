package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/types"
)

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Manage products in the local cache",
}

var productCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a product",
	RunE:  runProductCreate,
}

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached products (provisional stock folded in)",
	RunE:  runProductList,
}

var (
	productName     string
	productCategory string
	productPrice    int64
	productStock    int
)

func init() {
	productCreateCmd.Flags().StringVar(&productName, "name", "", "product name (required)")
	productCreateCmd.Flags().StringVar(&productCategory, "category", "", "product category")
	productCreateCmd.Flags().Int64Var(&productPrice, "price", 0, "unit price in minor currency units")
	productCreateCmd.Flags().IntVar(&productStock, "stock", 0, "initial stock count")

	productCmd.AddCommand(productCreateCmd, productListCmd)
	rootCmd.AddCommand(productCmd)
}

func runProductCreate(cmd *cobra.Command, args []string) error {
	if productName == "" {
		return fmt.Errorf("--name is required")
	}
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	id := clock.NewOpID()
	data := map[string]any{
		"name":     productName,
		"category": productCategory,
		"price":    productPrice,
		"stock":    productStock,
		"isActive": true,
	}
	op, err := e.API().CreateEntity(context.Background(), types.CollectionProducts, id, data)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	fmt.Printf("created product %s (op %s)\n", id, op.ID)
	return nil
}

func runProductList(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	views, err := e.API().GetProducts()
	if err != nil {
		return err
	}
	for _, v := range views {
		provisionalMark := ""
		if v.Provisional {
			provisionalMark = " (provisional)"
		}
		fmt.Printf("%-12s %-20s stock=%-6d price=%-8d%s\n", v.ID, v.Name, v.Stock, v.Price, provisionalMark)
	}
	return nil
}
