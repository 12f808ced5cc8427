package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/bundle"
	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/types"
)

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Record a product sale to a player",
	RunE:  runSale,
}

var (
	salePlayerID  string
	saleProductID string
	saleUserName  string
	saleProduct   string
	saleQuantity  int
	saleUnitPrice int64
)

func init() {
	saleCmd.Flags().StringVar(&salePlayerID, "player", "", "player id (required)")
	saleCmd.Flags().StringVar(&saleProductID, "product", "", "product id (required)")
	saleCmd.Flags().StringVar(&saleUserName, "user-name", "", "denormalized player name stored on the assignment")
	saleCmd.Flags().StringVar(&saleProduct, "product-name", "", "denormalized product name stored on the assignment")
	saleCmd.Flags().IntVar(&saleQuantity, "qty", 1, "quantity sold")
	saleCmd.Flags().Int64Var(&saleUnitPrice, "unit-price", 0, "unit price in minor currency units")

	rootCmd.AddCommand(saleCmd)
}

func runSale(cmd *cobra.Command, args []string) error {
	if salePlayerID == "" || saleProductID == "" {
		return fmt.Errorf("--player and --product are required")
	}
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	total := saleUnitPrice * int64(saleQuantity)
	now := time.Now()
	assignment := types.Assignment{
		Entity: types.Entity{
			ID:        clock.NewOpID(),
			CreatedAt: now,
			UpdatedAt: now,
			IsActive:  true,
		},
		PlayerID:    salePlayerID,
		ProductID:   saleProductID,
		UserName:    saleUserName,
		ProductName: saleProduct,
		Quantity:    saleQuantity,
		UnitPrice:   saleUnitPrice,
		Total:       total,
		Date:        now,
	}

	b, err := e.API().CreateAssignmentTransaction(bundle.AssignmentSaleInput{
		Assignment: assignment,
		StockDelta: -saleQuantity,
	})
	if err != nil {
		return fmt.Errorf("create sale: %w", err)
	}
	fmt.Printf("queued sale bundle %s (assignment %s, total %d)\n", b.BundleID, assignment.ID, total)
	return nil
}
