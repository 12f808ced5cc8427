package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/types"
)

var chargeCmd = &cobra.Command{
	Use:   "charge",
	Short: "Manage ledger charges against a player's balance",
}

var chargeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Raise a charge against a player",
	RunE:  runChargeCreate,
}

var chargeSettleCmd = &cobra.Command{
	Use:   "settle <charge-id>",
	Short: "Mark a charge as paid",
	Args:  cobra.ExactArgs(1),
	RunE:  runChargeSettle,
}

var chargeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached charges (provisional creations folded in)",
	RunE:  runChargeList,
}

var (
	chargePlayerID string
	chargeAmount   int64
	chargeReason   string
)

func init() {
	chargeCreateCmd.Flags().StringVar(&chargePlayerID, "player", "", "player id (required)")
	chargeCreateCmd.Flags().Int64Var(&chargeAmount, "amount", 0, "signed amount in minor currency units (positive increases debt)")
	chargeCreateCmd.Flags().StringVar(&chargeReason, "reason", string(types.ChargeReasonOther), "charge reason")

	chargeCmd.AddCommand(chargeCreateCmd, chargeSettleCmd, chargeListCmd)
	rootCmd.AddCommand(chargeCmd)
}

func runChargeCreate(cmd *cobra.Command, args []string) error {
	if chargePlayerID == "" {
		return fmt.Errorf("--player is required")
	}
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	now := time.Now()
	c := types.Charge{
		Entity: types.Entity{
			ID:        clock.NewOpID(),
			CreatedAt: now,
			UpdatedAt: now,
			IsActive:  true,
		},
		PlayerID: chargePlayerID,
		Amount:   chargeAmount,
		Reason:   types.ChargeReason(chargeReason),
		Status:   types.ChargeStatusPending,
	}

	b, err := e.API().CreateChargeBundle(c)
	if err != nil {
		return fmt.Errorf("create charge: %w", err)
	}
	fmt.Printf("queued charge bundle %s (charge %s)\n", b.BundleID, c.ID)
	return nil
}

func runChargeSettle(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	b, err := e.API().UpdateChargeStatus(args[0], types.ChargeStatusPaid)
	if err != nil {
		return fmt.Errorf("settle charge: %w", err)
	}
	fmt.Printf("queued charge-settle bundle %s\n", b.BundleID)
	return nil
}

func runChargeList(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	charges, err := e.API().GetCharges()
	if err != nil {
		return err
	}
	for _, c := range charges {
		fmt.Printf("%-12s player=%-12s amount=%-8d reason=%-12s status=%s\n", c.ID, c.PlayerID, c.Amount, c.Reason, c.Status)
	}
	return nil
}
