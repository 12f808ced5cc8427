package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/bundle"
)

var paymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Record a player payment against owed charges",
	RunE:  runPayment,
}

var (
	paymentPlayerID      string
	paymentAmount        int64
	paymentChargeID      string
	paymentAssignmentIDs []string
)

func init() {
	paymentCmd.Flags().StringVar(&paymentPlayerID, "player", "", "player id (required)")
	paymentCmd.Flags().Int64Var(&paymentAmount, "amount", 0, "payment amount in minor currency units, reduces balance")
	paymentCmd.Flags().StringVar(&paymentChargeID, "charge", "", "charge id this payment settles, if any")
	paymentCmd.Flags().StringSliceVar(&paymentAssignmentIDs, "assignment", nil, "assignment ids to mark paid (repeatable)")

	rootCmd.AddCommand(paymentCmd)
}

func runPayment(cmd *cobra.Command, args []string) error {
	if paymentPlayerID == "" || paymentAmount <= 0 {
		return fmt.Errorf("--player and a positive --amount are required")
	}
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	b, err := e.API().CreatePaymentBundle(bundle.PlayerPaymentInput{
		PlayerID:      paymentPlayerID,
		Amount:        paymentAmount,
		ChargeID:      paymentChargeID,
		AssignmentIDs: paymentAssignmentIDs,
	})
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	fmt.Printf("queued payment bundle %s\n", b.BundleID)
	return nil
}
