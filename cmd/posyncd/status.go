package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this device's sync status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	st := e.Status()
	fmt.Printf("online:            %t\n", st.IsOnline)
	fmt.Printf("syncing:           %t\n", st.IsSyncing)
	fmt.Printf("main queue:        %d\n", st.MainQueueLength)
	fmt.Printf("dead letter queue: %d\n", st.DeadLetterQueueLength)
	fmt.Printf("pending bundles:   %d\n", st.PendingBundles)
	fmt.Printf("oldest op age:     %s\n", st.OldestOperationAge)
	return nil
}
