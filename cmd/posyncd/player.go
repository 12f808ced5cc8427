package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/types"
)

var playerCmd = &cobra.Command{
	Use:   "player",
	Short: "Manage players in the local cache",
}

var playerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a player",
	RunE:  runPlayerCreate,
}

var playerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached players (provisional balance folded in)",
	RunE:  runPlayerList,
}

var (
	playerFirstName string
	playerLastName  string
)

func init() {
	playerCreateCmd.Flags().StringVar(&playerFirstName, "first-name", "", "player first name (required)")
	playerCreateCmd.Flags().StringVar(&playerLastName, "last-name", "", "player last name")

	playerCmd.AddCommand(playerCreateCmd, playerListCmd)
	rootCmd.AddCommand(playerCmd)
}

func runPlayerCreate(cmd *cobra.Command, args []string) error {
	if playerFirstName == "" {
		return fmt.Errorf("--first-name is required")
	}
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	id := clock.NewOpID()
	data := map[string]any{
		"firstName": playerFirstName,
		"lastName":  playerLastName,
		"balance":   int64(0),
		"isActive":  true,
	}
	op, err := e.API().CreateEntity(context.Background(), types.CollectionPlayers, id, data)
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	fmt.Printf("created player %s (op %s)\n", id, op.ID)
	return nil
}

func runPlayerList(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	views, err := e.API().GetPlayers()
	if err != nil {
		return err
	}
	for _, v := range views {
		provisionalMark := ""
		if v.Provisional {
			provisionalMark = " (provisional)"
		}
		fmt.Printf("%-12s %-20s balance=%-8d%s\n", v.ID, v.Name(), v.Balance, provisionalMark)
	}
	return nil
}
