package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/posyncd/pkg/types"
)

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "View and update organization settings",
}

var orgGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show cached organization settings",
	RunE:  runOrgGet,
}

var orgSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update organization settings",
	RunE:  runOrgSet,
}

var (
	orgName     string
	orgCurrency string
	orgLogoURL  string
)

func init() {
	orgSetCmd.Flags().StringVar(&orgName, "name", "", "organization display name")
	orgSetCmd.Flags().StringVar(&orgCurrency, "currency", "", "organization currency code")
	orgSetCmd.Flags().StringVar(&orgLogoURL, "logo-url", "", "organization logo URL")

	orgCmd.AddCommand(orgGetCmd, orgSetCmd)
	rootCmd.AddCommand(orgCmd)
}

func runOrgGet(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	settings, err := e.API().GetOrganization()
	if err != nil {
		return err
	}
	fmt.Printf("name=%q currency=%q logoUrl=%q\n", settings.Name, settings.Currency, settings.LogoURL)
	return nil
}

func runOrgSet(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	current, err := e.API().GetOrganization()
	if err != nil {
		return err
	}
	current.ID = organizationID
	if orgName != "" {
		current.Name = orgName
	}
	if orgCurrency != "" {
		current.Currency = orgCurrency
	}
	if orgLogoURL != "" {
		current.LogoURL = orgLogoURL
	}

	b, err := e.API().UpdateOrganization(types.OrganizationSettings{
		Entity:      current.Entity,
		Name:        current.Name,
		Currency:    current.Currency,
		LogoURL:     current.LogoURL,
		Description: current.Description,
	})
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	fmt.Printf("queued organization-update bundle %s\n", b.BundleID)
	return nil
}
