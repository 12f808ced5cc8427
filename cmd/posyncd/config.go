package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk bootstrap config for a device: this CLI's
// own invention, since the synchronization core itself mandates no
// config format (a host application wires an engine.Config directly).
type fileConfig struct {
	DataDir        string `yaml:"dataDir"`
	OrganizationID string `yaml:"organizationId"`
	ForceServer    bool   `yaml:"forceServer"`
	ProbeHost      string `yaml:"probeHost"`
}

// loadConfigInto reads --config, if given, and fills any flag the user
// did not explicitly set on the command line. Explicit flags always
// win over the file.
func loadConfigInto(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return nil
	}
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config %s: %w", configPath, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", configPath, err)
	}

	flags := cmd.Flags()
	if !flags.Changed("data-dir") && cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	if !flags.Changed("org") && cfg.OrganizationID != "" {
		organizationID = cfg.OrganizationID
	}
	if !flags.Changed("force-server") && cfg.ForceServer {
		forceServer = true
	}
	if !flags.Changed("probe-host") && cfg.ProbeHost != "" {
		probeHost = cfg.ProbeHost
	}
	return nil
}

func requireOrg() error {
	if organizationID == "" {
		return fmt.Errorf("--org (or config.organizationId) is required")
	}
	return nil
}
