// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"slices"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/perfgate/cmd/perfgate/config"
	"github.com/AleutianAI/perfgate/pkg/ux"
)

const secretMask = "********"

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Create, check and print the configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		Args:  cobra.NoArgs,
		// The file may not exist yet, so the root loader is skipped.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteDefault(configPath); err != nil {
				return err
			}
			ux.Field(cmd.OutOrStdout(), "Wrote default configuration", configPath)
			return nil
		},
	}

	configValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and its profiles, rules and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(appConfig, appLogger.Slog())
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.svc.ListProfiles(cmd.Context())
			if err != nil {
				return err
			}
			ux.Field(cmd.OutOrStdout(), "Configuration", "valid")
			ux.Field(cmd.OutOrStdout(), "Profiles", ux.Styles.Bold.Render(strconv.Itoa(len(ids))))
			return nil
		},
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := appConfig
			if cfg.Sources.Metrics.Influx.Token != "" {
				cfg.Sources.Metrics.Influx.Token = secretMask
			}
			// Copy before masking so appConfig keeps the real tokens.
			cfg.Server.Auth.Tokens = slices.Clone(cfg.Server.Auth.Tokens)
			for i := range cfg.Server.Auth.Tokens {
				cfg.Server.Auth.Tokens[i].Token = secretMask
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
)

func init() {
	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd)
}
