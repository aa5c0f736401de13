// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command perfgate evaluates performance-test executions against rules and
// baselines, either one-shot from the command line or as an HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfgate/cmd/perfgate/config"
	"github.com/AleutianAI/perfgate/pkg/logging"
)

// Exit codes. A completed run that produced a negative decision exits with
// exitDecision so CI can tell it apart from a broken invocation.
const (
	exitError    = 1
	exitDecision = 2
)

// decisionError reports a FAIL outcome or a failed gate.
type decisionError struct {
	msg string
}

func (e *decisionError) Error() string { return e.msg }

// --- Global Command Variables ---
var (
	configPath   string
	logLevel     string
	outputFormat string

	appConfig config.Config
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "perfgate",
		Short: "Evaluate performance-test results against rules and baselines",
		Long: `perfgate resolves scoped configuration profiles, evaluates an
execution's metrics against threshold rules and compares them with a
stored baseline to detect regressions.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				_ = appLogger.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "perfgate.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")

	rootCmd.AddCommand(evaluateCmd, resolveCmd, profilesCmd, baselineCmd, serveCmd, metricsCmd, configCmd)
}

// loadConfig reads the config file and installs the logger. An explicit
// --config must exist; the default path falls back to built-in defaults.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("invalid --output %q: must be text or json", outputFormat)
	}

	var err error
	if cmd.Flags().Changed("config") {
		appConfig, err = config.Load(configPath)
	} else {
		appConfig, err = config.LoadOrDefault(configPath)
	}
	if err != nil {
		return err
	}
	if logLevel != "" {
		appConfig.Logging.Level = logLevel
	}

	level, err := logging.ParseLevel(appConfig.Logging.Level)
	if err != nil {
		return err
	}
	// PersistentPostRun is skipped when a command fails.
	if appLogger != nil {
		_ = appLogger.Close()
	}
	appLogger = logging.New(logging.Config{
		Level:   level,
		LogDir:  appConfig.Logging.Dir,
		Service: "perfgate",
		Format:  logging.Format(appConfig.Logging.Format),
	})
	slog.SetDefault(appLogger.Slog())
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var de *decisionError
		if errors.As(err, &de) {
			os.Exit(exitDecision)
		}
		os.Exit(exitError)
	}
}
