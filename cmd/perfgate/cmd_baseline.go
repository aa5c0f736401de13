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
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfgate/pkg/ux"
	"github.com/AleutianAI/perfgate/services/perfgate"
	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
)

var (
	baselineExecution     string
	baselineDescription   string
	baselineToleranceType string
	baselineAmount        float64
	baselineOverrides     []string
	baselineLimit         int

	baselineCmd = &cobra.Command{
		Use:   "baseline",
		Short: "Capture baselines and compare executions against them",
	}

	baselineCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Capture an execution's metrics as a new baseline",
		Example: `  perfgate baseline create --execution run-42 --tolerance-type relative --amount 10
  perfgate baseline create -e run-42 --override response_time.p95=absolute:25`,
		Args: cobra.NoArgs,
		RunE: runBaselineCreate,
	}

	baselineGetCmd = &cobra.Command{
		Use:   "get <baseline-id>",
		Short: "Show a stored baseline",
		Args:  cobra.ExactArgs(1),
		RunE:  runBaselineGet,
	}

	baselineListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the most recent baselines, newest first",
		Args:  cobra.NoArgs,
		RunE:  runBaselineList,
	}

	baselineCompareCmd = &cobra.Command{
		Use:   "compare <baseline-id>",
		Short: "Compare an execution's metrics against a baseline",
		Args:  cobra.ExactArgs(1),
		RunE:  runBaselineCompare,
	}

	baselineGateCmd = &cobra.Command{
		Use:   "gate <baseline-id>",
		Short: "Apply the regression gate and print its markdown report",
		Long: `Compares the execution against the baseline and decides pass or fail
using the gate section of the configuration.

Exits with status 2 when the gate fails.`,
		Args: cobra.ExactArgs(1),
		RunE: runBaselineGate,
	}
)

func init() {
	baselineCreateCmd.Flags().StringVarP(&baselineExecution, "execution", "e", "", "Execution id whose metrics become the baseline")
	baselineCreateCmd.Flags().StringVar(&baselineDescription, "description", "", "Free-form description")
	baselineCreateCmd.Flags().StringVar(&baselineToleranceType, "tolerance-type", "relative", "Default tolerance type: absolute or relative")
	baselineCreateCmd.Flags().Float64Var(&baselineAmount, "amount", 10, "Default tolerance amount (percent for relative)")
	baselineCreateCmd.Flags().StringArrayVar(&baselineOverrides, "override", nil, "Per-metric tolerance as metric=type:amount (repeatable)")
	_ = baselineCreateCmd.MarkFlagRequired("execution")

	baselineListCmd.Flags().IntVarP(&baselineLimit, "limit", "n", perfgate.DefaultListLimit, "Maximum number of baselines")

	for _, c := range []*cobra.Command{baselineCompareCmd, baselineGateCmd} {
		c.Flags().StringVarP(&baselineExecution, "execution", "e", "", "Execution id to compare")
		_ = c.MarkFlagRequired("execution")
	}

	baselineCmd.AddCommand(baselineCreateCmd, baselineGetCmd, baselineListCmd, baselineCompareCmd, baselineGateCmd)
}

// parseOverride parses "metric=type:amount".
func parseOverride(s string) (perfgate.ToleranceOverride, error) {
	metric, tol, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(metric) == "" {
		return perfgate.ToleranceOverride{}, fmt.Errorf("override %q: want metric=type:amount", s)
	}
	typ, amount, ok := strings.Cut(tol, ":")
	if !ok {
		return perfgate.ToleranceOverride{}, fmt.Errorf("override %q: want metric=type:amount", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
	if err != nil {
		return perfgate.ToleranceOverride{}, fmt.Errorf("override %q: amount: %w", s, err)
	}
	return perfgate.ToleranceOverride{
		Metric: strings.TrimSpace(metric),
		Type:   strings.TrimSpace(typ),
		Amount: v,
	}, nil
}

// createRequest builds the same request the HTTP API validates, so both
// surfaces accept exactly the same input.
func createRequest() (*perfgate.CreateBaselineRequest, error) {
	req := &perfgate.CreateBaselineRequest{
		ExecutionID:   baselineExecution,
		Description:   baselineDescription,
		ToleranceType: baselineToleranceType,
		Amount:        baselineAmount,
	}
	for _, raw := range baselineOverrides {
		o, err := parseOverride(raw)
		if err != nil {
			return nil, err
		}
		req.Overrides = append(req.Overrides, o)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", perfgate.ErrInvalidInput, err)
	}
	return req, nil
}

func runBaselineCreate(cmd *cobra.Command, _ []string) error {
	req, err := createRequest()
	if err != nil {
		return err
	}
	in, err := req.Input()
	if err != nil {
		return err
	}

	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.svc.CreateBaseline(cmd.Context(), in)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), baseline.ToDTO(b))
	}
	ux.Field(cmd.OutOrStdout(), "Created baseline", b.ID())
	renderBaseline(cmd.OutOrStdout(), b)
	return nil
}

func runBaselineGet(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.svc.GetBaseline(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), baseline.ToDTO(b))
	}
	renderBaseline(cmd.OutOrStdout(), b)
	return nil
}

func runBaselineList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.svc.ListBaselines(cmd.Context(), baselineLimit)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		resp := perfgate.ListBaselinesResponse{Baselines: make([]baseline.DTO, 0, len(list)), Count: len(list)}
		for _, b := range list {
			resp.Baselines = append(resp.Baselines, baseline.ToDTO(b))
		}
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	renderBaselineList(cmd.OutOrStdout(), list)
	return nil
}

func runBaselineCompare(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.CompareToBaseline(cmd.Context(), args[0], baselineExecution)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	renderComparison(cmd.OutOrStdout(), res)
	return nil
}

func runBaselineGate(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	decision, err := a.svc.CheckRegression(cmd.Context(), args[0], baselineExecution)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		if err := writeJSON(cmd.OutOrStdout(), decision); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), decision.Report)
	}
	if !decision.Pass {
		return &decisionError{msg: fmt.Sprintf("regression gate failed for execution %s", baselineExecution)}
	}
	return nil
}
