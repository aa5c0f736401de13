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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfgate/pkg/ux"
	"github.com/AleutianAI/perfgate/services/perfgate"
	"github.com/AleutianAI/perfgate/services/perfgate/outcome"
)

var (
	evalExecutions []string
	evalProfileID  string
	evalScopes     []string
	evalPolicy     string
	evalExcept     []string

	resolveScopes []string

	evaluateCmd = &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one or more executions against the configured rules",
		Long: `Resolves the profiles applicable to the requested scopes, evaluates the
execution's metrics against every rule and prints the outcome.

Exits with status 2 when any execution evaluates to FAIL.`,
		Example: `  perfgate evaluate --execution run-42 --scope api:checkout --scope env:prod
  perfgate evaluate --execution run-42 --execution run-43 -o json`,
		RunE: runEvaluate,
	}

	resolveCmd = &cobra.Command{
		Use:     "resolve",
		Short:   "Show the configuration resolved for a set of scopes",
		Example: `  perfgate resolve --scope api:checkout+env:prod`,
		RunE:    runResolve,
	}

	profilesCmd = &cobra.Command{
		Use:   "profiles",
		Short: "List the loaded profile ids",
		RunE:  runProfiles,
	}
)

func init() {
	evaluateCmd.Flags().StringArrayVarP(&evalExecutions, "execution", "e", nil, "Execution id to evaluate (repeatable)")
	evaluateCmd.Flags().StringVar(&evalProfileID, "profile", "", "Profile id whose scope is added to the request")
	evaluateCmd.Flags().StringArrayVarP(&evalScopes, "scope", "s", nil, "Scope to resolve, e.g. api:checkout or tag:canary@25 (repeatable)")
	evaluateCmd.Flags().StringVar(&evalPolicy, "policy", "", "Partial-metric policy override: allow or deny")
	evaluateCmd.Flags().StringSliceVar(&evalExcept, "except", nil, "Rule ids exempted from --policy")
	_ = evaluateCmd.MarkFlagRequired("execution")

	resolveCmd.Flags().StringArrayVarP(&resolveScopes, "scope", "s", nil, "Scope to resolve (repeatable)")
}

// policyOverride returns nil when no --policy was given so the engine
// default applies.
func policyOverride(mode string, except []string) (*perfgate.PolicyRequest, error) {
	switch mode {
	case "":
		if len(except) > 0 {
			return nil, fmt.Errorf("--except requires --policy")
		}
		return nil, nil
	case "allow", "deny":
		return &perfgate.PolicyRequest{Mode: mode, Except: except}, nil
	default:
		return nil, fmt.Errorf("invalid --policy %q: must be allow or deny", mode)
	}
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	policy, err := policyOverride(evalPolicy, evalExcept)
	if err != nil {
		return err
	}

	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	inputs := make([]perfgate.EvaluateInput, 0, len(evalExecutions))
	for _, id := range evalExecutions {
		inputs = append(inputs, perfgate.EvaluateInput{
			ExecutionID: id,
			ProfileID:   evalProfileID,
			Scopes:      evalScopes,
			Policy:      policy.Policy(),
		})
	}

	out := cmd.OutOrStdout()
	if len(inputs) == 1 {
		res, err := a.svc.Evaluate(cmd.Context(), inputs[0])
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			if err := writeJSON(out, res); err != nil {
				return err
			}
		} else {
			renderEvaluation(out, res)
		}
		if res.Outcome == outcome.Fail {
			return &decisionError{msg: fmt.Sprintf("execution %s failed evaluation", res.Metadata.ExecutionID)}
		}
		return nil
	}

	results, err := a.svc.EvaluateBatch(cmd.Context(), inputs)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		resp := perfgate.BatchEvaluateResponse{Results: make([]perfgate.BatchItem, 0, len(results))}
		for _, r := range results {
			item := perfgate.BatchItem{ExecutionID: r.ExecutionID, Result: r.Result}
			if r.Err != nil {
				item.Error = r.Err.Error()
				resp.Failed++
			}
			resp.Results = append(resp.Results, item)
		}
		if err := writeJSON(out, resp); err != nil {
			return err
		}
	} else {
		renderBatch(out, results)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			slog.Warn("evaluation error", slog.String("execution_id", r.ExecutionID), slog.String("error", r.Err.Error()))
			failed++
			continue
		}
		if r.Result.Outcome == outcome.Fail {
			failed++
		}
	}
	if failed > 0 {
		return &decisionError{msg: fmt.Sprintf("%d of %d executions did not pass", failed, len(results))}
	}
	return nil
}

func runResolve(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, err := a.svc.Resolve(cmd.Context(), resolveScopes)
	if err != nil {
		return err
	}
	resp := perfgate.NewResolveResponse(cfg)
	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	renderResolve(cmd.OutOrStdout(), resp)
	return nil
}

func runProfiles(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.svc.ListProfiles(cmd.Context())
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), perfgate.ProfilesResponse{Profiles: ids})
	}
	for _, id := range ids {
		ux.Bullet(cmd.OutOrStdout(), id)
	}
	return nil
}
