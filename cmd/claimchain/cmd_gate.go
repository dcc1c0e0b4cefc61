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
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/AleutianAI/claimchain/pkg/ux"
	"github.com/AleutianAI/claimchain/services/coordination/depgraph"
	"github.com/AleutianAI/claimchain/services/coordination/gate"
	"github.com/AleutianAI/claimchain/services/coordination/ledger"
	"github.com/spf13/cobra"
)

// =============================================================================
// check
// =============================================================================

func newCheckCmd(opts *globalOptions) *cobra.Command {
	var (
		fromStdin bool
		advise    bool
	)
	cmd := &cobra.Command{
		Use:   "check [FILE]",
		Short: "Decide whether the acting agent may write FILE",
		Long: `Decide whether the acting agent may write FILE. Intended as a
pre-write hook: with --stdin the hook's JSON payload is read and the path
is taken from file_path or tool_input.file_path.

A write is allowed only when the agent holds an active chain covering
FILE. Projects without a .coordination directory are not gated.
Payloads without a file path (non-file tools) are allowed.

Exit codes:
  0  Allowed
  2  Denied (reason on stderr)
  1  Unexpected error

Examples:
  claimchain --agent alice check src/api.py
  echo '{"tool_input":{"file_path":"src/api.py"}}' | claimchain check --stdin`,
		Args: func(cmd *cobra.Command, args []string) error {
			if fromStdin && len(args) > 0 {
				return usageError("give FILE or --stdin, not both")
			}
			if !fromStdin && len(args) != 1 {
				return usageError("check expects FILE or --stdin")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := gate.ResolveAgentID(opts.agent)
			var file string
			if fromStdin {
				in, err := gate.ParseHookInput(opts.stdin)
				if errors.Is(err, gate.ErrNoFilePath) {
					return nil
				}
				if err != nil {
					return usageError("%v", err)
				}
				file = in.FilePath
				if agent == "" {
					agent = strings.TrimSpace(in.AgentID)
				}
			} else {
				file = args[0]
			}

			a, err := opts.openCoordinated()
			if err != nil {
				return err
			}
			if a == nil {
				if opts.jsonOutput {
					return writeJSON(opts.stdout, gate.Decision{
						Allowed: true, Code: gate.CodeAllowed, File: file, AgentID: agent,
						Reason: "Project is not coordinated.",
					})
				}
				return nil
			}
			defer a.Close()

			file = a.resolveFile(file)
			d := a.gate.Check(cmd.Context(), agent, file)
			if opts.jsonOutput {
				if err := writeJSON(opts.stdout, d); err != nil {
					return err
				}
			} else if !d.Allowed {
				a.printer.Error(d.Reason)
			}
			if d.Allowed {
				return nil
			}
			if advise && d.Code == gate.CodeNotClaimed {
				a.printAdvice(cmd.Context(), agent, file)
			}
			return denied(fmt.Errorf("write to %s denied: %s", file, d.Code))
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read a hook JSON payload from stdin")
	cmd.Flags().BoolVar(&advise, "advise", false, "On an unclaimed file, suggest a chain from the import graph")
	return cmd
}

// openCoordinated opens the project, or returns nil when there is none.
func (o *globalOptions) openCoordinated() (*app, error) {
	root, _, err := o.resolveRoot()
	if errors.Is(err, ledger.ErrNotDiscovered) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(ledger.NewLayout(root).DataPath); os.IsNotExist(err) {
		return nil, nil
	}
	return o.open(cliLogLevel)
}

// printAdvice prints the advised chain for file to stderr. Best effort.
func (a *app) printAdvice(ctx context.Context, agent, file string) {
	analyzer := a.newAnalyzer()
	if _, err := analyzer.Scan(ctx, a.layout.Root); err != nil {
		a.logger.Debug("Advice unavailable", "error", err)
		return
	}
	adv, err := a.gate.Advise(ctx, agent, analyzer, file, a.cfg.Gate.AdviseDepth)
	if err != nil {
		a.logger.Debug("Advice unavailable", "error", err)
		return
	}
	if len(adv.Uncovered) > 0 {
		a.printer.Warning("Suggested: claimchain claim " + strings.Join(adv.Uncovered, " "))
	}
	for _, f := range sortedKeys(adv.HeldByOthers) {
		a.printer.Warning(fmt.Sprintf("%s is a dependency held by %s", f, adv.HeldByOthers[f]))
	}
}

func (a *app) newAnalyzer() *depgraph.Analyzer {
	return depgraph.NewAnalyzer(depgraph.WithLogger(a.logger.Slog()))
}

// =============================================================================
// suggest
// =============================================================================

func newSuggestCmd(opts *globalOptions) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "suggest FILE...",
		Short: "Suggest a chain: FILE... plus their import neighbours",
		Long: `Scan the project's imports and suggest a claim chain covering FILE...
and every file within --depth import hops, in either direction.
Files already held by other agents are listed separately.

Examples:
  claimchain suggest src/api.py
  claimchain --agent alice suggest src/api.py src/models.py --depth 1`,
		Args: minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if depth < 0 {
				return usageError("--depth must be >= 0, got %d", depth)
			}
			agent := gate.ResolveAgentID(opts.agent)
			a, err := opts.open(cliLogLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			analyzer := a.newAnalyzer()
			if _, err := analyzer.Scan(cmd.Context(), a.layout.Root); err != nil {
				return err
			}
			adv, err := a.gate.AdviseChain(cmd.Context(), agent, analyzer, a.resolveFiles(args), depth)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(opts.stdout, adv)
			}

			a.printer.Title(fmt.Sprintf("Suggested chain (%d files, depth %d)", len(adv.Cluster), depth))
			for _, f := range adv.Cluster {
				if holder, ok := adv.HeldByOthers[f]; ok {
					a.printer.Row(ux.IconWarning, f, "held by "+holder)
					continue
				}
				a.printer.Row(ux.IconArrow, f)
			}
			if len(adv.Uncovered) > 0 {
				a.printer.Info("claimchain claim " + strings.Join(adv.Uncovered, " "))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", gate.DefaultAdviseDepth, "Import hops to include")
	return cmd
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
