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
	"strings"

	"github.com/AleutianAI/claimchain/pkg/ux"
	"github.com/AleutianAI/claimchain/services/coordination/claims"
	"github.com/spf13/cobra"
)

// =============================================================================
// claim / release / complete / extend
// =============================================================================

func newClaimCmd(opts *globalOptions) *cobra.Command {
	var (
		reason string
		ttl    float64
	)
	cmd := &cobra.Command{
		Use:   "claim FILE...",
		Short: "Claim a chain of files for the acting agent",
		Long: `Claim every FILE as one chain. The claim is all-or-nothing: if any
file is held by another active chain, nothing is claimed and the
blocking chains are listed.

Exit codes:
  0  Claimed
  2  Blocked, or bad arguments

Examples:
  claimchain --agent alice claim src/api.py src/models.py --reason "add auth"
  claimchain claim lib/util.go --ttl 90`,
		Args: minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := opts.agentID()
			if err != nil {
				return err
			}
			a, err := opts.open(cliLogLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			chain, err := a.manager.ClaimChain(cmd.Context(), claims.ClaimRequest{
				AgentID:    agent,
				Files:      a.resolveFiles(args),
				Reason:     reason,
				TTLMinutes: ttl,
			})
			var blocked *claims.BlockedError
			if errors.As(err, &blocked) {
				return a.reportBlocked(opts, blocked)
			}
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(opts.stdout, chain)
			}
			a.printer.Success(fmt.Sprintf("Claimed chain %s (%d files)", chain.ID, len(chain.Files)))
			a.printChain(*chain)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the files are needed")
	cmd.Flags().Float64Var(&ttl, "ttl", 0, "Lease in minutes (default from config)")
	return cmd
}

func (a *app) reportBlocked(opts *globalOptions, blocked *claims.BlockedError) error {
	if opts.jsonOutput {
		if err := writeJSON(opts.stdout, blockedJSON(blocked)); err != nil {
			return err
		}
		return denied(blocked)
	}
	lines := make([]string, 0, len(blocked.Blocking))
	now := a.manager.Now()
	for _, b := range blocked.Blocking {
		lines = append(lines, fmt.Sprintf("%s held by %s (chain %s, %q, %s left)",
			strings.Join(b.Files, ", "), b.Chain.AgentID, b.Chain.ID, b.Chain.Reason,
			formatRemaining(b.Chain.Remaining(now))))
	}
	a.printer.ErrorBox("Claim blocked", lines...)
	return denied(blocked)
}

func newReleaseCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release CHAIN_ID",
		Short: "Give up a chain without finishing the work",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return finishChain(cmd, opts, args[0], "Released", (*claims.Manager).ReleaseChain)
		},
	}
}

func newCompleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete CHAIN_ID",
		Short: "Mark a chain's work done and free its files",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return finishChain(cmd, opts, args[0], "Completed", (*claims.Manager).CompleteChain)
		},
	}
}

type finishFunc func(m *claims.Manager, ctx context.Context, agentID, chainID string) (*claims.Chain, error)

func finishChain(cmd *cobra.Command, opts *globalOptions, chainID, verb string, op finishFunc) error {
	agent, err := opts.agentID()
	if err != nil {
		return err
	}
	a, err := opts.open(cliLogLevel)
	if err != nil {
		return err
	}
	defer a.Close()

	chain, err := op(a.manager, cmd.Context(), agent, chainID)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return writeJSON(opts.stdout, chain)
	}
	a.printer.Success(fmt.Sprintf("%s chain %s (%d files freed)", verb, chain.ID, len(chain.Files)))
	return nil
}

func newExtendCmd(opts *globalOptions) *cobra.Command {
	var minutes float64
	cmd := &cobra.Command{
		Use:   "extend CHAIN_ID",
		Short: "Push a chain's expiry back",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes <= 0 {
				return usageError("--minutes must be positive")
			}
			agent, err := opts.agentID()
			if err != nil {
				return err
			}
			a, err := opts.open(cliLogLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			chain, err := a.manager.ExtendChain(cmd.Context(), agent, args[0], minutes)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(opts.stdout, chain)
			}
			a.printer.Success(fmt.Sprintf("Extended chain %s, %s left",
				chain.ID, formatRemaining(chain.Remaining(a.manager.Now()))))
			return nil
		},
	}
	cmd.Flags().Float64Var(&minutes, "minutes", 30, "Minutes to add")
	return cmd
}

// =============================================================================
// status / blocking / who
// =============================================================================

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var mine, history bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List active chains",
		Long: `List active chains, soonest expiry last.

--mine restricts the list to the acting agent. --history lists chains
in every state, oldest first.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := ""
			if mine {
				var err error
				if agent, err = opts.agentID(); err != nil {
					return err
				}
			}
			a, err := opts.open(cliLogLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			var chains []claims.Chain
			switch {
			case history:
				chains, err = a.manager.History(cmd.Context(), agent)
			case mine:
				chains, err = a.manager.GetAgentChains(cmd.Context(), agent)
			default:
				chains, err = a.manager.GetAllActiveChains(cmd.Context())
			}
			if err != nil {
				return err
			}
			return a.printChains(opts, chains, "No active chains.")
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "Only the acting agent's chains")
	cmd.Flags().BoolVar(&history, "history", false, "Include released, completed and expired chains")
	return cmd
}

func newBlockingCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "blocking FILE...",
		Short: "List active chains holding any of FILE...",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cliLogLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			chains, err := a.manager.GetBlockingChains(cmd.Context(), a.resolveFiles(args))
			if err != nil {
				return err
			}
			return a.printChains(opts, chains, "Nothing blocks these files.")
		},
	}
}

func newWhoCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "who FILE",
		Short: "Show which agent holds FILE",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cliLogLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			chain, err := a.manager.GetClaimForFile(cmd.Context(), a.resolveFile(args[0]))
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(opts.stdout, map[string]any{
					"path":    args[0],
					"claimed": chain != nil,
					"chain":   chain,
				})
			}
			if chain == nil {
				a.printer.Info(fmt.Sprintf("%s is not claimed", args[0]))
				return nil
			}
			a.printer.Info(fmt.Sprintf("%s is held by %s", args[0], chain.AgentID))
			a.printChain(*chain)
			return nil
		},
	}
}

// =============================================================================
// sweep / release-agent
// =============================================================================

func newSweepCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue chains expired in the ledger",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cliLogLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.manager.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(opts.stdout, map[string]int{"count": n})
			}
			a.printer.Success(fmt.Sprintf("Expired %d chain(s)", n))
			return nil
		},
	}
}

func newReleaseAgentCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release-agent AGENT",
		Short: "Release every active chain of AGENT (crash recovery)",
		Long: `Release every active chain held by AGENT. Use this when an agent
process died without releasing its claims and waiting for the lease to
run out is too slow.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cliLogLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.manager.ReleaseAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(opts.stdout, map[string]int{"count": n})
			}
			a.printer.Success(fmt.Sprintf("Released %d chain(s) of %s", n, args[0]))
			return nil
		},
	}
}

// =============================================================================
// Rendering
// =============================================================================

func (a *app) printChain(c claims.Chain) {
	now := a.manager.Now()
	lines := []string{
		"agent:   " + c.AgentID,
		"status:  " + string(c.Status),
		"files:   " + strings.Join(c.Files, ", "),
	}
	if c.Reason != "" {
		lines = append(lines, "reason:  "+c.Reason)
	}
	if c.IsActive(now) {
		lines = append(lines, fmt.Sprintf("expires: %s (%s left)",
			c.ExpiresAt.Local().Format("15:04:05"), formatRemaining(c.Remaining(now))))
	}
	a.printer.Box("Chain "+c.ID, lines...)
}

func (a *app) printChains(opts *globalOptions, chains []claims.Chain, empty string) error {
	if opts.jsonOutput {
		if chains == nil {
			chains = []claims.Chain{}
		}
		return writeJSON(opts.stdout, map[string]any{"chains": chains, "count": len(chains)})
	}
	if len(chains) == 0 {
		a.printer.Muted(empty)
		return nil
	}
	now := a.manager.Now()
	for _, c := range chains {
		icon := ux.IconLock
		left := formatRemaining(c.Remaining(now))
		if !c.IsActive(now) {
			icon = ux.IconPending
			left = string(c.Status)
		}
		a.printer.Row(icon, c.ID, c.AgentID, left, strings.Join(c.Files, ","))
	}
	return nil
}
