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
	"io"
	"strings"

	"github.com/AleutianAI/claimchain/services/coordination/claims"
	"github.com/AleutianAI/claimchain/services/coordination/config"
	"github.com/AleutianAI/claimchain/services/coordination/depgraph"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess = 0 // Command succeeded (a check allowed the write)
	ExitError   = 1 // Runtime error (ledger, lock timeout, not found)
	ExitBadArgs = 2 // Invalid arguments or missing identity
	ExitDenied  = 2 // A check denied the write, or a claim was blocked
)

// exitError carries an exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error

	// silent errors were already reported by the command.
	silent bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: ExitBadArgs, err: fmt.Errorf(format, args...)}
}

// denied reports a denial the command has already printed.
func denied(err error) error {
	return &exitError{code: ExitDenied, err: err, silent: true}
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, claims.ErrBlocked):
		return ExitDenied
	case errors.Is(err, claims.ErrInvalidRequest),
		errors.Is(err, claims.ErrInvalidPath),
		errors.Is(err, depgraph.ErrInvalidDepth),
		errors.Is(err, config.ErrInvalidConfig),
		strings.HasPrefix(err.Error(), "unknown command"):
		return ExitBadArgs
	default:
		return ExitError
	}
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts := &globalOptions{stdin: stdin, stdout: stdout, stderr: stderr}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if !errors.As(err, &ee) || !ee.silent {
		opts.printer().Error(err.Error())
	}
	return exitCode(err)
}

func newRootCmd(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "claimchain",
		Short: "Coordinate file ownership between concurrent agents",
		Long: `claimchain keeps a shared ledger of claim chains: sets of files one
agent holds for a bounded time. A claim is granted only when no other
active chain overlaps it, and the check command denies writes to files
the writing agent does not hold.

Examples:
  claimchain init
  claimchain --agent alice claim src/api.py src/models.py --reason "add auth"
  claimchain status
  claimchain --agent alice check src/api.py
  claimchain --agent alice complete 3f2a...`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.stdin)
	root.SetOut(opts.stdout)
	root.SetErr(opts.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: ExitBadArgs, err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.agent, "agent", "", "Acting agent ID (default: $CLAIMCHAIN_AGENT or $AGENT_ID)")
	pf.StringVar(&opts.root, "root", "", "Project root (default: $CLAIMCHAIN_ROOT or nearest .coordination)")
	pf.BoolVar(&opts.jsonOutput, "json", false, "Output as JSON for scripting")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newInitCmd(opts),
		newClaimCmd(opts),
		newReleaseCmd(opts),
		newCompleteCmd(opts),
		newExtendCmd(opts),
		newStatusCmd(opts),
		newBlockingCmd(opts),
		newWhoCmd(opts),
		newSweepCmd(opts),
		newReleaseAgentCmd(opts),
		newSuggestCmd(opts),
		newCheckCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError("%s expects %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return usageError("%s expects at least %d argument(s)", cmd.Name(), n)
		}
		return nil
	}
}
