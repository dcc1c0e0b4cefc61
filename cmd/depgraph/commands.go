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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/AleutianAI/claimchain/pkg/logging"
	"github.com/AleutianAI/claimchain/services/coordination/depgraph"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess = 0 // Query successful (even if no results)
	ExitError   = 1 // Runtime error (parse, read, cancelled)
	ExitBadArgs = 2 // Invalid depth, missing root, wrong arity
)

// exitError carries an exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func badArgs(format string, args ...any) error {
	return &exitError{code: ExitBadArgs, err: fmt.Errorf(format, args...)}
}

// =============================================================================
// COMMAND FLAGS
// =============================================================================

type options struct {
	jsonOutput bool
	logLevel   string
	workers    int
	depth      int
	stdout     io.Writer
	stderr     io.Writer
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "depgraph",
		Short: "Query the import dependency graph of a source tree",
		Long: `Scan Python, Go, JavaScript and TypeScript sources and answer
dependency queries over the resolved import graph.

Examples:
  depgraph scan .
  depgraph deps . src/app.py
  depgraph cluster . src/app.py 2
  depgraph suggest . src/a.py src/b.py --depth 1 --json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: ExitBadArgs, err: err}
	})
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON for scripting")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	root.PersistentFlags().IntVar(&opts.workers, "workers", 0, "Parallel parsers (default: GOMAXPROCS)")

	root.AddCommand(
		&cobra.Command{
			Use:   "scan ROOT",
			Short: "Scan a tree and print graph statistics",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, g, err := opts.scan(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return opts.printStats(g.Stats())
			},
		},
		&cobra.Command{
			Use:   "deps ROOT FILE",
			Short: "List files FILE imports",
			Args:  exactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, _, err := opts.scan(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				files, err := a.Dependencies(args[1])
				if err != nil {
					return err
				}
				return opts.printFiles(files)
			},
		},
		&cobra.Command{
			Use:   "dependents ROOT FILE",
			Short: "List files importing FILE",
			Args:  exactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, _, err := opts.scan(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				files, err := a.Dependents(args[1])
				if err != nil {
					return err
				}
				return opts.printFiles(files)
			},
		},
		&cobra.Command{
			Use:   "cluster ROOT FILE DEPTH",
			Short: "List files within DEPTH import hops of FILE",
			Args:  exactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				depth, err := parseDepth(args[2])
				if err != nil {
					return err
				}
				a, _, err := opts.scan(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				files, err := a.Cluster(args[1], depth)
				if err != nil {
					return err
				}
				return opts.printFiles(files)
			},
		},
		newSuggestCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func newSuggestCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest ROOT FILE...",
		Short: "Suggest a claim chain covering FILE... and their neighbours",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return badArgs("suggest needs ROOT and at least one FILE")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.depth < 0 {
				return badArgs("depth must be >= 0, got %d", opts.depth)
			}
			a, _, err := opts.scan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			files, err := a.Suggest(args[1:], opts.depth)
			if err != nil {
				return err
			}
			return opts.printFiles(files)
		},
	}
	cmd.Flags().IntVar(&opts.depth, "depth", 2, "Import hops to include")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch ROOT",
		Short: "Rescan on every change and print statistics until interrupted",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := opts.analyzer()
			w, err := depgraph.NewWatcher(a, args[0], depgraph.WithOnScan(func(g *depgraph.Graph, err error) {
				if err != nil {
					fmt.Fprintf(opts.stderr, "Error: rescan failed: %v\n", err)
					return
				}
				_ = opts.printStats(g.Stats())
			}))
			if err != nil {
				return classify(err)
			}
			return classify(w.Run(ctx))
		},
	}
}

// =============================================================================
// EXECUTION
// =============================================================================

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return ExitBadArgs
	}
	return ExitError
}

func (o *options) analyzer() *depgraph.Analyzer {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		level = logging.LevelWarn
	}
	logger := logging.New(logging.Config{Level: level, Service: "depgraph", Output: o.stderr})
	return depgraph.NewAnalyzer(
		depgraph.WithLogger(logger.Slog()),
		depgraph.WithWorkers(o.workers),
	)
}

func (o *options) scan(ctx context.Context, root string) (*depgraph.Analyzer, *depgraph.Graph, error) {
	a := o.analyzer()
	g, err := a.Scan(ctx, root)
	if err != nil {
		return nil, nil, classify(err)
	}
	return a, g, nil
}

// classify tags argument-shaped errors with ExitBadArgs.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, depgraph.ErrRootNotFound) || errors.Is(err, depgraph.ErrInvalidDepth) {
		return &exitError{code: ExitBadArgs, err: err}
	}
	return err
}

func parseDepth(raw string) (int, error) {
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badArgs("depth must be an integer, got %q", raw)
	}
	if depth < 0 {
		return 0, badArgs("depth must be >= 0, got %d", depth)
	}
	return depth, nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return badArgs("%s expects %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

func (o *options) printFiles(files []string) error {
	if files == nil {
		files = []string{}
	}
	if o.jsonOutput {
		return writeJSON(o.stdout, map[string]any{"files": files, "count": len(files)})
	}
	for _, f := range files {
		fmt.Fprintln(o.stdout, f)
	}
	return nil
}

func (o *options) printStats(s depgraph.Stats) error {
	if o.jsonOutput {
		return writeJSON(o.stdout, s)
	}
	fmt.Fprintf(o.stdout, "Root:         %s\n", s.Root)
	fmt.Fprintf(o.stdout, "Files:        %d\n", s.Files)
	fmt.Fprintf(o.stdout, "Edges:        %d\n", s.Edges)
	fmt.Fprintf(o.stdout, "Parse errors: %d\n", s.ParseErrors)
	fmt.Fprintf(o.stdout, "Duration:     %dms\n", s.DurationMs)
	for _, lang := range sortedLanguages(s.ByLanguage) {
		fmt.Fprintf(o.stdout, "  %-12s %d\n", lang, s.ByLanguage[lang])
	}
	return nil
}

func sortedLanguages(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
