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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/claimchain/pkg/logging"
	"github.com/AleutianAI/claimchain/pkg/ux"
	"github.com/AleutianAI/claimchain/services/coordination/claims"
	"github.com/AleutianAI/claimchain/services/coordination/config"
	"github.com/AleutianAI/claimchain/services/coordination/gate"
	"github.com/AleutianAI/claimchain/services/coordination/ledger"
)

// EnvRoot overrides project root discovery.
const EnvRoot = "CLAIMCHAIN_ROOT"

// cliLogLevel keeps one-shot commands quiet unless --log-level says otherwise.
const cliLogLevel = "warn"

// globalOptions holds the persistent flags and the process streams.
type globalOptions struct {
	agent      string
	root       string
	jsonOutput bool
	logLevel   string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// app is everything a command needs once the project is located.
type app struct {
	layout  ledger.Layout
	cfg     config.Config
	logger  *logging.Logger
	manager *claims.Manager
	gate    *gate.Gate
	printer *ux.Printer
}

func (a *app) Close() {
	_ = a.logger.Close()
}

// printer returns the output printer for the current flags.
func (o *globalOptions) printer() *ux.Printer {
	if o.jsonOutput {
		return ux.NewPrinter(o.stdout, o.stderr, ux.ModeMachine)
	}
	return ux.NewPrinter(o.stdout, o.stderr, "")
}

// agentID resolves the acting agent or fails with a usage error.
func (o *globalOptions) agentID() (string, error) {
	id := gate.ResolveAgentID(o.agent)
	if id == "" {
		return "", usageError("no agent identity: pass --agent or set %s", gate.EnvAgent)
	}
	return id, nil
}

// resolveRoot finds the project root.
//
// # Description
//
// --root wins, then CLAIMCHAIN_ROOT, then an upward search from the
// working directory for the coordination directory. An explicit root is
// returned even when it has not been initialized.
//
// # Outputs
//
//   - string: Absolute project root.
//   - bool: Whether the root was given explicitly.
//   - error: ledger.ErrNotDiscovered when nothing is found.
func (o *globalOptions) resolveRoot() (string, bool, error) {
	explicit := strings.TrimSpace(o.root)
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(EnvRoot))
	}
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", true, fmt.Errorf("resolve root %s: %w", explicit, err)
		}
		return abs, true, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("get working directory: %w", err)
	}
	root, err := ledger.Discover(wd, ledger.DefaultDirName)
	if err != nil {
		return "", false, err
	}
	return root, false, nil
}

// open locates the project, loads its config and builds the manager.
//
// defaultLevel applies when --log-level is not given.
func (o *globalOptions) open(defaultLevel string) (*app, error) {
	root, _, err := o.resolveRoot()
	if err != nil {
		if errors.Is(err, ledger.ErrNotDiscovered) {
			return nil, fmt.Errorf("%w (run 'claimchain init' at the project root)", err)
		}
		return nil, err
	}
	layout := ledger.NewLayout(root)
	if _, err := os.Stat(layout.DataPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s has no ledger (run 'claimchain init')", ledger.ErrNotDiscovered, root)
		}
		return nil, fmt.Errorf("stat ledger: %w", err)
	}

	cfg, err := config.Load(layout.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, err := o.newLogger(cfg, defaultLevel)
	if err != nil {
		return nil, err
	}

	store, err := ledger.NewStore(ledger.StoreConfig{
		DataPath:     layout.DataPath,
		LockPath:     layout.LockPath,
		LockTimeout:  cfg.LockTimeout,
		StaleLockAge: cfg.StaleLockAge,
		PollInterval: cfg.PollInterval,
		Logger:       logger.Slog(),
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	mgr, err := claims.NewManager(store, claims.ManagerConfig{
		Root:           root,
		CaseFold:       cfg.CaseFoldOr(claims.DefaultCaseFold()),
		DefaultTTL:     cfg.DefaultTTL(),
		MaxTTL:         cfg.MaxTTL(),
		Logger:         logger.Slog(),
		TracingEnabled: cfg.Telemetry.TracingEnabled(),
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{
		layout:  layout,
		cfg:     cfg,
		logger:  logger,
		manager: mgr,
		gate:    gate.New(mgr, gate.Config{FailOpen: cfg.Gate.FailOpen, Logger: logger.Slog()}),
		printer: o.printer(),
	}, nil
}

func (o *globalOptions) newLogger(cfg config.Config, defaultLevel string) (*logging.Logger, error) {
	name := o.logLevel
	if name == "" {
		name = defaultLevel
	}
	if name == "" {
		name = cfg.Log.Level
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		return nil, usageError("%v", err)
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "claimchain",
		JSON:    cfg.Log.JSON,
		Output:  o.stderr,
	}), nil
}

// resolveFiles makes relative FILE arguments relative to the working
// directory when it lies inside the project, so "claim api.py" run from
// <root>/src names <root>/src/api.py. From outside the project (an
// explicit --root elsewhere) relative arguments stay root-relative.
func (a *app) resolveFiles(files []string) []string {
	sub, ok := a.workingSubdir()
	if !ok {
		return files
	}
	out := make([]string, len(files))
	for i, f := range files {
		native := filepath.FromSlash(strings.ReplaceAll(strings.TrimSpace(f), `\`, "/"))
		if native == "" || filepath.IsAbs(native) {
			out[i] = f
			continue
		}
		out[i] = filepath.Join(a.layout.Root, sub, native)
	}
	return out
}

func (a *app) resolveFile(file string) string {
	return a.resolveFiles([]string{file})[0]
}

// workingSubdir returns the working directory relative to the root.
func (a *app) workingSubdir() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	if rel, ok := subdir(a.layout.Root, wd); ok {
		return rel, true
	}
	root, err := filepath.EvalSymlinks(a.layout.Root)
	if err != nil {
		return "", false
	}
	if wd, err = filepath.EvalSymlinks(wd); err != nil {
		return "", false
	}
	return subdir(root, wd)
}

func subdir(root, dir string) (string, bool) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
