// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"fmt"
	"os"
	"path/filepath"
)

// Coordination directory layout.
const (
	// DefaultDirName is the metadata directory searched for by Discover.
	DefaultDirName = ".coordination"

	// DataFileName is the ledger document inside the metadata directory.
	DataFileName = "ledger.json"

	// LockFileName is the dedicated lock file inside the metadata directory.
	LockFileName = "ledger.lock"

	// ConfigFileName is the optional YAML config inside the metadata directory.
	ConfigFileName = "config.yaml"
)

// Layout names the files of one coordinated project.
type Layout struct {
	// Root is the project root: the directory containing Dir.
	Root string

	// Dir is the coordination metadata directory.
	Dir string

	DataPath   string
	LockPath   string
	ConfigPath string
}

// NewLayout returns the layout for a project root.
func NewLayout(root string) Layout {
	dir := filepath.Join(root, DefaultDirName)
	return Layout{
		Root:       root,
		Dir:        dir,
		DataPath:   filepath.Join(dir, DataFileName),
		LockPath:   filepath.Join(dir, LockFileName),
		ConfigPath: filepath.Join(dir, ConfigFileName),
	}
}

// Discover walks upward from start to the first ancestor holding dirName.
//
// # Description
//
// start itself is checked first. The walk stops at the filesystem root.
// An empty dirName means DefaultDirName.
//
// # Outputs
//
//   - string: The absolute project root (the directory containing dirName).
//   - error: ErrNotDiscovered if no ancestor qualifies.
func Discover(start, dirName string) (string, error) {
	if dirName == "" {
		dirName = DefaultDirName
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}

	dir := abs
	for {
		info, err := os.Stat(filepath.Join(dir, dirName))
		if err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s above %s", ErrNotDiscovered, dirName, abs)
		}
		dir = parent
	}
}

// Init creates the metadata directory and an empty ledger if missing.
//
// An existing ledger is left untouched.
func Init(layout Layout) error {
	if err := os.MkdirAll(layout.Dir, 0750); err != nil {
		return fmt.Errorf("create %s: %w", layout.Dir, err)
	}
	if _, err := os.Stat(layout.DataPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat ledger: %w", err)
	}
	f, err := os.OpenFile(layout.DataPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString("{\n  \"claim_chains\": []\n}\n"); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return f.Sync()
}
