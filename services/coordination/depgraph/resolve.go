// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// scriptExtensions is the probe order for extensionless JS/TS specifiers.
var scriptExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".mts", ".cts"}

// compiledToSource maps an emitted extension to the sources it may come from.
// TypeScript projects import "./x.js" while the file on disk is x.ts.
var compiledToSource = map[string][]string{
	".js":  {".ts", ".tsx"},
	".jsx": {".tsx"},
	".mjs": {".mts"},
	".cjs": {".cts"},
}

// pythonSourceRoots are the directories absolute Python imports are tried from.
var pythonSourceRoots = []string{"", "src"}

// resolver maps raw imports to root-relative files of one scan.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type resolver struct {
	// files is every scanned file, keyed by root-relative slash path.
	files map[string]Language

	// goModule is the module path from root/go.mod, empty when absent.
	goModule string

	// goPackages maps a slash directory to its non-test .go files.
	goPackages map[string][]string
}

// newResolver indexes files for resolution.
func newResolver(root string, files map[string]Language) *resolver {
	r := &resolver{
		files:      files,
		goPackages: make(map[string][]string),
	}
	for f, lang := range files {
		if lang != LangGo || strings.HasSuffix(f, "_test.go") {
			continue
		}
		dir := path.Dir(f)
		r.goPackages[dir] = append(r.goPackages[dir], f)
	}
	r.goModule = readModulePath(filepath.Join(root, "go.mod"))
	return r
}

// readModulePath returns the module path declared in a go.mod, or "".
func readModulePath(goMod string) string {
	data, err := os.ReadFile(goMod)
	if err != nil {
		return ""
	}
	return modfile.ModulePath(data)
}

// resolve returns the files imp refers to, excluding from itself.
func (r *resolver) resolve(from string, lang Language, imp rawImport) []string {
	var targets []string
	switch {
	case lang == LangPython:
		targets = r.resolvePython(from, imp)
	case lang == LangGo:
		targets = r.resolveGo(imp.Module)
	case lang.isScript():
		if t, ok := r.resolveScript(from, imp.Module); ok {
			targets = []string{t}
		}
	}

	out := targets[:0]
	for _, t := range targets {
		if t != from {
			out = append(out, t)
		}
	}
	return out
}

// =============================================================================
// Python
// =============================================================================

func (r *resolver) resolvePython(from string, imp rawImport) []string {
	var bases []string
	if imp.Level > 0 {
		base := path.Dir(from)
		for i := 1; i < imp.Level; i++ {
			if base == "." {
				return nil
			}
			base = path.Dir(base)
		}
		bases = []string{joinModule(base, imp.Module)}
	} else {
		if imp.Module == "" {
			return nil
		}
		for _, sr := range pythonSourceRoots {
			bases = append(bases, joinModule(sr, imp.Module))
		}
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(f string) {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}

	for _, base := range bases {
		found := false
		if f, ok := r.pythonModuleFile(base); ok {
			add(f)
			found = true
		}
		// "from pkg import mod" may name submodules rather than attributes.
		for _, name := range imp.Names {
			if f, ok := r.pythonModuleFile(joinModule(base, name)); ok {
				add(f)
				found = true
			}
		}
		if found {
			break
		}
	}
	return out
}

// pythonModuleFile finds base.py or base/__init__.py.
func (r *resolver) pythonModuleFile(base string) (string, bool) {
	if base == "" || base == "." {
		return "", false
	}
	for _, cand := range []string{base + ".py", path.Join(base, "__init__.py")} {
		if _, ok := r.files[cand]; ok {
			return cand, true
		}
	}
	return "", false
}

// joinModule appends a dotted module name to a slash directory.
func joinModule(dir, module string) string {
	if module == "" {
		return dir
	}
	rel := strings.ReplaceAll(module, ".", "/")
	if dir == "" || dir == "." {
		return rel
	}
	return path.Join(dir, rel)
}

// =============================================================================
// Go
// =============================================================================

func (r *resolver) resolveGo(importPath string) []string {
	if r.goModule == "" {
		return nil
	}
	var dir string
	switch {
	case importPath == r.goModule:
		dir = "."
	case strings.HasPrefix(importPath, r.goModule+"/"):
		dir = strings.TrimPrefix(importPath, r.goModule+"/")
	default:
		return nil
	}
	pkgFiles := r.goPackages[dir]
	out := make([]string, len(pkgFiles))
	copy(out, pkgFiles)
	return out
}

// =============================================================================
// JavaScript / TypeScript
// =============================================================================

func (r *resolver) resolveScript(from, spec string) (string, bool) {
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") && spec != "." && spec != ".." {
		return "", false
	}
	if i := strings.IndexAny(spec, "?#"); i >= 0 {
		spec = spec[:i]
	}
	base := path.Join(path.Dir(from), spec)
	if base == ".." || strings.HasPrefix(base, "../") {
		return "", false
	}

	if _, ok := r.files[base]; ok {
		return base, true
	}
	if ext := path.Ext(base); ext != "" {
		stem := strings.TrimSuffix(base, ext)
		for _, src := range compiledToSource[ext] {
			if _, ok := r.files[stem+src]; ok {
				return stem + src, true
			}
		}
	}
	for _, ext := range scriptExtensions {
		if _, ok := r.files[base+ext]; ok {
			return base + ext, true
		}
	}
	for _, ext := range scriptExtensions {
		cand := path.Join(base, "index"+ext)
		if _, ok := r.files[cand]; ok {
			return cand, true
		}
	}
	return "", false
}
