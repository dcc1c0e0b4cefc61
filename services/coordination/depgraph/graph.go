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
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Graph is the import graph of one scan.
//
// # Description
//
// Nodes are root-relative slash paths. An edge a -> b means a imports b.
// Both directions are indexed so clusters can expand through importers
// and imports alike.
//
// # Thread Safety
//
// Immutable once returned by Scan; safe for concurrent reads.
type Graph struct {
	root        string
	nodes       map[string]Language
	forward     map[string]map[string]struct{}
	reverse     map[string]map[string]struct{}
	parseErrors []string
	edges       int
	scannedAt   time.Time
	duration    time.Duration
}

// Stats summarizes a graph.
type Stats struct {
	Root        string         `json:"root"`
	Files       int            `json:"files"`
	Edges       int            `json:"edges"`
	ParseErrors int            `json:"parse_errors"`
	ByLanguage  map[string]int `json:"by_language"`
	ScannedAt   time.Time      `json:"scanned_at"`
	DurationMs  int64          `json:"duration_ms"`
}

func newGraph(root string) *Graph {
	return &Graph{
		root:    root,
		nodes:   make(map[string]Language),
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

func (g *Graph) addNode(file string, lang Language) {
	g.nodes[file] = lang
}

func (g *Graph) addEdge(from, to string) {
	if from == to {
		return
	}
	out, ok := g.forward[from]
	if !ok {
		out = make(map[string]struct{})
		g.forward[from] = out
	}
	if _, dup := out[to]; dup {
		return
	}
	out[to] = struct{}{}

	in, ok := g.reverse[to]
	if !ok {
		in = make(map[string]struct{})
		g.reverse[to] = in
	}
	in[from] = struct{}{}
	g.edges++
}

// Root returns the absolute directory the graph was scanned from.
func (g *Graph) Root() string {
	return g.root
}

// Files returns every node, sorted.
func (g *Graph) Files() []string {
	out := make([]string, 0, len(g.nodes))
	for f := range g.nodes {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// HasFile reports whether file is a node of the graph.
func (g *Graph) HasFile(file string) bool {
	_, ok := g.nodes[g.Key(file)]
	return ok
}

// Key converts a path to the graph's node form.
//
// Backslashes become slashes, "./" and redundant segments are cleaned,
// and absolute paths under the root are made relative.
func (g *Graph) Key(file string) string {
	file = strings.TrimSpace(file)
	if file == "" {
		return ""
	}
	if filepath.IsAbs(file) && g.root != "" {
		if rel, err := filepath.Rel(g.root, file); err == nil && !strings.HasPrefix(rel, "..") {
			file = rel
		}
	}
	file = strings.ReplaceAll(file, `\`, "/")
	file = path.Clean(file)
	return strings.TrimPrefix(file, "./")
}

// Dependencies returns the files that file imports, sorted.
// A file outside the graph has none.
func (g *Graph) Dependencies(file string) []string {
	return sortedKeys(g.forward[g.Key(file)])
}

// Dependents returns the files that import file, sorted.
func (g *Graph) Dependents(file string) []string {
	return sortedKeys(g.reverse[g.Key(file)])
}

// Cluster returns the files within depth hops of file in either direction.
//
// # Description
//
// Breadth-first over the union of forward and reverse edges with a
// visited set, so cycles terminate. The result always contains file
// itself, even when it is not in the graph (a file about to be created
// still needs claiming). Depth 0 returns just file.
//
// # Inputs
//
//   - file: Path in any accepted form (see Key).
//   - depth: Maximum hop count. Must be >= 0.
//
// # Outputs
//
//   - []string: Sorted cluster members.
//   - error: ErrInvalidDepth for a negative depth.
func (g *Graph) Cluster(file string, depth int) ([]string, error) {
	if depth < 0 {
		return nil, fmt.Errorf("%w: %d (must be >= 0)", ErrInvalidDepth, depth)
	}
	start := g.Key(file)
	if start == "" || start == "." {
		return nil, fmt.Errorf("invalid file %q", file)
	}

	visited := map[string]struct{}{start: {}}
	frontier := []string{start}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, f := range frontier {
			for _, adj := range []map[string]struct{}{g.forward[f], g.reverse[f]} {
				for n := range adj {
					if _, seen := visited[n]; seen {
						continue
					}
					visited[n] = struct{}{}
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return sortedKeys(visited), nil
}

// Suggest returns the sorted union of the clusters of files.
//
// This is the recommended claim set for an agent about to touch files.
func (g *Graph) Suggest(files []string, depth int) ([]string, error) {
	if depth < 0 {
		return nil, fmt.Errorf("%w: %d (must be >= 0)", ErrInvalidDepth, depth)
	}
	union := make(map[string]struct{})
	for _, f := range files {
		members, err := g.Cluster(f, depth)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			union[m] = struct{}{}
		}
	}
	return sortedKeys(union), nil
}

// ParseErrors returns the files that failed to parse, sorted.
func (g *Graph) ParseErrors() []string {
	out := make([]string, len(g.parseErrors))
	copy(out, g.parseErrors)
	return out
}

// Stats summarizes the graph.
func (g *Graph) Stats() Stats {
	byLang := make(map[string]int)
	for _, lang := range g.nodes {
		byLang[string(lang)]++
	}
	return Stats{
		Root:        g.root,
		Files:       len(g.nodes),
		Edges:       g.edges,
		ParseErrors: len(g.parseErrors),
		ByLanguage:  byLang,
		ScannedAt:   g.scannedAt,
		DurationMs:  g.duration.Milliseconds(),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
