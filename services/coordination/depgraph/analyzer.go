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
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxFileSize is the largest source file that is parsed. Larger
// files still become nodes, with no edges.
const DefaultMaxFileSize = 2 << 20

// DefaultSkipDirs are never descended into.
var DefaultSkipDirs = []string{".git", "node_modules", "vendor", "__pycache__", ".venv", ".coordination"}

// AnalyzerOptions configures an Analyzer.
type AnalyzerOptions struct {
	// Logger receives scan progress. Defaults to slog.Default().
	Logger *slog.Logger

	// Workers is the parse parallelism. Defaults to runtime.NumCPU().
	Workers int

	// SkipDirs are directory base names never descended into.
	SkipDirs []string

	// MaxFileSize bounds the bytes read per file.
	MaxFileSize int64
}

// AnalyzerOption is a functional option for configuring Analyzer.
type AnalyzerOption func(*AnalyzerOptions)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AnalyzerOption {
	return func(o *AnalyzerOptions) {
		o.Logger = l
	}
}

// WithWorkers sets the number of parallel parsers.
func WithWorkers(n int) AnalyzerOption {
	return func(o *AnalyzerOptions) {
		o.Workers = n
	}
}

// WithSkipDirs adds directory names to skip on top of DefaultSkipDirs.
func WithSkipDirs(dirs ...string) AnalyzerOption {
	return func(o *AnalyzerOptions) {
		o.SkipDirs = append(o.SkipDirs, dirs...)
	}
}

// WithMaxFileSize sets the largest file that is parsed.
func WithMaxFileSize(n int64) AnalyzerOption {
	return func(o *AnalyzerOptions) {
		o.MaxFileSize = n
	}
}

// Analyzer scans source trees into import graphs.
//
// # Description
//
// Each Scan builds a fresh Graph and swaps it in as the current one.
// The query methods on Analyzer operate on the current graph and fail
// with *PreconditionError before the first successful Scan.
//
// # Thread Safety
//
// Safe for concurrent use. Scans may overlap; the last to finish wins.
type Analyzer struct {
	mu     sync.RWMutex
	graph  *Graph
	opts   AnalyzerOptions
	skip   map[string]struct{}
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer.
//
// Example:
//
//	a := depgraph.NewAnalyzer(depgraph.WithWorkers(4))
//	g, err := a.Scan(ctx, "/path/to/repo")
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	options := AnalyzerOptions{
		SkipDirs:    append([]string(nil), DefaultSkipDirs...),
		MaxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Workers <= 0 {
		options.Workers = runtime.NumCPU()
	}
	if options.MaxFileSize <= 0 {
		options.MaxFileSize = DefaultMaxFileSize
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	skip := make(map[string]struct{}, len(options.SkipDirs))
	for _, d := range options.SkipDirs {
		skip[d] = struct{}{}
	}
	return &Analyzer{
		opts:   options,
		skip:   skip,
		logger: options.Logger.With("component", "depgraph.Analyzer"),
	}
}

// Graph returns the most recent scan, or nil before any.
func (a *Analyzer) Graph() *Graph {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.graph
}

// Scan builds the import graph of root and makes it current.
//
// # Description
//
// Walks root, parses every supported file in parallel, then resolves
// imports against the set of scanned files. Imports that do not land on
// a scanned file (stdlib, third-party, missing) are dropped. A file that
// fails to parse is still a node, with no outgoing edges, and is listed
// in ParseErrors.
//
// # Inputs
//
//   - ctx: Cancels the walk and the parsers.
//   - root: Directory to scan.
//
// # Outputs
//
//   - *Graph: The new graph.
//   - error: ErrRootNotFound, or ctx.Err() when cancelled.
func (a *Analyzer) Scan(ctx context.Context, root string) (*Graph, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}

	files, err := a.collect(ctx, absRoot)
	if err != nil {
		return nil, err
	}

	rels := make([]string, 0, len(files))
	for rel := range files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	results := make([]parsed, len(rels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i, rel := range rels {
		g.Go(func() error {
			res, err := a.parseFile(gctx, absRoot, rel, files[rel])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	graph := newGraph(absRoot)
	res := newResolver(absRoot, files)
	for i, rel := range rels {
		graph.addNode(rel, files[rel])
		if results[i].hasError {
			graph.parseErrors = append(graph.parseErrors, rel)
			continue
		}
		for _, imp := range results[i].imports {
			for _, target := range res.resolve(rel, files[rel], imp) {
				graph.addEdge(rel, target)
			}
		}
	}
	graph.scannedAt = start.UTC()
	graph.duration = time.Since(start)

	a.mu.Lock()
	a.graph = graph
	a.mu.Unlock()

	recordScan(ctx, graph)
	a.logger.Info("Dependency scan complete",
		"root", absRoot,
		"files", len(graph.nodes),
		"edges", graph.edges,
		"parse_errors", len(graph.parseErrors),
		"duration", graph.duration)
	return graph, nil
}

// collect walks root and returns supported files by slash path.
func (a *Analyzer) collect(ctx context.Context, root string) (map[string]Language, error) {
	files := make(map[string]Language)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			a.logger.Debug("Skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != root && a.skipped(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		lang, ok := LanguageFor(d.Name())
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		files[filepath.ToSlash(rel)] = lang
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (a *Analyzer) skipped(name string) bool {
	_, ok := a.skip[name]
	return ok
}

// parseFile reads and parses one file. Read failures and oversize files
// are logged and produce a node with no imports.
func (a *Analyzer) parseFile(ctx context.Context, root, rel string, lang Language) (parsed, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		a.logger.Debug("Skipping unreadable file", "file", rel, "error", err)
		return parsed{}, nil
	}
	if info.Size() > a.opts.MaxFileSize {
		a.logger.Debug("Skipping oversize file", "file", rel, "size", info.Size())
		return parsed{}, nil
	}
	content, err := os.ReadFile(full)
	if err != nil {
		a.logger.Debug("Skipping unreadable file", "file", rel, "error", err)
		return parsed{}, nil
	}

	res, err := extractImports(ctx, lang, content)
	if err != nil {
		if ctx.Err() != nil {
			return parsed{}, ctx.Err()
		}
		a.logger.Warn("Parse failed", "file", rel, "error", err)
		return parsed{hasError: true}, nil
	}
	if res.hasError {
		a.logger.Debug("Syntax errors, no edges recorded", "file", rel)
	}
	return res, nil
}

// current returns the graph or a PreconditionError naming op.
func (a *Analyzer) current(op string) (*Graph, error) {
	g := a.Graph()
	if g == nil {
		return nil, &PreconditionError{Op: op}
	}
	return g, nil
}

// Dependencies returns the files that file imports in the current graph.
func (a *Analyzer) Dependencies(file string) ([]string, error) {
	g, err := a.current("dependencies")
	if err != nil {
		return nil, err
	}
	return g.Dependencies(file), nil
}

// Dependents returns the files that import file in the current graph.
func (a *Analyzer) Dependents(file string) ([]string, error) {
	g, err := a.current("dependents")
	if err != nil {
		return nil, err
	}
	return g.Dependents(file), nil
}

// Cluster returns the depth-bounded neighbourhood of file in the current graph.
func (a *Analyzer) Cluster(file string, depth int) ([]string, error) {
	g, err := a.current("cluster")
	if err != nil {
		return nil, err
	}
	return g.Cluster(file, depth)
}

// Suggest returns the union of clusters of files in the current graph.
func (a *Analyzer) Suggest(files []string, depth int) ([]string, error) {
	g, err := a.current("suggest")
	if err != nil {
		return nil, err
	}
	return g.Suggest(files, depth)
}
