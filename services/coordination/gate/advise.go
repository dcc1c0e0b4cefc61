// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gate

import (
	"context"
	"fmt"
)

// DefaultAdviseDepth is the cluster depth used for advice.
const DefaultAdviseDepth = 2

// Clusterer is anything that can compute a dependency cluster.
// *depgraph.Graph and *depgraph.Analyzer both qualify.
type Clusterer interface {
	Cluster(file string, depth int) ([]string, error)
}

// Suggester computes the cluster around a set of files.
// *depgraph.Analyzer qualifies.
type Suggester interface {
	Suggest(files []string, depth int) ([]string, error)
}

// Advice lists the files an agent should hold before editing File, or
// Files when the advice covers several starting files.
type Advice struct {
	File  string   `json:"file,omitempty"`
	Files []string `json:"files,omitempty"`
	Depth int      `json:"depth"`

	// Cluster is every file within Depth hops of the starting files.
	Cluster []string `json:"cluster"`

	// Uncovered are cluster files the agent does not hold and nobody else does either.
	Uncovered []string `json:"uncovered"`

	// HeldByOthers maps cluster files to the agent holding them.
	HeldByOthers map[string]string `json:"held_by_others,omitempty"`
}

// Advise suggests the claim set for agentID before editing file.
//
// Purely advisory: nothing is enforced. Files whose claim status cannot
// be read are reported as uncovered.
func (g *Gate) Advise(ctx context.Context, agentID string, graph Clusterer, file string, depth int) (Advice, error) {
	if depth < 0 {
		depth = DefaultAdviseDepth
	}
	cluster, err := graph.Cluster(file, depth)
	if err != nil {
		return Advice{}, fmt.Errorf("computing cluster for %s: %w", file, err)
	}
	adv := Advice{File: file, Depth: depth}
	return g.classify(ctx, agentID, adv, cluster)
}

// AdviseChain is Advise for several starting files at once.
func (g *Gate) AdviseChain(ctx context.Context, agentID string, graph Suggester, files []string, depth int) (Advice, error) {
	if depth < 0 {
		depth = DefaultAdviseDepth
	}
	cluster, err := graph.Suggest(files, depth)
	if err != nil {
		return Advice{}, fmt.Errorf("computing cluster for %d files: %w", len(files), err)
	}
	adv := Advice{Files: files, Depth: depth}
	return g.classify(ctx, agentID, adv, cluster)
}

// classify splits cluster into uncovered files and files held by others.
func (g *Gate) classify(ctx context.Context, agentID string, adv Advice, cluster []string) (Advice, error) {
	adv.Cluster = cluster
	for _, f := range cluster {
		if err := ctx.Err(); err != nil {
			return Advice{}, err
		}
		chain, err := g.lookup.GetClaimForFile(ctx, f)
		switch {
		case err != nil:
			g.logger.Debug("Claim lookup failed during advice", "file", f, "error", err)
			adv.Uncovered = append(adv.Uncovered, f)
		case chain == nil:
			adv.Uncovered = append(adv.Uncovered, f)
		case chain.AgentID != agentID:
			if adv.HeldByOthers == nil {
				adv.HeldByOthers = make(map[string]string)
			}
			adv.HeldByOthers[f] = chain.AgentID
		}
	}
	return adv, nil
}
