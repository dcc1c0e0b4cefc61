// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package depgraph builds file-level import graphs and suggests claim sets.
//
// An Analyzer walks a source tree, extracts imports from Python, Go,
// JavaScript and TypeScript files with tree-sitter, and resolves them to
// other files in the same tree. The resulting Graph answers which files
// a file imports, which files import it, and which files lie within N
// hops in either direction. That neighbourhood is the set an agent should
// claim before editing, so that nobody else changes an interface it
// depends on mid-edit.
//
// Only in-tree imports become edges. Standard library, third-party and
// unresolvable imports are dropped. Monorepos with several module roots
// are treated as one tree.
package depgraph
