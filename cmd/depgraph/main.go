// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command depgraph scans a source tree and answers dependency queries.
//
// Usage:
//
//	depgraph scan ROOT
//	depgraph deps ROOT FILE
//	depgraph dependents ROOT FILE
//	depgraph cluster ROOT FILE DEPTH
//	depgraph suggest ROOT FILE... [--depth N]
//	depgraph watch ROOT
//
// Exit codes: 0 success, 1 runtime error, 2 bad arguments.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
