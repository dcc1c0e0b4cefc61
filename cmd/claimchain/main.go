// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command claimchain coordinates file ownership between concurrent agents.
//
// Agents claim chains of related files before editing them; the check
// subcommand is wired into editing tools as a pre-write hook and denies
// writes to files the agent does not hold.
//
// Usage:
//
//	claimchain init
//	claimchain claim FILE... [--reason R] [--ttl MINUTES]
//	claimchain release CHAIN_ID
//	claimchain complete CHAIN_ID
//	claimchain extend CHAIN_ID --minutes N
//	claimchain status [--mine] [--history]
//	claimchain blocking FILE...
//	claimchain who FILE
//	claimchain sweep
//	claimchain release-agent AGENT
//	claimchain suggest FILE... [--depth N]
//	claimchain check [FILE] [--stdin]
//	claimchain serve [--addr HOST:PORT]
//
// Identity comes from --agent, CLAIMCHAIN_AGENT or AGENT_ID. The project
// root comes from --root, CLAIMCHAIN_ROOT, or the nearest ancestor
// holding a .coordination directory.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
