// Command backup is an encrypted, deduplicating backup and restore tool
// for OpenStack Swift-compatible object storage.
package main

import (
	"fmt"
	"os"

	"github.com/ottervault/backup/cmd/backup/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
