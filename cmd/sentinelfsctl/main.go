// Command sentinelfsctl is the control CLI for a running sentinelfsd:
// status, peers, pin rotation, conflict resolution, and starting or
// stopping the daemon itself.
package main

import (
	"fmt"
	"os"

	"sentinelfs/internal/interface/cli"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
