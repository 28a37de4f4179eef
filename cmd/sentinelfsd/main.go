// Command sentinelfsd runs the SentinelFS sync daemon in the
// foreground: it loads configuration, brings up the peer mesh and
// local watcher, serves the control socket, and blocks until
// terminated.
package main

import (
	"flag"
	"fmt"
	"os"

	"sentinelfs/internal/interface/cli"
)

func main() {
	cfgFile := flag.String("config", "", "config file path")
	flag.Parse()

	if err := cli.RunForeground(*cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "sentinelfsd:", err)
		os.Exit(1)
	}
}
