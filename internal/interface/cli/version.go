package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// buildCommit and buildDate are set via -ldflags at release build time;
// they default to "unknown" for local `go build` invocations.
var (
	buildCommit = "unknown"
	buildDate   = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var versionShort bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionShort, "short", "s", false, "print only the version number")
}

func runVersion(cmd *cobra.Command, args []string) {
	if versionShort {
		fmt.Println(version)
		return
	}

	fmt.Printf("sentinelfsctl %s\n", version)
	fmt.Printf("  Commit:  %s\n", buildCommit)
	fmt.Printf("  Built:   %s\n", buildDate)
	fmt.Printf("  Go:      %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// SetVersionInfo overrides version, commit, and build date, called
// from cmd/sentinelfsctl's main before Execute.
func SetVersionInfo(v, commit, date string) {
	version = v
	buildCommit = commit
	buildDate = date
}
