package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "sentinelfsctl",
	Short: "Control surface for the SentinelFS sync daemon",
	Long: `sentinelfsctl talks to a running sentinelfsd over its local
control socket to report status, manage peers, rotate pinned TLS
certificates, and resolve sync conflicts.

Getting started:
  sentinelfsd --config sentinelfs.yaml   run the daemon in the foreground
  sentinelfsctl status                   check sync state and peer count
  sentinelfsctl peers                    list connected peers and scores
  sentinelfsctl pin list                 inspect pinned certificates`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot locate home directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home + "/.sentinelfs")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SENTINELFS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
		}
	}
}
