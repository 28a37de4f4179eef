package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sentinelfs/internal/infrastructure/config"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage the local data directory",
}

var (
	purgeForce       bool
	purgeKeepConfig  bool
	purgeKeepBackups bool
)

var dataPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all local data",
	Long: `Deletes everything under the data directory:

  - the BadgerDB store (files, peers, conflicts, sync queue, pins)
  - stored file versions
  - the TLS identity certificate and key
  - backup files

Flags:
  --keep-config   keep config.yaml
  --keep-backups  keep the backups/ directory
  --force         skip the confirmation prompt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := getDataDir()
		if err != nil {
			return err
		}

		if _, err := os.Stat(dataDir); os.IsNotExist(err) {
			fmt.Println("data directory does not exist")
			return nil
		}

		fmt.Printf("data directory: %s\n\n", dataDir)
		fmt.Println("will delete:")

		entries, err := os.ReadDir(dataDir)
		if err != nil {
			return fmt.Errorf("read data directory: %w", err)
		}

		var toDelete []string
		var toKeep []string

		for _, entry := range entries {
			name := entry.Name()

			if purgeKeepConfig && name == "config.yaml" {
				toKeep = append(toKeep, name)
				continue
			}
			if purgeKeepBackups && strings.HasPrefix(name, "backup") {
				toKeep = append(toKeep, name)
				continue
			}

			toDelete = append(toDelete, name)
			fmt.Printf("  - %s\n", name)
		}

		if len(toDelete) == 0 {
			fmt.Println("  (nothing to delete)")
			return nil
		}

		if len(toKeep) > 0 {
			fmt.Println("\nwill keep:")
			for _, name := range toKeep {
				fmt.Printf("  - %s\n", name)
			}
		}

		if !purgeForce {
			fmt.Print("\nproceed? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			response, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read confirmation: %w", err)
			}

			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Println("cancelled")
				return nil
			}
		}

		fmt.Println()
		for _, name := range toDelete {
			path := filepath.Join(dataDir, name)
			if err := os.RemoveAll(path); err != nil {
				fmt.Printf("  failed to delete %s: %v\n", name, err)
			} else {
				fmt.Printf("  deleted %s\n", name)
			}
		}

		remaining, _ := os.ReadDir(dataDir)
		if len(remaining) == 0 {
			if err := os.Remove(dataDir); err == nil {
				fmt.Printf("\nremoved data directory: %s\n", dataDir)
			}
		}

		fmt.Println("\ndone")
		return nil
	},
}

var dataPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the data directory path",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := getDataDir()
		if err != nil {
			return err
		}
		fmt.Println(dataDir)
		return nil
	},
}

var dataInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show data directory usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := getDataDir()
		if err != nil {
			return err
		}

		if _, err := os.Stat(dataDir); os.IsNotExist(err) {
			fmt.Println("data directory does not exist")
			return nil
		}

		fmt.Printf("data directory: %s\n\n", dataDir)

		entries, err := os.ReadDir(dataDir)
		if err != nil {
			return fmt.Errorf("read data directory: %w", err)
		}

		var totalSize int64
		fmt.Println("usage by item:")

		for _, entry := range entries {
			path := filepath.Join(dataDir, entry.Name())
			size, err := getDirSize(path)
			if err != nil {
				continue
			}
			totalSize += size
			fmt.Printf("  %-25s %s\n", entry.Name(), formatSize(size))
		}

		fmt.Printf("\ntotal: %s\n", formatSize(totalSize))
		return nil
	},
}

func getDataDir() (string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.DataDir, nil
}

func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func init() {
	rootCmd.AddCommand(dataCmd)

	dataCmd.AddCommand(dataPurgeCmd)
	dataCmd.AddCommand(dataPathCmd)
	dataCmd.AddCommand(dataInfoCmd)

	dataPurgeCmd.Flags().BoolVarP(&purgeForce, "force", "f", false, "skip confirmation")
	dataPurgeCmd.Flags().BoolVar(&purgeKeepConfig, "keep-config", false, "keep config.yaml")
	dataPurgeCmd.Flags().BoolVar(&purgeKeepBackups, "keep-backups", false, "keep backups")
}
