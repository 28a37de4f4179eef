package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"sentinelfs/internal/infrastructure/config"
	"sentinelfs/internal/interface/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report sync daemon status",
	RunE:  runStatus,
}

var (
	statusJSON  bool
	statusWatch bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print as JSON")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "live-refresh view")
}

func statusClient() (*ipc.Client, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return ipc.NewClient(cfg.IPCSocketPath), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := statusClient()
	if err != nil {
		return err
	}

	if statusWatch {
		return runStatusWatch(client)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}
	return printStatus(resp)
}

func printStatus(resp ipc.StatusResponse) error {
	if statusJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	uptime := "n/a"
	if !resp.StartedAt.IsZero() {
		uptime = time.Since(resp.StartedAt).Round(time.Second).String()
	}

	fmt.Println("=== SentinelFS Status ===")
	fmt.Printf("Node ID             : %s\n", resp.NodeID)
	fmt.Printf("Uptime              : %s\n", uptime)
	fmt.Printf("Watched directories : %d\n", len(resp.WatchedDirs))
	for _, dir := range resp.WatchedDirs {
		fmt.Printf("  - %s\n", dir)
	}
	fmt.Printf("Connected peers     : %d\n", resp.PeerCount)
	fmt.Printf("Unresolved conflicts: %d\n", resp.UnresolvedConflicts)
	fmt.Printf("Sync queue depth    : %d\n", resp.SyncQueueDepth)
	if resp.Error != "" {
		fmt.Printf("Error               : %s\n", resp.Error)
	}

	return nil
}

func runStatusWatch(client *ipc.Client) error {
	program := tea.NewProgram(newWatchModel(client))
	_, err := program.Run()
	return err
}
