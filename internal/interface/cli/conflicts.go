package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sentinelfs/internal/interface/ipc"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Manage unresolved sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	RunE:  runConflictsList,
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id> <strategy-id>",
	Short: "Mark a conflict resolved under the given strategy",
	Args:  cobra.ExactArgs(2),
	RunE:  runConflictsResolve,
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	client, err := statusClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.ConflictsList(ctx)
	if err != nil {
		return fmt.Errorf("fetch conflicts: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}

	fmt.Printf("%-36s %-30s %-10s %-10s\n", "ID", "PATH", "LOCAL", "REMOTE")
	for _, c := range resp.Conflicts {
		fmt.Printf("%-36s %-30s %-10s %-10s\n", c.ID, c.Path,
			c.LocalMtime.Format("15:04:05"), c.RemoteMtime.Format("15:04:05"))
	}
	if len(resp.Conflicts) == 0 {
		fmt.Println("(no unresolved conflicts)")
	}

	return nil
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
	client, err := statusClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.ConflictsResolve(ctx, ipc.ResolveConflictRequest{
		ID:         args[0],
		StrategyID: args[1],
	})
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}

	fmt.Println(resp.Message)
	return nil
}
