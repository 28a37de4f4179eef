package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sentinelfs/internal/interface/ipc"
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage pinned TLS certificates",
}

var pinListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pinned certificates",
	RunE:  runPinList,
}

var pinRotateCmd = &cobra.Command{
	Use:   "rotate <hostname> <new-spki-b64>",
	Short: "Replace the pinned key for a hostname",
	Args:  cobra.ExactArgs(2),
	RunE:  runPinRotate,
}

var (
	pinRotateOldSPKI     string
	pinRotateBackupDays  int
)

func init() {
	rootCmd.AddCommand(pinCmd)
	pinCmd.AddCommand(pinListCmd)
	pinCmd.AddCommand(pinRotateCmd)

	pinRotateCmd.Flags().StringVar(&pinRotateOldSPKI, "old-spki", "", "expected current pinned SPKI hash, base64 (optional)")
	pinRotateCmd.Flags().IntVar(&pinRotateBackupDays, "backup-days", 30, "days to keep the replaced pin as a rollback backup")
}

func runPinList(cmd *cobra.Command, args []string) error {
	client, err := statusClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.PinList(ctx)
	if err != nil {
		return fmt.Errorf("fetch pins: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}

	fmt.Printf("%-30s %-44s %s\n", "HOSTNAME", "SPKI (base64)", "EXPIRES")
	for _, p := range resp.Pins {
		expires := "never"
		if p.ExpiresAtEpoch != 0 {
			expires = time.Unix(p.ExpiresAtEpoch, 0).Format(time.RFC3339)
		}
		fmt.Printf("%-30s %-44s %s\n", p.HostnamePattern, p.SPKIHashB64, expires)
		if p.Comment != "" {
			fmt.Printf("  %s\n", p.Comment)
		}
	}
	if len(resp.Pins) == 0 {
		fmt.Println("(no pinned certificates)")
	}

	return nil
}

func runPinRotate(cmd *cobra.Command, args []string) error {
	client, err := statusClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.PinRotate(ctx, ipc.PinRotateRequest{
		Hostname:   args[0],
		OldSPKI:    pinRotateOldSPKI,
		NewSPKI:    args[1],
		BackupDays: pinRotateBackupDays,
	})
	if err != nil {
		return fmt.Errorf("rotate pin: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}

	fmt.Println(resp.Message)
	return nil
}
