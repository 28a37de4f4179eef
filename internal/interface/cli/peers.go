package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List connected peers and their quality scores",
	RunE:  runPeersList,
}

var peersListJSON bool

func init() {
	rootCmd.AddCommand(peersCmd)
	peersCmd.Flags().BoolVar(&peersListJSON, "json", false, "print as JSON")
}

func runPeersList(cmd *cobra.Command, args []string) error {
	client, err := statusClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Peers(ctx)
	if err != nil {
		return fmt.Errorf("fetch peers: %w", err)
	}

	if peersListJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}

	fmt.Printf("%-36s %-10s %8s %8s %6s %6s\n",
		"PEER ID", "STATUS", "RTT", "JITTER", "LOSS", "SCORE")

	for _, p := range resp.Peers {
		fmt.Printf("%-36s %-10s %8s %7.1fms %5.1f%% %6.0f\n",
			p.ID, p.Status, p.RTTAvg.Round(time.Millisecond), p.JitterMS, p.LossRate*100, p.Score)
	}

	if len(resp.Peers) == 0 {
		fmt.Println("(no peers)")
	}

	return nil
}
