package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyStatus string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Display recorded transfers",
		Long: `Display the recorded transfer history, newest first. Shows when each
transfer started, what it fetched, its terminal status, the bytes
written, and the failure reason if any.`,
		Example: `  mbfetch history
  mbfetch history --limit 5
  mbfetch history --status failed`,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of transfers to show (0 for all)")
	cmd.Flags().StringVar(&historyStatus, "status", "", "only show transfers with this status (running, done, failed)")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	log.Info("history request", "limit", historyLimit, "status", historyStatus)

	records, err := globalStore.ListTransfers(historyStatus, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list transfers: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No transfers recorded")
		return nil
	}

	fmt.Println("Transfer History")
	fmt.Println("================")
	fmt.Println("")
	fmt.Printf("%-17s %-52s %-8s %10s %s\n", "Started", "Asset", "Status", "Size", "Reason")
	fmt.Println(strings.Repeat("-", 100))

	for _, rec := range records {
		reason := rec.Reason
		if reason == "" {
			reason = "-"
		}

		fmt.Printf("%-17s %-52s %-8s %10s %s\n",
			rec.StartedAt.Format("2006-01-02 15:04"),
			rec.AssetName,
			rec.Status,
			humanize.IBytes(uint64(rec.BytesWritten)),
			reason,
		)
	}

	fmt.Println("")

	return nil
}
