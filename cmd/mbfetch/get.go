package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mbfetch/mbfetch/internal/catalog"
	"github.com/mbfetch/mbfetch/internal/filter"
	"github.com/mbfetch/mbfetch/internal/progress"
	"github.com/mbfetch/mbfetch/internal/transfer"
)

var (
	getRelease    string
	getAsset      string
	getArch       string
	getThreads    string
	getExceptions string
	getCRT        string
	getRuntime    string
	getNoExtract  bool
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Download an archive and unpack it",
		Long: `Download one archive from a release and extract it into a directory
named after the archive next to the downloaded file. The archive to
fetch is selected either by exact name with --asset or by narrowing the
classification filters until exactly one archive remains.

Press Ctrl-C to cancel a running transfer; a partial file may remain on
disk.`,
		Example: `  mbfetch get --arch x86_64 --threads posix --exceptions seh --crt ucrt
  mbfetch get --release 13.2.0-rt_v11-rev1 --asset i686-13.2.0-release-win32-dwarf-msvcrt-rt_v11-rev1.7z
  mbfetch get --arch i686 --no-extract`,
		RunE: getRun,
	}

	cmd.Flags().StringVar(&getRelease, "release", "latest", "release tag to fetch from (or \"latest\")")
	cmd.Flags().StringVar(&getAsset, "asset", "", "exact archive name to fetch")
	cmd.Flags().StringVar(&getArch, "arch", "any", "architecture filter (any, i686, x86_64)")
	cmd.Flags().StringVar(&getThreads, "threads", "any", "thread model filter (any, posix, win32, mcf)")
	cmd.Flags().StringVar(&getExceptions, "exceptions", "any", "exception model filter (any, seh, dwarf)")
	cmd.Flags().StringVar(&getCRT, "crt", "any", "C runtime filter (any, ucrt, msvcrt)")
	cmd.Flags().StringVar(&getRuntime, "runtime", "any", "runtime revision filter (any, rt_v13)")
	cmd.Flags().BoolVar(&getNoExtract, "no-extract", false, "download only, skip extraction")

	return cmd
}

func getRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalOrchestrator == nil {
		return fmt.Errorf("orchestrator not initialized")
	}

	ctx := context.Background()
	rel, err := resolveRelease(ctx, getRelease)
	if err != nil {
		return fmt.Errorf("failed to fetch release: %w", err)
	}

	asset, err := selectAsset(rel)
	if err != nil {
		return err
	}

	log.Info("fetching archive",
		"release", rel.TagName,
		"asset", asset.Name,
		"size", asset.Size,
		"extract", !getNoExtract,
	)

	h, err := globalOrchestrator.Start(ctx, transfer.Request{
		URL:       asset.BrowserDownloadURL,
		AssetName: asset.Name,
		Size:      asset.Size,
		OutputDir: globalCfg.Download.OutputDir,
		Extract:   !getNoExtract,
	})
	if err != nil {
		return fmt.Errorf("failed to start transfer: %w", err)
	}

	// Ctrl-C cancels the transfer; the event loop below then drains the
	// terminal failure event and reports it.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ninterrupt received, cancelling transfer")
		globalOrchestrator.Cancel()
	}()

	lastPhase := progress.PhaseIdle
	for ev := range h.Events() {
		renderEvent(ev, &lastPhase)
	}

	snap := h.Snapshot()
	if snap.Phase == progress.PhaseFailed {
		return fmt.Errorf("transfer failed (%s): %s", snap.Reason, snap.Message)
	}

	return nil
}

// selectAsset picks exactly one archive from the release, either by exact
// name or by filters. Ambiguous filters list the candidates and fail.
func selectAsset(rel catalog.Release) (catalog.Asset, error) {
	if getAsset != "" {
		for _, a := range rel.Assets {
			if a.Name == getAsset {
				return a, nil
			}
		}
		return catalog.Asset{}, fmt.Errorf("asset not found in release %s: %s", rel.TagName, getAsset)
	}

	crit, err := filter.Parse(getArch, getThreads, getExceptions, getCRT, getRuntime)
	if err != nil {
		return catalog.Asset{}, err
	}

	matches := filter.Apply(crit, rel.Assets)
	switch len(matches) {
	case 0:
		return catalog.Asset{}, fmt.Errorf("no archive in release %s matches the given filters", rel.TagName)
	case 1:
		return matches[0].Value, nil
	}

	fmt.Printf("Filters match %d archives in %s:\n", len(matches), rel.TagName)
	for _, m := range matches {
		fmt.Printf("  - %s\n", m.Value.Name)
	}
	return catalog.Asset{}, fmt.Errorf("filters are ambiguous; narrow them or use --asset")
}

// renderEvent prints one progress event. Phase entries get their own line,
// intermediate ticks redraw in place, terminal events close the line.
func renderEvent(ev progress.Event, lastPhase *progress.TransferPhase) {
	if ev.Phase != *lastPhase {
		if *lastPhase == progress.PhaseDownloading || *lastPhase == progress.PhaseExtracting {
			fmt.Println("")
		}
		*lastPhase = ev.Phase
		switch ev.Phase {
		case progress.PhaseDownloading, progress.PhaseCountingEntries, progress.PhaseExtracting:
			fmt.Println(ev.Message)
		}
	}

	switch ev.Phase {
	case progress.PhaseDownloading:
		if quiet {
			return
		}
		if ev.Indeterminate() {
			fmt.Printf("\r  %s", humanize.IBytes(uint64(ev.BytesDone)))
		} else {
			fmt.Printf("\r  %5.1f%%  %s / %s", ev.Percent,
				humanize.IBytes(uint64(ev.BytesDone)), humanize.IBytes(uint64(ev.BytesTotal)))
		}
	case progress.PhaseExtracting:
		if quiet {
			return
		}
		if ev.Indeterminate() {
			fmt.Printf("\r  %d entries", ev.EntriesDone)
		} else {
			fmt.Printf("\r  %5.1f%%  %d / %d entries", ev.Percent, ev.EntriesDone, ev.EntriesTotal)
		}
	case progress.PhaseDone:
		fmt.Println(ev.Message)
	case progress.PhaseFailed:
		fmt.Printf("FAILED: %s\n", ev.Message)
	}
}
