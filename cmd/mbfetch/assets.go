package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mbfetch/mbfetch/internal/filter"
)

var (
	assetsRelease    string
	assetsArch       string
	assetsThreads    string
	assetsExceptions string
	assetsCRT        string
	assetsRuntime    string
)

func newAssetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List the archives of a release",
		Long: `List the downloadable archives of one release, optionally narrowed by
classification filters. Every filter defaults to "any"; an axis the
archive name does not declare only matches "any".`,
		Example: `  mbfetch assets
  mbfetch assets --release 13.2.0-rt_v11-rev1
  mbfetch assets --arch x86_64 --threads posix
  mbfetch assets --crt ucrt --exceptions seh`,
		RunE: assetsRun,
	}

	cmd.Flags().StringVar(&assetsRelease, "release", "latest", "release tag to list (or \"latest\")")
	cmd.Flags().StringVar(&assetsArch, "arch", "any", "architecture filter (any, i686, x86_64)")
	cmd.Flags().StringVar(&assetsThreads, "threads", "any", "thread model filter (any, posix, win32, mcf)")
	cmd.Flags().StringVar(&assetsExceptions, "exceptions", "any", "exception model filter (any, seh, dwarf)")
	cmd.Flags().StringVar(&assetsCRT, "crt", "any", "C runtime filter (any, ucrt, msvcrt)")
	cmd.Flags().StringVar(&assetsRuntime, "runtime", "any", "runtime revision filter (any, rt_v13)")

	return cmd
}

func assetsRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCatalog == nil {
		return fmt.Errorf("catalog client not initialized")
	}

	crit, err := filter.Parse(assetsArch, assetsThreads, assetsExceptions, assetsCRT, assetsRuntime)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rel, err := resolveRelease(ctx, assetsRelease)
	if err != nil {
		return fmt.Errorf("failed to fetch release: %w", err)
	}

	log.Info("asset listing", "release", rel.TagName, "assets", len(rel.Assets))

	matches := filter.Apply(crit, rel.Assets)
	if len(matches) == 0 {
		fmt.Println("No archives match the given filters")
		return nil
	}

	fmt.Printf("Archives in %s\n\n", rel.Label())
	fmt.Printf("%3s  %-56s %10s  %s\n", "#", "Name", "Size", "Tags")
	fmt.Println(strings.Repeat("-", 100))

	// The index is the archive's position in the unfiltered listing, so it
	// stays stable across filter changes.
	for _, m := range matches {
		fmt.Printf("%3d  %-56s %10s  %s\n", m.Index, m.Value.Name, humanize.IBytes(uint64(m.Value.Size)), m.Value.Tags)
	}

	fmt.Println("")

	return nil
}
