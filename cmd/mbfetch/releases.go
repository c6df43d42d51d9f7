package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var releasesLimit int

func newReleasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "releases",
		Short: "List published toolchain releases",
		Long: `List the published releases from the catalog, newest first. Each line
shows the release tag, its publication date, and how many archives it
carries.`,
		Example: `  mbfetch releases
  mbfetch releases --limit 5`,
		RunE: releasesRun,
	}

	cmd.Flags().IntVar(&releasesLimit, "limit", 10, "maximum number of releases to list (0 for all)")

	return cmd
}

func releasesRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCatalog == nil {
		return fmt.Errorf("catalog client not initialized")
	}

	ctx := context.Background()
	releases, err := globalCatalog.Releases(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch releases: %w", err)
	}

	log.Info("release listing", "count", len(releases), "limit", releasesLimit)

	if releasesLimit > 0 && len(releases) > releasesLimit {
		releases = releases[:releasesLimit]
	}

	if len(releases) == 0 {
		fmt.Println("No releases found")
		return nil
	}

	fmt.Printf("%-36s %6s\n", "Release", "Assets")
	fmt.Println(strings.Repeat("-", 44))

	for _, rel := range releases {
		fmt.Printf("%-36s %6d\n", rel.Label(), len(rel.Assets))
	}

	fmt.Println("")

	return nil
}
