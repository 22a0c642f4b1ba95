package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/exec"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the docker image cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget images not used recently",
	Long: `Drop images from the cache manifest that no docker step used within
--max-age. The next step using a dropped image pulls it again and records
its digest afresh.

Examples:
  cigate cache prune
  cigate cache prune --max-age 72h
`,
	Args: cobra.NoArgs,
	RunE: runCachePrune,
}

var cacheMaxAge time.Duration

func init() {
	cachePruneCmd.Flags().DurationVar(&cacheMaxAge, "max-age", imageCacheMaxAge, "forget images unused for longer than this")

	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	_, cfg, err := loadConfig(cc)
	if err != nil {
		return err
	}

	cache := exec.NewImageCache(cfg.Path("cache", "images"), cacheMaxAge)
	if err := cache.LoadManifest(); err != nil {
		return err
	}
	removed, err := cache.PruneCache(cacheMaxAge)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, image := range removed {
		fmt.Fprintf(out, "pruned %s\n", image)
	}
	fmt.Fprintf(out, "%d image(s) pruned\n", len(removed))
	return nil
}
