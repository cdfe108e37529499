package commands

import (
	"context"
	"fmt"

	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/spf13/cobra"
)

var cleanupOrphaned bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up cache leftovers",
	Long: `Clean up files left behind in the cache directory:
  (default)     Remove interrupted downloads from the staging area
  --orphaned    Also remove image files not referenced by any record`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Remove unreferenced image files")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, closeCache, err := openCache(ctx, cfg, false, true)
	if err != nil {
		return err
	}
	defer closeCache()

	staged, err := svc.Files().ClearStaging()
	if err != nil {
		return errors.Wrap(err, "staging cleanup failed")
	}
	fmt.Printf("Removed %d staged download(s)\n", staged)

	if !cleanupOrphaned {
		return nil
	}

	orphans, err := svc.Orphans(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "orphan scan failed")
	}

	removed := 0
	for _, path := range orphans {
		if err := svc.Files().Remove(path); err != nil {
			warnColor.Printf("Failed to remove %s: %v\n", path, err)
			continue
		}
		fmt.Printf("Removed orphaned file: %s\n", path)
		removed++
	}

	successColor.Printf("Removed %d orphaned file(s)\n", removed)
	return nil
}
