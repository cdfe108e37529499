package commands

import (
	"context"
	"fmt"

	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Set a cached image as the desktop background",
	Args:  cobra.ExactArgs(1),
	RunE:  runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
}

func runSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, closeCache, err := openCache(ctx, cfg, false, false)
	if err != nil {
		return err
	}
	defer closeCache()

	rec, err := svc.GetRecord(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("no cached record with id %d", id)
		}
		return errors.Wrap(err, "record lookup failed")
	}

	printField("Title", rec.Title)
	return setBackground(ctx, rec.FilePath)
}
