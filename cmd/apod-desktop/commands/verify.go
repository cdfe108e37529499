package commands

import (
	"context"
	"fmt"

	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every cached record matches its file on disk",
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	problems, err := svc.Verify(ctx)
	if err != nil {
		return errors.Wrap(err, "verify failed")
	}

	if len(problems) == 0 {
		successColor.Println("Cache is consistent")
		return nil
	}

	for _, p := range problems {
		if p.RecordID != 0 {
			warnColor.Printf("record %d: %s (%s)\n", p.RecordID, p.Reason, p.Path)
		} else {
			warnColor.Printf("%s (%s)\n", p.Reason, p.Path)
		}
	}
	return fmt.Errorf("%d problem(s) found", len(problems))
}
