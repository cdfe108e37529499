package commands

import (
	"context"
	"fmt"

	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/apod-desktop/apod/pkg/imagelib"
	"github.com/spf13/cobra"
)

var showExplanation bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a cached record and its image dimensions",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showExplanation, "explanation", true, "Print the APOD explanation")
}

func runShow(cmd *cobra.Command, args []string) error {
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
	printRecord(rec)

	data, err := svc.ReadImage(rec)
	if err != nil {
		warnColor.Printf("Image unavailable: %v\n", err)
		return nil
	}

	info, err := imagelib.Inspect(data)
	if err != nil {
		warnColor.Printf("Image unreadable: %v\n", err)
	} else {
		fit := imagelib.ScaleToFit(info.Size, imagelib.Size{Width: imagelib.DefaultMaxWidth, Height: imagelib.DefaultMaxHeight})
		printField("Format", info.Format)
		printField("Size", fmt.Sprintf("%dx%d (%d bytes)", info.Width, info.Height, len(data)))
		printField("Preview", fmt.Sprintf("%dx%d", fit.Width, fit.Height))
	}

	if showExplanation && rec.Explanation != "" {
		fmt.Println()
		fmt.Println(rec.Explanation)
	}
	return nil
}
