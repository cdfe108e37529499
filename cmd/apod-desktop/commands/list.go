package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var listTitlesOnly bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cached images",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listTitlesOnly, "titles", false, "Print only titles, one per line")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, closeCache, err := openCache(ctx, cfg, false, false)
	if err != nil {
		return err
	}
	defer closeCache()

	if listTitlesOnly {
		titles, err := svc.ListAllTitles(ctx)
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
		for _, title := range titles {
			fmt.Println(title)
		}
		return nil
	}

	records, err := svc.ListRecords(ctx)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(records) == 0 {
		fmt.Println("No images cached")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleLight)
		tw.Style().Options = table.OptionsNoBordersAndSeparators
	}
	tw.AppendHeader(table.Row{"ID", "DATE", "TITLE", "MEDIA", "FILE"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, WidthMax: 48},
	})

	for _, rec := range records {
		date := rec.APODDate
		if date == "" {
			date = "-"
		}
		tw.AppendRow(table.Row{
			strconv.FormatInt(rec.ID, 10),
			date,
			rec.Title,
			rec.MediaType,
			filepath.Base(rec.FilePath),
		})
	}
	tw.Render()

	return nil
}
