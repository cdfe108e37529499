package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/apod-desktop/apod/pkg/apod"
	"github.com/apod-desktop/apod/pkg/desktop"
	"github.com/apod-desktop/apod/pkg/errors"
	appfsm "github.com/apod-desktop/apod/pkg/fsm"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
)

var fetchNoBackground bool

var fetchCmd = &cobra.Command{
	Use:   "fetch [date]",
	Short: "Fetch the APOD for a date (default today) into the cache",
	Long: `Fetches the Astronomy Picture of the Day for a date in YYYY-MM-DD format,
caches the image unless an identical image is already cached and sets it
as the desktop background.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolVar(&fetchNoBackground, "no-background", false, "Do not change the desktop background")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var dateArg string
	if len(args) == 1 {
		dateArg = args[0]
	}
	date, err := apod.ParseDate(dateArg, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := ensureDirectories(cfg.CacheDir, cfg.FSMDBPath); err != nil {
		return err
	}

	svc, closeCache, err := openCache(ctx, cfg, true, true)
	if err != nil {
		return err
	}
	defer closeCache()

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(svc, cfg.FSMMaxRetries)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	result, err := machine.Run(ctx, manager, start, date)
	if err != nil {
		return err
	}

	slog.Info("fetch completed", "image_id", result.RecordID, "cache_hit", result.CacheHit)

	rec, err := svc.GetRecord(ctx, result.RecordID)
	if err != nil {
		return errors.Wrap(err, "record lookup failed")
	}

	if result.CacheHit {
		warnColor.Printf("Already cached as record %d\n", result.RecordID)
	} else {
		successColor.Printf("Cached as record %d\n", result.RecordID)
	}
	printRecord(rec)

	if fetchNoBackground {
		return nil
	}
	return setBackground(ctx, rec.FilePath)
}

func setBackground(ctx context.Context, path string) error {
	env, err := desktop.NewEnvironment()
	if err != nil {
		return errors.Wrap(err, "desktop unavailable")
	}
	if err := env.SetBackground(ctx, path); err != nil {
		return errors.Wrap(err, "set background failed")
	}
	successColor.Printf("Desktop background set (%s)\n", env.Name())
	return nil
}
