package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/apod-desktop/apod/internal/config"
	"github.com/apod-desktop/apod/pkg/apod"
	"github.com/apod-desktop/apod/pkg/cache"
	"github.com/apod-desktop/apod/pkg/db"
	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/apod-desktop/apod/pkg/security"
	"github.com/apod-desktop/apod/pkg/storage"
	"github.com/fatih/color"
	"github.com/gofrs/flock"
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	labelColor   = color.New(color.Bold)
)

// loadConfig loads and validates configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}

	if logLevel != nil {
		level, _ := config.ParseLevel(cfg.LogLevel)
		logLevel.Set(level)
	}
	return cfg, nil
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(cacheDir, fsmDBPath string) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}

	// FSM state directory (only needed for fetch command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}

// acquireLock takes the cache lock without blocking. The returned function
// releases it.
func acquireLock(cacheDir string) (func(), error) {
	lock := flock.New(filepath.Join(cacheDir, cache.LockFileName))

	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquire cache lock")
	}
	if !ok {
		return nil, fmt.Errorf("cache %s is in use by another apod-desktop process", cacheDir)
	}
	return func() { lock.Unlock() }, nil
}

// openCache opens the cache. With remote set the cache is wired to the APOD
// API and the image downloader; exclusive takes the cache lock for commands
// that modify the cache.
func openCache(ctx context.Context, cfg *config.Config, remote, exclusive bool) (*cache.Service, func(), error) {
	if err := ensureDirectories(cfg.CacheDir, ""); err != nil {
		return nil, nil, err
	}

	unlock := func() {}
	if exclusive {
		release, err := acquireLock(cfg.CacheDir)
		if err != nil {
			return nil, nil, err
		}
		unlock = release
	}

	var err error

	var source apod.Source
	if remote {
		source, err = newSource(ctx, cfg)
		if err != nil {
			unlock()
			return nil, nil, err
		}
	}

	svc, err := cache.Open(cache.Config{Dir: cfg.CacheDir, MaxImageSize: cfg.MaxImageSize}, source)
	if err != nil {
		unlock()
		return nil, nil, errors.Wrap(err, "cache init failed")
	}

	return svc, func() {
		svc.Close()
		unlock()
	}, nil
}

func newSource(ctx context.Context, cfg *config.Config) (apod.Source, error) {
	validator := security.NewValidator(cfg.CacheDir, cfg.MaxImageSize)
	images := storage.NewClient(cfg.HTTPTimeout, validator)

	if cfg.MirrorBucket != "" {
		if _, err := images.WithMirror(ctx, cfg.MirrorBucket, cfg.MirrorRegion); err != nil {
			return nil, errors.Wrap(err, "S3 mirror failed")
		}
	}

	return apod.NewClient(cfg.APIURL, cfg.APIKey, cfg.HTTPTimeout, images), nil
}

// parseID parses a record id argument.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}

func printField(label, value string) {
	fmt.Printf("%s %s\n", labelColor.Sprintf("%-12s", label+":"), value)
}

func printRecord(rec *db.Record) {
	printField("ID", strconv.FormatInt(rec.ID, 10))
	if rec.APODDate != "" {
		printField("Date", rec.APODDate)
	}
	printField("Title", rec.Title)
	printField("Media", rec.MediaType)
	printField("File", rec.FilePath)
	printField("SHA256", rec.ContentHash)
}
