package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logLevel *slog.LevelVar

var rootCmd = &cobra.Command{
	Use:   "apod-desktop",
	Short: "NASA Astronomy Picture of the Day desktop cache",
	Long: `Downloads NASA's Astronomy Picture of the Day, keeps a deduplicated local
cache of the images and sets them as the desktop background.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. level is adjusted from the log-level setting.
func Execute(level *slog.LevelVar) {
	logLevel = level
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("cache-dir", "image_cache", "Image cache directory")
	flags.String("fsm-db-path", "image_cache_fsm", "FSM state directory")
	flags.String("api-url", "", "APOD API endpoint")
	flags.String("api-key", "", "NASA API key")
	flags.Duration("http-timeout", 0, "HTTP request timeout")
	flags.String("mirror-bucket", "", "Optional S3 bucket mirroring APOD images")
	flags.String("mirror-region", "", "Mirror bucket region")
	flags.Int64("max-image-size", 0, "Max image size in bytes")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")

	for _, name := range []string{
		"cache-dir", "fsm-db-path", "api-url", "api-key", "http-timeout",
		"mirror-bucket", "mirror-region", "max-image-size", "log-level",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}
