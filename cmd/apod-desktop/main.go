package main

import (
	"log/slog"
	"os"

	"github.com/apod-desktop/apod/cmd/apod-desktop/commands"
)

func main() {
	// Structured logs go to stderr so command output stays clean on stdout
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	commands.Execute(level)
}
