//go:build linux

package desktop

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/apod-desktop/apod/pkg/errors"
)

// LinuxEnvironment sets the background through gsettings on GNOME-like
// desktops and through feh elsewhere.
type LinuxEnvironment struct {
	session  string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

// NewEnvironment creates the Linux backend for the current session
func NewEnvironment() (Environment, error) {
	session := os.Getenv("XDG_CURRENT_DESKTOP")
	slog.Info("desktop_init", "platform", "linux", "session", session)

	return &LinuxEnvironment{
		session:  session,
		lookPath: exec.LookPath,
		run:      runCommand,
	}, nil
}

func (e *LinuxEnvironment) Name() string {
	return "linux"
}

func (e *LinuxEnvironment) SetBackground(ctx context.Context, path string) error {
	abs, err := checkImage(path)
	if err != nil {
		return err
	}

	commands, err := e.commands(abs)
	if err != nil {
		slog.Error("desktop_backend_missing", "session", e.session, "error", err)
		return err
	}

	for _, args := range commands {
		slog.Info("desktop_command", "cmd", strings.Join(args, " "))
		if err := e.run(ctx, args[0], args[1:]...); err != nil {
			slog.Error("desktop_command_failed", "cmd", args[0], "error", err)
			return errors.Wrap(err, "failed to set desktop background")
		}
	}

	slog.Info("desktop_background_set", "path", abs)
	return nil
}

// commands returns the command lines that set abs as the background.
func (e *LinuxEnvironment) commands(abs string) ([][]string, error) {
	if isGnomeLike(e.session) {
		if _, err := e.lookPath("gsettings"); err == nil {
			uri := (&url.URL{Scheme: "file", Path: abs}).String()
			return [][]string{
				{"gsettings", "set", "org.gnome.desktop.background", "picture-uri", uri},
				{"gsettings", "set", "org.gnome.desktop.background", "picture-uri-dark", uri},
				{"gsettings", "set", "org.gnome.desktop.background", "picture-options", "zoom"},
			}, nil
		}
	}
	if _, err := e.lookPath("feh"); err == nil {
		return [][]string{{"feh", "--bg-fill", abs}}, nil
	}
	return nil, ErrUnsupported
}

func isGnomeLike(session string) bool {
	for _, part := range strings.Split(strings.ToLower(session), ":") {
		switch part {
		case "gnome", "unity", "cinnamon", "budgie", "pantheon", "ubuntu":
			return true
		}
	}
	return false
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return errors.Wrap(err, strings.TrimSpace(string(out)))
	}
	return nil
}
