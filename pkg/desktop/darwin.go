//go:build darwin

package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/apod-desktop/apod/pkg/errors"
)

// DarwinEnvironment sets the background of every desktop through osascript.
type DarwinEnvironment struct{}

// NewEnvironment creates the macOS backend
func NewEnvironment() (Environment, error) {
	if _, err := exec.LookPath("osascript"); err != nil {
		return nil, ErrUnsupported
	}
	slog.Info("desktop_init", "platform", "darwin")
	return &DarwinEnvironment{}, nil
}

func (e *DarwinEnvironment) Name() string {
	return "darwin"
}

func (e *DarwinEnvironment) SetBackground(ctx context.Context, path string) error {
	abs, err := checkImage(path)
	if err != nil {
		return err
	}

	script := fmt.Sprintf(`tell application "System Events" to tell every desktop to set picture to %q`, abs)
	out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput()
	if err != nil {
		slog.Error("desktop_osascript_failed", "path", abs, "error", err)
		return errors.Wrap(err, strings.TrimSpace(string(out)))
	}

	slog.Info("desktop_background_set", "path", abs)
	return nil
}
