// Package desktop sets the desktop background on the supported platforms.
package desktop

import (
	"context"
	"os"
	"path/filepath"

	"github.com/apod-desktop/apod/pkg/errors"
)

// ErrUnsupported is returned where no wallpaper backend is available.
var ErrUnsupported = errors.New("setting the desktop background is not supported")

// Environment sets the desktop background image
type Environment interface {
	// SetBackground makes the image at path the desktop background
	SetBackground(ctx context.Context, path string) error

	// Name identifies the backend in logs
	Name() string
}

// checkImage resolves path and checks that it names a regular file.
func checkImage(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve image path")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Wrap(err, "image not accessible")
	}
	if !info.Mode().IsRegular() {
		return "", errors.New("image path is not a regular file: " + abs)
	}
	return abs, nil
}
