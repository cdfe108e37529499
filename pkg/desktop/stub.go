//go:build !linux && !windows && !darwin

package desktop

import (
	"context"
	"runtime"

	"github.com/apod-desktop/apod/pkg/errors"
)

// StubEnvironment is a no-op backend for platforms without wallpaper support
type StubEnvironment struct{}

// NewEnvironment creates a stub backend
func NewEnvironment() (Environment, error) {
	return &StubEnvironment{}, nil
}

func (e *StubEnvironment) Name() string {
	return runtime.GOOS
}

func (e *StubEnvironment) SetBackground(ctx context.Context, path string) error {
	return errors.Wrap(ErrUnsupported, runtime.GOOS)
}
