//go:build windows

package desktop

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/apod-desktop/apod/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	spiSetDeskWallpaper = 0x0014
	spifUpdateIniFile   = 0x01
	spifSendChange      = 0x02
)

var procSystemParametersInfo = windows.NewLazySystemDLL("user32.dll").NewProc("SystemParametersInfoW")

// WindowsEnvironment sets the background through SystemParametersInfoW.
type WindowsEnvironment struct{}

// NewEnvironment creates the Windows backend
func NewEnvironment() (Environment, error) {
	if err := procSystemParametersInfo.Find(); err != nil {
		return nil, errors.Wrap(err, "user32 unavailable")
	}
	slog.Info("desktop_init", "platform", "windows")
	return &WindowsEnvironment{}, nil
}

func (e *WindowsEnvironment) Name() string {
	return "windows"
}

func (e *WindowsEnvironment) SetBackground(ctx context.Context, path string) error {
	abs, err := checkImage(path)
	if err != nil {
		return err
	}

	p, err := windows.UTF16PtrFromString(abs)
	if err != nil {
		return errors.Wrap(err, "invalid image path")
	}

	ok, _, callErr := procSystemParametersInfo.Call(
		spiSetDeskWallpaper,
		0,
		uintptr(unsafe.Pointer(p)),
		spifUpdateIniFile|spifSendChange,
	)
	if ok == 0 {
		slog.Error("desktop_spi_failed", "path", abs, "error", callErr)
		return errors.Wrap(callErr, "failed to set desktop background")
	}

	slog.Info("desktop_background_set", "path", abs)
	return nil
}
