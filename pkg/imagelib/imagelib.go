// Package imagelib inspects cached images and computes display sizes.
package imagelib

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/apod-desktop/apod/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultMaxWidth and DefaultMaxHeight bound the preview size.
const (
	DefaultMaxWidth  = 800
	DefaultMaxHeight = 600
)

// Size is a width and height in pixels.
type Size struct {
	Width  int
	Height int
}

// Info describes a decoded image header.
type Info struct {
	Size
	Format string
}

// Inspect decodes only the image header of data.
func Inspect(data []byte) (*Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image header")
	}
	return &Info{Size: Size{Width: cfg.Width, Height: cfg.Height}, Format: format}, nil
}

// ScaleToFit scales size down to fit within max, preserving the aspect
// ratio. Images that already fit are returned unchanged.
func ScaleToFit(size, max Size) Size {
	if size.Width <= 0 || size.Height <= 0 {
		return Size{}
	}
	if size.Width <= max.Width && size.Height <= max.Height {
		return size
	}

	ratio := float64(size.Width) / float64(size.Height)
	maxRatio := float64(max.Width) / float64(max.Height)

	if ratio > maxRatio {
		return Size{Width: max.Width, Height: int(float64(max.Width) / ratio)}
	}
	return Size{Width: int(float64(max.Height) * ratio), Height: max.Height}
}
