package imagelib

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleToFit(t *testing.T) {
	max := Size{Width: DefaultMaxWidth, Height: DefaultMaxHeight}

	tests := []struct {
		name string
		in   Size
		want Size
	}{
		{"already fits", Size{640, 480}, Size{640, 480}},
		{"wide", Size{4000, 1000}, Size{800, 200}},
		{"tall", Size{1000, 3000}, Size{200, 600}},
		{"same ratio", Size{1600, 1200}, Size{800, 600}},
		{"exact max", Size{800, 600}, Size{800, 600}},
		{"zero", Size{0, 100}, Size{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScaleToFit(tt.in, max))
		})
	}
}

func TestInspect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	img.Set(1, 1, color.White)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	info, err := Inspect(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", info.Format)
	assert.Equal(t, Size{40, 30}, info.Size)
}

func TestInspect_NotAnImage(t *testing.T) {
	_, err := Inspect([]byte("definitely not pixels"))
	assert.Error(t, err)
}
