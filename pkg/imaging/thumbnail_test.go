package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"pixelforge/pkg/errutil"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestThumbnailDownscalesPreservingAspect(t *testing.T) {
	src := encodePNG(t, 640, 480)

	thumb, err := Thumbnail(src)
	require.NoError(t, err)

	decoded, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 320, decoded.Bounds().Dx())
	require.Equal(t, 240, decoded.Bounds().Dy())
}

func TestThumbnailTallImage(t *testing.T) {
	src := encodePNG(t, 200, 800)

	thumb, err := Thumbnail(src)
	require.NoError(t, err)

	decoded, _, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	require.Equal(t, 80, decoded.Bounds().Dx())
	require.Equal(t, 320, decoded.Bounds().Dy())
}

func TestThumbnailSmallImageNotUpscaled(t *testing.T) {
	src := encodePNG(t, 100, 60)

	thumb, err := Thumbnail(src)
	require.NoError(t, err)

	decoded, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 100, decoded.Bounds().Dx())
	require.Equal(t, 60, decoded.Bounds().Dy())
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	_, err := Thumbnail([]byte("definitely not an image"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errutil.ErrImageProcessing))
}
