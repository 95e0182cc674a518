package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"pixelforge/pkg/errutil"
)

const (
	// Thumbnails fit inside a 320x320 bounding box, aspect ratio preserved.
	ThumbnailMaxWidth  = 320
	ThumbnailMaxHeight = 320

	jpegQuality = 85
)

// Thumbnail decodes src, scales it to fit the bounding box and re-encodes it
// as JPEG. Images already inside the box are re-encoded without scaling.
func Thumbnail(src []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, errutil.ImageProcessing(err, "decode image")
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width > ThumbnailMaxWidth || height > ThumbnailMaxHeight {
		scaleW := float64(ThumbnailMaxWidth) / float64(width)
		scaleH := float64(ThumbnailMaxHeight) / float64(height)
		scale := scaleW
		if scaleH < scale {
			scale = scaleH
		}

		dstW := int(float64(width) * scale)
		dstH := int(float64(height) * scale)
		if dstW < 1 {
			dstW = 1
		}
		if dstH < 1 {
			dstH = 1
		}

		dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errutil.ImageProcessing(err, "encode jpeg")
	}

	return buf.Bytes(), nil
}
