// Package capture grabs the current camera frame and prepares it for
// analysis: rotate to the mounting orientation, optionally downscale,
// encode as JPEG.
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 85

// toRGBA returns img as a zero-origin RGBA, copying when needed.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Rotate turns img clockwise by degrees (0, 90, 180 or 270). For 90 and 270
// the result is sized H×W.
func Rotate(img image.Image, degrees int) (*image.RGBA, error) {
	src := toRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()

	var dst *image.RGBA
	var at func(x, y int) (int, int)
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return src, nil
	case 90:
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		at = func(x, y int) (int, int) { return h - 1 - y, x }
	case 180:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		at = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	case 270:
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		at = func(x, y int) (int, int) { return y, w - 1 - x }
	default:
		return nil, fmt.Errorf("unsupported rotation %d", degrees)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := at(x, y)
			si := src.PixOffset(x, y)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst, nil
}

// Downscale shrinks img to maxWidth keeping the aspect ratio. Images already
// narrow enough, or maxWidth <= 0, are returned as is.
func Downscale(img *image.RGBA, maxWidth int) *image.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if maxWidth <= 0 || w <= maxWidth {
		return img
	}
	nh := h * maxWidth / w
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Encode writes img as JPEG.
func Encode(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Process decodes a camera JPEG, applies rotation and downscaling, and
// re-encodes it.
func Process(data []byte, rotation, maxWidth, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	rotated, err := Rotate(img, rotation)
	if err != nil {
		return nil, err
	}
	return Encode(Downscale(rotated, maxWidth), quality)
}
