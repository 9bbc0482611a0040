// Package imaging provides the grayscale image operations shared by the
// detection, embedding, and enrollment paths: decoding, histogram
// equalization, margin cropping, resizing, and JPEG persistence.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

// Decode decodes JPEG or PNG bytes into a grayscale image.
func Decode(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return ToGray(img), nil
}

// ToGray converts any image to 8-bit grayscale using BT.601 luma weights.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}

	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.Gray{Y: uint8(luma + 0.5)})
		}
	}
	return gray
}

// Equalize applies histogram equalization to normalize lighting.
// The input image is not modified.
func Equalize(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	total := w * h
	if total == 0 {
		return out
	}

	var hist [256]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y]++
		}
	}

	// Cumulative distribution, remapped so the darkest occupied bin maps to 0.
	var cdf [256]int
	sum := 0
	for i, c := range hist {
		sum += c
		cdf[i] = sum
	}
	cdfMin := 0
	for _, c := range cdf {
		if c > 0 {
			cdfMin = c
			break
		}
	}

	var lut [256]uint8
	denom := total - cdfMin
	if denom <= 0 {
		denom = 1
	}
	for i := range lut {
		v := (cdf[i] - cdfMin) * 255 / denom
		if v < 0 {
			v = 0
		}
		lut[i] = uint8(v)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = lut[src.GrayAt(x+bounds.Min.X, y+bounds.Min.Y).Y]
		}
	}
	return out
}

// Resize scales a grayscale image to the given dimensions with bilinear
// interpolation.
func Resize(src *image.Gray, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Crop copies the intersection of box and the image bounds into a fresh
// image. The second return value is false when the intersection is empty.
func Crop(src *image.Gray, box image.Rectangle) (*image.Gray, bool) {
	region := box.Intersect(src.Bounds())
	if region.Empty() {
		return nil, false
	}

	out := image.NewGray(image.Rect(0, 0, region.Dx(), region.Dy()))
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			out.SetGray(x-region.Min.X, y-region.Min.Y, src.GrayAt(x, y))
		}
	}
	return out, true
}

// CropMargin crops box expanded on every side by margin times the larger box
// dimension, clamped to the image bounds.
func CropMargin(src *image.Gray, box image.Rectangle, margin float64) (*image.Gray, bool) {
	side := box.Dx()
	if box.Dy() > side {
		side = box.Dy()
	}
	pad := int(float64(side) * margin)
	expanded := image.Rect(box.Min.X-pad, box.Min.Y-pad, box.Max.X+pad, box.Max.Y+pad)
	return Crop(src, expanded)
}

// SaveJPEG writes a grayscale image to path as JPEG.
func SaveJPEG(path string, img *image.Gray) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

// LoadGray reads an image file from disk and converts it to grayscale.
func LoadGray(path string) (*image.Gray, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Decode(data)
}

// EncodeJPEG encodes a grayscale image to JPEG bytes.
func EncodeJPEG(img *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
