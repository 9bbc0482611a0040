package imaging

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

// grayGradient returns a w×h image whose pixel values ramp left to right.
func grayGradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / (w - 1))})
		}
	}
	return img
}

func TestDecode_RoundTrip(t *testing.T) {
	src := grayGradient(64, 48)

	data, err := EncodeJPEG(src)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Bounds().Dx() != 64 || got.Bounds().Dy() != 48 {
		t.Errorf("decoded bounds = %v, want 64x48", got.Bounds())
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not an image")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestToGray_PreservesGray(t *testing.T) {
	src := grayGradient(8, 8)
	if got := ToGray(src); got != src {
		t.Error("ToGray should return grayscale input unchanged")
	}
}

func TestToGray_ConvertsRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	got := ToGray(src)
	if v := got.GrayAt(2, 2).Y; v != 255 {
		t.Errorf("white pixel converted to %d, want 255", v)
	}
}

func TestEqualize_StretchesContrast(t *testing.T) {
	// Low-contrast input confined to [100, 120].
	src := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			src.SetGray(x, y, color.Gray{Y: uint8(100 + (x*20)/31)})
		}
	}

	out := Equalize(src)

	min, max := uint8(255), uint8(0)
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := out.GrayAt(x, y).Y
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}

	if max-min < 200 {
		t.Errorf("equalized range [%d, %d] too narrow", min, max)
	}
}

func TestEqualize_UniformImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range src.Pix {
		src.Pix[i] = 77
	}

	out := Equalize(src)
	// A flat image has nothing to equalize; it must not panic and must keep
	// a single value.
	first := out.GrayAt(0, 0).Y
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if out.GrayAt(x, y).Y != first {
				t.Fatal("uniform image became non-uniform")
			}
		}
	}
}

func TestResize(t *testing.T) {
	src := grayGradient(200, 100)
	out := Resize(src, 96, 96)
	if out.Bounds().Dx() != 96 || out.Bounds().Dy() != 96 {
		t.Errorf("resized bounds = %v, want 96x96", out.Bounds())
	}
}

func TestCrop(t *testing.T) {
	src := grayGradient(100, 100)

	tests := []struct {
		name   string
		box    image.Rectangle
		wantOK bool
		wantW  int
		wantH  int
	}{
		{"inside", image.Rect(10, 10, 50, 60), true, 40, 50},
		{"overhanging", image.Rect(80, 80, 150, 150), true, 20, 20},
		{"outside", image.Rect(200, 200, 300, 300), false, 0, 0},
		{"empty", image.Rect(10, 10, 10, 10), false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := Crop(src, tt.box)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if out.Bounds().Dx() != tt.wantW || out.Bounds().Dy() != tt.wantH {
				t.Errorf("crop size = %v, want %dx%d", out.Bounds(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestCropMargin_Clamped(t *testing.T) {
	src := grayGradient(100, 100)

	// Box near the corner; the 20% margin would extend past the origin.
	out, ok := CropMargin(src, image.Rect(0, 0, 50, 50), 0.2)
	if !ok {
		t.Fatal("CropMargin failed")
	}
	// 50x50 box, margin 10, clamped at the top-left: 60x60.
	if out.Bounds().Dx() != 60 || out.Bounds().Dy() != 60 {
		t.Errorf("crop size = %v, want 60x60", out.Bounds())
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.jpg")
	src := grayGradient(96, 96)

	if err := SaveJPEG(path, src); err != nil {
		t.Fatalf("SaveJPEG failed: %v", err)
	}

	got, err := LoadGray(path)
	if err != nil {
		t.Fatalf("LoadGray failed: %v", err)
	}
	if got.Bounds().Dx() != 96 || got.Bounds().Dy() != 96 {
		t.Errorf("loaded bounds = %v, want 96x96", got.Bounds())
	}
}
