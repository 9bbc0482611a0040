package embed

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"
)

func TestNew_MissingModel(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "openface.onnx"), "input", "output")
	if err == nil {
		t.Error("expected error for missing model file")
	}
}

func TestPreprocess(t *testing.T) {
	crop := image.NewGray(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			crop.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	data := Preprocess(crop)

	if len(data) != 3*InputSize*InputSize {
		t.Fatalf("tensor length = %d, want %d", len(data), 3*InputSize*InputSize)
	}

	plane := InputSize * InputSize
	for i := 0; i < plane; i++ {
		if data[i] < 0 || data[i] > 1 {
			t.Fatalf("pixel %d = %f outside [0, 1]", i, data[i])
		}
		// Gray input: all three channels identical.
		if data[i] != data[plane+i] || data[i] != data[2*plane+i] {
			t.Fatalf("channels differ at %d", i)
		}
	}

	// A white image stays white after scaling.
	if data[0] != 1.0 {
		t.Errorf("white pixel scaled to %f, want 1.0", data[0])
	}
}

func TestNormalize_UnitNorm(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"simple", []float32{3, 4}},
		{"mixed signs", []float32{-1, 2, -3, 4}},
		{"already unit", []float32{1, 0, 0}},
		{"small values", []float32{1e-3, 2e-3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Normalize(tt.vec)

			var sum float64
			for _, x := range tt.vec {
				sum += float64(x) * float64(x)
			}
			if norm := math.Sqrt(sum); math.Abs(norm-1.0) > 1e-5 {
				t.Errorf("norm = %f, want 1.0", norm)
			}
		})
	}
}

func TestNormalize_TinyVector(t *testing.T) {
	// At magnitudes near the epsilon the result lands slightly below unit
	// length; that is the price of keeping zero vectors defined.
	vec := []float32{1e-6, 2e-6}
	Normalize(vec)

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm > 1.0 || norm < 0.999 {
		t.Errorf("norm = %f, want just under 1.0", norm)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	vec := make([]float32, Dim)
	Normalize(vec) // must not divide by zero
	for i, x := range vec {
		if x != 0 {
			t.Fatalf("zero vector changed at %d: %f", i, x)
		}
	}
}
