package detect

import (
	"encoding/binary"
	"image"
	"os"
	"path/filepath"
	"testing"

	pigo "github.com/esimov/pigo/core"
)

func TestNew_MissingCascade(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "facefinder"), DefaultOptions())
	if err == nil {
		t.Error("expected error for missing cascade file")
	}
}

func TestNew_CorruptCascade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facefinder")
	if err := os.WriteFile(path, []byte("definitely not a cascade"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := New(path, DefaultOptions()); err == nil {
		t.Error("expected error for corrupt cascade file")
	}
}

// syntheticCascade builds a well-formed cascade of zeroed trees.
func syntheticCascade(depth, trees uint32) []byte {
	perTree := uint64(8) << depth
	data := make([]byte, 16+uint64(trees)*perTree)
	binary.LittleEndian.PutUint32(data[8:12], depth)
	binary.LittleEndian.PutUint32(data[12:16], trees)
	return data
}

func TestNew_RejectsImplausibleHeaders(t *testing.T) {
	// Header promises far more trees than the file holds; trusting it
	// would size allocations in the gigabytes.
	hugeTrees := syntheticCascade(6, 1)
	binary.LittleEndian.PutUint32(hugeTrees[12:16], 1<<30)

	absurdDepth := make([]byte, 64)
	binary.LittleEndian.PutUint32(absurdDepth[8:12], 31)
	binary.LittleEndian.PutUint32(absurdDepth[12:16], 1)

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated header", []byte("short")},
		{"zero depth", syntheticCascade(0, 1)},
		{"absurd depth", absurdDepth},
		{"tree count beyond file size", hugeTrees},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "facefinder")
			if err := os.WriteFile(path, tt.data, 0644); err != nil {
				t.Fatalf("failed to write file: %v", err)
			}
			if _, err := New(path, DefaultOptions()); err == nil {
				t.Error("expected error for implausible cascade")
			}
		})
	}
}

func TestNew_AcceptsWellFormedCascade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facefinder")
	if err := os.WriteFile(path, syntheticCascade(6, 2), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := New(path, DefaultOptions()); err != nil {
		t.Errorf("New rejected a well-formed cascade: %v", err)
	}
}

func TestDetect_NilAndEmptyInput(t *testing.T) {
	var d *Detector

	if _, found := d.Detect(image.NewGray(image.Rect(0, 0, 64, 64))); found {
		t.Error("nil detector reported a face")
	}

	d = &Detector{}
	if _, found := d.Detect(nil); found {
		t.Error("nil image reported a face")
	}
	if _, found := d.Detect(image.NewGray(image.Rectangle{})); found {
		t.Error("empty image reported a face")
	}
}

func TestLargest(t *testing.T) {
	dets := []pigo.Detection{
		{Row: 10, Col: 10, Scale: 40, Q: 8},
		{Row: 50, Col: 50, Scale: 90, Q: 7},
		{Row: 30, Col: 30, Scale: 90, Q: 6}, // tie on area, later
		{Row: 70, Col: 70, Scale: 200, Q: 2},
	}

	best, found := largest(dets, 5.0)
	if !found {
		t.Fatal("expected a detection")
	}
	// The 200-scale candidate is below the quality threshold; the first of
	// the two 90-scale candidates wins the tie.
	if best.Scale != 90 || best.Row != 50 {
		t.Errorf("largest = %+v, want first 90-scale detection", best)
	}

	if _, found := largest(nil, 5.0); found {
		t.Error("largest(nil) reported a detection")
	}
	if _, found := largest(dets, 100); found {
		t.Error("quality threshold not applied")
	}
}

func TestBoxFromDetection(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)

	tests := []struct {
		name string
		det  pigo.Detection
		want image.Rectangle
	}{
		{
			name: "centered",
			det:  pigo.Detection{Row: 50, Col: 50, Scale: 40},
			want: image.Rect(30, 30, 70, 70),
		},
		{
			name: "clamped at origin",
			det:  pigo.Detection{Row: 10, Col: 10, Scale: 40},
			want: image.Rect(0, 0, 30, 30),
		},
		{
			name: "clamped at far edge",
			det:  pigo.Detection{Row: 95, Col: 95, Scale: 40},
			want: image.Rect(75, 75, 100, 100),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := boxFromDetection(tt.det, bounds)
			if got != tt.want {
				t.Errorf("box = %v, want %v", got, tt.want)
			}
		})
	}
}
