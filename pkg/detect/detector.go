// Package detect locates the most prominent face in a grayscale image.
// It runs a pigo cascade over every scale and keeps the largest candidate,
// so detection keeps working even when the descriptor network is absent.
package detect

import (
	"encoding/binary"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/facegate/facegate/pkg/imaging"
	"github.com/facegate/facegate/pkg/logging"
)

// Options holds cascade tuning parameters.
type Options struct {
	MinSize     int
	MaxSize     int
	ShiftFactor float64
	ScaleFactor float64
	Quality     float64
}

// DefaultOptions returns the cascade parameters used when none are given.
func DefaultOptions() Options {
	return Options{
		MinSize:     20,
		MaxSize:     1000,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		Quality:     5.0,
	}
}

// Detector finds faces with a multi-scale sliding-window cascade.
type Detector struct {
	classifier *pigo.Pigo
	opts       Options
}

// maxTreeDepth bounds the per-tree size read from a cascade header; the
// stock facefinder cascade uses depth 6.
const maxTreeDepth = 16

// validateCascade checks the cascade header against the file size. Unpack
// sizes its allocations from the header fields, so garbage input has to be
// rejected here rather than left to crash the process.
func validateCascade(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("cascade file too short: %d bytes", len(data))
	}

	depth := binary.LittleEndian.Uint32(data[8:12])
	trees := binary.LittleEndian.Uint32(data[12:16])
	if depth == 0 || depth > maxTreeDepth {
		return fmt.Errorf("implausible cascade tree depth %d", depth)
	}

	// Each tree occupies 4*(2^depth-1) code bytes, 4*2^depth prediction
	// bytes and a 4-byte threshold after the 16-byte header.
	perTree := uint64(8) << depth
	want := 16 + uint64(trees)*perTree
	if uint64(len(data)) < want {
		return fmt.Errorf("cascade size %d does not match header (want %d)", len(data), want)
	}
	return nil
}

// New loads the binary cascade file and returns a ready detector.
func New(cascadePath string, opts Options) (*Detector, error) {
	data, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	if err := validateCascade(data); err != nil {
		return nil, err
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}

	logging.Debugf("Face cascade loaded from %s", cascadePath)
	return &Detector{classifier: classifier, opts: opts}, nil
}

// Detect returns the bounding box of the largest face found in the image.
// The second return value is false when no face is found. Corrupt or empty
// input never panics; any cascade failure is reported as no face.
func (d *Detector) Detect(gray *image.Gray) (box image.Rectangle, found bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warnf("Face detection failed: %v", r)
			box, found = image.Rectangle{}, false
		}
	}()

	if d == nil || d.classifier == nil || gray == nil {
		return image.Rectangle{}, false
	}
	bounds := gray.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return image.Rectangle{}, false
	}

	eq := imaging.Equalize(gray)

	params := pigo.CascadeParams{
		MinSize:     d.opts.MinSize,
		MaxSize:     d.opts.MaxSize,
		ShiftFactor: d.opts.ShiftFactor,
		ScaleFactor: d.opts.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: eq.Pix,
			Rows:   eq.Bounds().Dy(),
			Cols:   eq.Bounds().Dx(),
			Dim:    eq.Stride,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	best, ok := largest(dets, float32(d.opts.Quality))
	if !ok {
		return image.Rectangle{}, false
	}

	return boxFromDetection(best, bounds), true
}

// largest picks the detection with the biggest area among those above the
// quality threshold; ties keep the earlier detection.
func largest(dets []pigo.Detection, quality float32) (pigo.Detection, bool) {
	var best pigo.Detection
	found := false
	for _, det := range dets {
		if det.Q < quality {
			continue
		}
		if !found || det.Scale > best.Scale {
			best = det
			found = true
		}
	}
	return best, found
}

// boxFromDetection converts pigo's center/scale representation into a
// rectangle clamped to the image bounds.
func boxFromDetection(det pigo.Detection, bounds image.Rectangle) image.Rectangle {
	half := det.Scale / 2
	box := image.Rect(det.Col-half, det.Row-half, det.Col-half+det.Scale, det.Row-half+det.Scale)
	return box.Intersect(bounds)
}
