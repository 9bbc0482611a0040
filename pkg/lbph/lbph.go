// Package lbph implements a local-binary-pattern histogram face classifier.
// It is the statistical fallback used when the descriptor network is
// unavailable: per-identity appearance histograms compared with a chi-square
// nearest-neighbor search.
package lbph

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/google/renameio"
)

const bins = 256

// ErrNotTrained is returned by Predict before any training has happened.
var ErrNotTrained = errors.New("classifier not trained")

// ErrNoSamples is returned when Train receives nothing to learn from.
var ErrNoSamples = errors.New("no training samples")

// Sample pairs a raw face crop with its identity label.
type Sample struct {
	Image *image.Gray
	Label int
}

// Model is a trained classifier: one spatial histogram per training sample.
type Model struct {
	GridX    int         `json:"grid_x"`
	GridY    int         `json:"grid_y"`
	Features [][]float64 `json:"features"`
	Labels   []int       `json:"labels"`
}

// New returns an untrained model with the given spatial grid.
func New(gridX, gridY int) *Model {
	return &Model{GridX: gridX, GridY: gridY}
}

// Trained reports whether the model holds any reference histograms.
func (m *Model) Trained() bool {
	return len(m.Features) > 0
}

// Train replaces the model contents with histograms computed from samples.
func (m *Model) Train(samples []Sample) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	features := make([][]float64, 0, len(samples))
	labels := make([]int, 0, len(samples))
	for _, s := range samples {
		if s.Image == nil || s.Image.Bounds().Empty() {
			continue
		}
		features = append(features, m.feature(s.Image))
		labels = append(labels, s.Label)
	}
	if len(features) == 0 {
		return ErrNoSamples
	}

	m.Features = features
	m.Labels = labels
	return nil
}

// Predict returns the label of the nearest reference histogram and the
// chi-square distance to it. Lower distances mean closer matches; identical
// images score 0.
func (m *Model) Predict(gray *image.Gray) (int, float64, error) {
	if !m.Trained() {
		return 0, 0, ErrNotTrained
	}
	if gray == nil || gray.Bounds().Empty() {
		return 0, 0, errors.New("empty image")
	}

	probe := m.feature(gray)

	bestIdx := 0
	bestDist := chiSquare(probe, m.Features[0])
	for i := 1; i < len(m.Features); i++ {
		if d := chiSquare(probe, m.Features[i]); d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}

	cells := m.GridX * m.GridY
	if cells == 0 {
		cells = 1
	}
	return m.Labels[bestIdx], 100 * bestDist / float64(cells), nil
}

// Save writes the model to path, replacing any previous file atomically.
func (m *Model) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// Load reads a previously saved model from path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}
	if m.GridX <= 0 || m.GridY <= 0 {
		return nil, fmt.Errorf("invalid model grid %dx%d", m.GridX, m.GridY)
	}
	return &m, nil
}

// feature computes the spatial LBP histogram: the crop's LBP code image is
// divided into a GridX×GridY grid and each cell contributes a normalized
// 256-bin histogram.
func (m *Model) feature(gray *image.Gray) []float64 {
	codes, w, h := lbpCodes(gray)

	feat := make([]float64, m.GridX*m.GridY*bins)
	if w == 0 || h == 0 {
		return feat
	}

	for y := 0; y < h; y++ {
		cy := y * m.GridY / h
		for x := 0; x < w; x++ {
			cx := x * m.GridX / w
			cell := cy*m.GridX + cx
			feat[cell*bins+int(codes[y*w+x])]++
		}
	}

	// Normalize each cell histogram so distances do not depend on crop size.
	for c := 0; c < m.GridX*m.GridY; c++ {
		var total float64
		for b := 0; b < bins; b++ {
			total += feat[c*bins+b]
		}
		if total > 0 {
			for b := 0; b < bins; b++ {
				feat[c*bins+b] /= total
			}
		}
	}
	return feat
}

// lbpCodes computes 8-neighbor local binary patterns for every interior
// pixel. Returns the code plane and its dimensions.
func lbpCodes(gray *image.Gray) ([]uint8, int, int) {
	bounds := gray.Bounds()
	w, h := bounds.Dx()-2, bounds.Dy()-2
	if w <= 0 || h <= 0 {
		return nil, 0, 0
	}

	// Neighbor offsets, clockwise from the top-left.
	offsets := [8][2]int{
		{-1, -1}, {0, -1}, {1, -1},
		{1, 0},
		{1, 1}, {0, 1}, {-1, 1},
		{-1, 0},
	}

	codes := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := bounds.Min.X+x+1, bounds.Min.Y+y+1
			center := gray.GrayAt(px, py).Y

			var code uint8
			for bit, off := range offsets {
				if gray.GrayAt(px+off[0], py+off[1]).Y >= center {
					code |= 1 << uint(bit)
				}
			}
			codes[y*w+x] = code
		}
	}
	return codes, w, h
}

// chiSquare computes the chi-square distance between two histograms.
func chiSquare(a, b []float64) float64 {
	var sum float64
	for i := range a {
		if s := a[i] + b[i]; s > 0 {
			d := a[i] - b[i]
			sum += d * d / s
		}
	}
	return sum
}
