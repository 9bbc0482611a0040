// Package embed turns face crops into fixed-length unit descriptors using a
// pretrained convolutional network executed through ONNX Runtime.
package embed

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/facegate/facegate/pkg/imaging"
	"github.com/facegate/facegate/pkg/logging"
)

const (
	// Dim is the descriptor length produced by the network.
	Dim = 128

	// InputSize is the side length of the square network input.
	InputSize = 96

	// normEpsilon keeps L2 normalization defined for all-zero outputs.
	normEpsilon = 1e-10
)

// ErrEmptyCrop is returned when the face box does not intersect the image.
var ErrEmptyCrop = errors.New("empty face crop")

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// SetRuntimeLibrary overrides the ONNX Runtime shared library location.
// Must be called before the first New.
func SetRuntimeLibrary(path string) {
	if path != "" {
		ort.SetSharedLibraryPath(path)
	}
}

func initRuntime() error {
	runtimeOnce.Do(func() {
		if !ort.IsInitialized() {
			runtimeErr = ort.InitializeEnvironment()
		}
	})
	return runtimeErr
}

// Extractor runs the embedding network. It is safe for concurrent use; the
// underlying session is serialized with a mutex.
type Extractor struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// New loads the embedding network from modelPath. It fails when the model
// file is missing or unreadable; callers then fall back to the histogram
// classifier for the rest of the process lifetime.
func New(modelPath, inputName, outputName string) (*Extractor, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("embedding model unavailable: %w", err)
	}

	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("onnx runtime init: %w", err)
	}

	inputShape := ort.NewShape(1, 3, InputSize, InputSize)
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, Dim)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create embedding session: %w", err)
	}

	logging.Infof("Embedding network loaded from %s", modelPath)
	return &Extractor{session: session, input: input, output: output}, nil
}

// Extract crops box from the image, feeds it through the network, and
// returns the L2-normalized 128-dimensional descriptor.
func (e *Extractor) Extract(gray *image.Gray, box image.Rectangle) ([]float32, error) {
	crop, ok := imaging.Crop(gray, box)
	if !ok {
		return nil, ErrEmptyCrop
	}

	data := Preprocess(crop)

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.input.GetData(), data)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding network: %w", err)
	}

	vec := make([]float32, Dim)
	copy(vec, e.output.GetData())
	Normalize(vec)
	return vec, nil
}

// Close releases the ONNX session and tensors.
func (e *Extractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
}

// Preprocess resizes a grayscale crop to the network input size and lays it
// out as a CHW float32 tensor: the single channel replicated three times,
// pixel values scaled to [0, 1].
func Preprocess(crop *image.Gray) []float32 {
	resized := imaging.Resize(crop, InputSize, InputSize)

	plane := InputSize * InputSize
	data := make([]float32, 3*plane)
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			v := float32(resized.GrayAt(x, y).Y) / 255.0
			idx := y*InputSize + x
			data[idx] = v
			data[plane+idx] = v
			data[2*plane+idx] = v
		}
	}
	return data
}

// Normalize scales v to unit length in place. A small epsilon on the norm
// keeps the division defined for zero vectors.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEpsilon
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
