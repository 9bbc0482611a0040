// Package index maintains the in-memory match index over the identity
// gallery. Two engines implement the same interface: a descriptor index
// backed by the embedding network, and a histogram classifier used when the
// network is unavailable. Rebuilds are always full scans of the gallery and
// never partial updates.
package index

import (
	"image"

	"github.com/facegate/facegate/pkg/embed"
	"github.com/facegate/facegate/pkg/logging"
)

// Mode names the recognition backend in use for the process lifetime.
type Mode string

const (
	// ModeEmbeddings means descriptors from the neural network are indexed.
	ModeEmbeddings Mode = "embeddings"
	// ModeFallback means the histogram classifier is in use.
	ModeFallback Mode = "fallback"
	// ModeNone means no recognition is possible, typically because the
	// detection cascade could not be loaded.
	ModeNone Mode = "none"
)

// Status classifies an identification attempt.
type Status string

const (
	StatusNoFace     Status = "no_face"
	StatusNotTrained Status = "not_trained"
	StatusMatch      Status = "match"
	StatusNotFound   Status = "not_found"
	StatusError      Status = "recognizer_error"
)

// Outcome is the result of identifying one frame. Score is cosine similarity
// in embeddings mode and a 0-100 confidence in fallback mode.
type Outcome struct {
	Status Status
	Name   string
	Score  float64
	Detail string
}

// FaceDetector locates the dominant face in a frame.
type FaceDetector interface {
	Detect(gray *image.Gray) (image.Rectangle, bool)
}

// Gallery enumerates enrolled identities and their stored face images.
type Gallery interface {
	Identities() ([]string, error)
	Images(name string) ([]string, error)
}

// Engine is the match index. Implementations are safe for concurrent use;
// Identify keeps serving the previous index while Rebuild runs.
type Engine interface {
	// Rebuild rescans the whole gallery and swaps in a fresh index. It
	// returns false without error when the gallery yields no usable faces,
	// leaving any previous index in place.
	Rebuild() (bool, error)

	// Identify matches a frame against the index.
	Identify(gray *image.Gray) Outcome

	// Trained reports whether the index holds any reference entries.
	Trained() bool

	// Mode names the backend in use.
	Mode() Mode
}

// Health is a point-in-time snapshot of the engine state.
type Health struct {
	Mode    Mode `json:"mode"`
	Trained bool `json:"trained"`
}

// Options configures engine construction.
type Options struct {
	TrainerDir string

	ModelFile  string
	InputName  string
	OutputName string

	SimilarityThreshold float64
	DistanceThreshold   float64
	GridX, GridY        int
	FaceSize            int
}

// New picks the best available engine: the descriptor index when the
// embedding network loads, the histogram classifier otherwise. Persisted
// index artifacts under TrainerDir are loaded so restarts do not require an
// immediate rebuild. A nil detector yields an inert engine.
func New(opts Options, detector FaceDetector, gallery Gallery) Engine {
	if detector == nil {
		logging.Warn("No face detector available, recognition disabled")
		return &noneEngine{}
	}

	extractor, err := embed.New(opts.ModelFile, opts.InputName, opts.OutputName)
	if err != nil {
		logging.WithError(err).Warn("Embedding network unavailable, using histogram fallback")
		eng := newFallbackEngine(opts, detector, gallery)
		eng.loadPersisted()
		return eng
	}

	eng := newEmbeddingEngine(opts, detector, gallery, extractor)
	eng.loadPersisted()
	return eng
}

// noneEngine refuses all work. It exists so callers get a well-formed
// outcome instead of a nil engine when no cascade is available.
type noneEngine struct{}

func (e *noneEngine) Rebuild() (bool, error) { return false, nil }

func (e *noneEngine) Identify(gray *image.Gray) Outcome {
	return Outcome{Status: StatusError, Detail: "recognition disabled"}
}

func (e *noneEngine) Trained() bool { return false }
func (e *noneEngine) Mode() Mode    { return ModeNone }

var (
	_ Engine = (*noneEngine)(nil)
	_ Engine = (*EmbeddingEngine)(nil)
	_ Engine = (*FallbackEngine)(nil)
)
