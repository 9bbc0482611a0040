package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"

	"github.com/facegate/facegate/pkg/embed"
	"github.com/facegate/facegate/pkg/imaging"
	"github.com/facegate/facegate/pkg/logging"
)

const (
	embeddingsFile = "embeddings.json"
	namesFile      = "labels.json"
)

// descriptorSource produces a fixed-length descriptor for a face box.
// *embed.Extractor is the production implementation.
type descriptorSource interface {
	Extract(gray *image.Gray, box image.Rectangle) ([]float32, error)
}

// descriptorTable is the persisted index: one unit descriptor per gallery
// image, with a parallel slice of name-table labels.
type descriptorTable struct {
	Vectors [][]float32 `json:"vectors"`
	Labels  []int       `json:"labels"`
}

// EmbeddingEngine matches probe descriptors against the gallery by cosine
// similarity. Descriptors are unit length, so similarity is a dot product.
type EmbeddingEngine struct {
	detector  FaceDetector
	gallery   Gallery
	extractor descriptorSource
	threshold float64
	dir       string

	mu    sync.RWMutex
	table *descriptorTable
	names *nameTable

	log interface {
		Infof(format string, args ...interface{})
		Warnf(format string, args ...interface{})
	}
}

func newEmbeddingEngine(opts Options, detector FaceDetector, gallery Gallery, extractor descriptorSource) *EmbeddingEngine {
	return &EmbeddingEngine{
		detector:  detector,
		gallery:   gallery,
		extractor: extractor,
		threshold: opts.SimilarityThreshold,
		dir:       opts.TrainerDir,
		names:     &nameTable{},
		log:       logging.Component("index"),
	}
}

func (e *EmbeddingEngine) Mode() Mode { return ModeEmbeddings }

func (e *EmbeddingEngine) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table != nil && len(e.table.Vectors) > 0
}

// loadPersisted restores the previous index from disk, if any.
func (e *EmbeddingEngine) loadPersisted() {
	names, err := loadNames(filepath.Join(e.dir, namesFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.log.Warnf("Failed to load name table: %v", err)
		}
		return
	}

	data, err := os.ReadFile(filepath.Join(e.dir, embeddingsFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.log.Warnf("Failed to load descriptor index: %v", err)
		}
		return
	}
	var table descriptorTable
	if err := json.Unmarshal(data, &table); err != nil {
		e.log.Warnf("Failed to parse descriptor index: %v", err)
		return
	}
	if len(table.Vectors) != len(table.Labels) {
		e.log.Warnf("Descriptor index is inconsistent, ignoring it")
		return
	}

	e.mu.Lock()
	e.table = &table
	e.names = names
	e.mu.Unlock()
	e.log.Infof("Restored descriptor index with %d entries", len(table.Vectors))
}

// Rebuild scans every gallery image, extracts descriptors, persists the new
// index, and swaps it in. Identification keeps using the old index until the
// swap. Returns false when the gallery yields no usable faces.
func (e *EmbeddingEngine) Rebuild() (bool, error) {
	identities, err := e.gallery.Identities()
	if err != nil {
		return false, fmt.Errorf("failed to list identities: %w", err)
	}

	table := &descriptorTable{}
	names := &nameTable{}
	skipped := 0
	for _, name := range identities {
		paths, err := e.gallery.Images(name)
		if err != nil {
			return false, fmt.Errorf("failed to list images for %s: %w", name, err)
		}
		label := names.idFor(name)
		for _, path := range paths {
			gray, err := imaging.LoadGray(path)
			if err != nil {
				e.log.Warnf("Skipping unreadable image %s: %v", path, err)
				skipped++
				continue
			}
			box, found := e.detector.Detect(gray)
			if !found {
				// Stored crops are tight, treat the whole image as the face.
				box = gray.Bounds()
			}
			vec, err := e.extractor.Extract(gray, box)
			if err != nil {
				e.log.Warnf("Skipping %s: %v", path, err)
				skipped++
				continue
			}
			table.Vectors = append(table.Vectors, vec)
			table.Labels = append(table.Labels, label)
		}
	}

	if len(table.Vectors) == 0 {
		e.log.Warnf("Rebuild found no usable faces (%d skipped), keeping previous index", skipped)
		return false, nil
	}

	if err := e.persist(table, names); err != nil {
		return false, err
	}

	e.mu.Lock()
	e.table = table
	e.names = names
	e.mu.Unlock()

	e.log.Infof("Index rebuilt: %d descriptors across %d identities, %d images skipped",
		len(table.Vectors), len(names.Names), skipped)
	return true, nil
}

func (e *EmbeddingEngine) persist(table *descriptorTable, names *nameTable) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor index: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(e.dir, embeddingsFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write descriptor index: %w", err)
	}
	return names.save(filepath.Join(e.dir, namesFile))
}

// Identify finds the dominant face in the frame and returns the closest
// identity when its cosine similarity clears the threshold.
func (e *EmbeddingEngine) Identify(gray *image.Gray) Outcome {
	box, found := e.detector.Detect(gray)
	if !found {
		return Outcome{Status: StatusNoFace}
	}

	e.mu.RLock()
	table, names := e.table, e.names
	e.mu.RUnlock()

	if table == nil || len(table.Vectors) == 0 {
		return Outcome{Status: StatusNotTrained}
	}

	vec, err := e.extractor.Extract(gray, box)
	if err != nil {
		if errors.Is(err, embed.ErrEmptyCrop) {
			return Outcome{Status: StatusNoFace}
		}
		return Outcome{Status: StatusError, Detail: err.Error()}
	}

	// First maximum wins ties, matching a plain argmax over the table.
	bestIdx, bestSim := 0, dot(vec, table.Vectors[0])
	for i := 1; i < len(table.Vectors); i++ {
		if sim := dot(vec, table.Vectors[i]); sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}

	name, ok := names.nameFor(table.Labels[bestIdx])
	if !ok {
		return Outcome{Status: StatusError, Detail: "index references unknown label"}
	}
	if float64(bestSim) < e.threshold {
		return Outcome{Status: StatusNotFound, Score: float64(bestSim)}
	}
	return Outcome{Status: StatusMatch, Name: name, Score: float64(bestSim)}
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
