package index

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/facegate/facegate/pkg/imaging"
	"github.com/facegate/facegate/pkg/lbph"
	"github.com/facegate/facegate/pkg/logging"
)

const fallbackFile = "lbph.json"

// FallbackEngine classifies faces with spatial histograms when the
// embedding network is not available. Confidence is 100 minus the
// chi-square distance, so a perfect match scores 100.
type FallbackEngine struct {
	detector  FaceDetector
	gallery   Gallery
	threshold float64
	gridX     int
	gridY     int
	faceSize  int
	dir       string

	mu    sync.RWMutex
	model *lbph.Model
	names *nameTable

	log interface {
		Infof(format string, args ...interface{})
		Warnf(format string, args ...interface{})
	}
}

func newFallbackEngine(opts Options, detector FaceDetector, gallery Gallery) *FallbackEngine {
	faceSize := opts.FaceSize
	if faceSize <= 0 {
		faceSize = 96
	}
	return &FallbackEngine{
		detector:  detector,
		gallery:   gallery,
		threshold: opts.DistanceThreshold,
		gridX:     opts.GridX,
		gridY:     opts.GridY,
		faceSize:  faceSize,
		dir:       opts.TrainerDir,
		names:     &nameTable{},
		log:       logging.Component("index"),
	}
}

func (e *FallbackEngine) Mode() Mode { return ModeFallback }

func (e *FallbackEngine) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil && e.model.Trained()
}

// loadPersisted restores the previous classifier from disk, if any.
func (e *FallbackEngine) loadPersisted() {
	names, err := loadNames(filepath.Join(e.dir, namesFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.log.Warnf("Failed to load name table: %v", err)
		}
		return
	}

	model, err := lbph.Load(filepath.Join(e.dir, fallbackFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.log.Warnf("Failed to load histogram model: %v", err)
		}
		return
	}

	e.mu.Lock()
	e.model = model
	e.names = names
	e.mu.Unlock()
	e.log.Infof("Restored histogram model with %d references", len(model.Labels))
}

// Rebuild retrains the classifier from every stored gallery crop, persists
// it, and swaps it in. Returns false when nothing usable was found.
func (e *FallbackEngine) Rebuild() (bool, error) {
	identities, err := e.gallery.Identities()
	if err != nil {
		return false, fmt.Errorf("failed to list identities: %w", err)
	}

	names := &nameTable{}
	var samples []lbph.Sample
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
			samples = append(samples, lbph.Sample{
				Image: imaging.Resize(gray, e.faceSize, e.faceSize),
				Label: label,
			})
		}
	}

	if len(samples) == 0 {
		e.log.Warnf("Rebuild found no training images (%d skipped), keeping previous model", skipped)
		return false, nil
	}

	model := lbph.New(e.gridX, e.gridY)
	if err := model.Train(samples); err != nil {
		return false, fmt.Errorf("failed to train classifier: %w", err)
	}

	if err := model.Save(filepath.Join(e.dir, fallbackFile)); err != nil {
		return false, err
	}
	if err := names.save(filepath.Join(e.dir, namesFile)); err != nil {
		return false, err
	}

	e.mu.Lock()
	e.model = model
	e.names = names
	e.mu.Unlock()

	e.log.Infof("Histogram model rebuilt: %d references across %d identities",
		len(samples), len(names.Names))
	return true, nil
}

// Identify crops the dominant face and classifies it. A match requires the
// chi-square distance to the nearest reference to stay under the threshold.
func (e *FallbackEngine) Identify(gray *image.Gray) Outcome {
	box, found := e.detector.Detect(gray)
	if !found {
		return Outcome{Status: StatusNoFace}
	}

	e.mu.RLock()
	model, names := e.model, e.names
	e.mu.RUnlock()

	if model == nil || !model.Trained() {
		return Outcome{Status: StatusNotTrained}
	}

	// Histograms are normalized per cell, so the raw crop needs no resize.
	crop, ok := imaging.Crop(gray, box)
	if !ok {
		return Outcome{Status: StatusNoFace}
	}

	label, distance, err := model.Predict(crop)
	if err != nil {
		return Outcome{Status: StatusError, Detail: err.Error()}
	}

	name, ok := names.nameFor(label)
	if !ok {
		return Outcome{Status: StatusError, Detail: "model references unknown label"}
	}
	if distance >= e.threshold {
		return Outcome{Status: StatusNotFound, Score: 100 - distance}
	}
	return Outcome{Status: StatusMatch, Name: name, Score: 100 - distance}
}
