// Package regression implements the boosted-ensemble cascaded shape
// regressor: decision trees splitting on pixel intensity differences, cascade
// stages that boost them against shape residuals, and the tracker that
// sequences the stages.
package regression

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"shapetrack/pkg/geometry"
	"shapetrack/pkg/imaging"
)

// Params holds the global training parameters shared by every cascade stage.
type Params struct {
	// NumCascades is the number of regressor stages in the cascade.
	NumCascades int

	// NumTrees is the number of boosted trees per stage.
	NumTrees int

	// MaxTreeDepth bounds tree growth; a depth of 1 is a single leaf.
	MaxTreeDepth int

	// NumRandomPixelCoordinates is the number of pixel locations sampled in
	// the mean shape's bounding box per stage.
	NumRandomPixelCoordinates int

	// NumSplitTestsPerNode is the number of candidate split tests drawn at
	// each internal tree node.
	NumSplitTestsPerNode int

	// ExponentialLambda biases candidate feature pairs toward spatially
	// close coordinates. Larger values favor closer pairs.
	ExponentialLambda float64

	// LearningRate scales each tree's contribution to the ensemble.
	LearningRate float64
}

// DefaultParams returns the training parameters used throughout the
// literature for facial landmark cascades.
func DefaultParams() Params {
	return Params{
		NumCascades:               10,
		NumTrees:                  500,
		MaxTreeDepth:              5,
		NumRandomPixelCoordinates: 400,
		NumSplitTestsPerNode:      20,
		ExponentialLambda:         0.1,
		LearningRate:              0.08,
	}
}

// Validate reports the first structurally unusable parameter.
func (p Params) Validate() error {
	switch {
	case p.NumCascades <= 0:
		return fmt.Errorf("regression: NumCascades must be positive, got %d", p.NumCascades)
	case p.NumTrees < 0:
		return fmt.Errorf("regression: NumTrees must be non-negative, got %d", p.NumTrees)
	case p.MaxTreeDepth <= 0:
		return fmt.Errorf("regression: MaxTreeDepth must be positive, got %d", p.MaxTreeDepth)
	case p.NumRandomPixelCoordinates <= 0:
		return fmt.Errorf("regression: NumRandomPixelCoordinates must be positive, got %d", p.NumRandomPixelCoordinates)
	case p.NumSplitTestsPerNode < 0:
		return fmt.Errorf("regression: NumSplitTestsPerNode must be non-negative, got %d", p.NumSplitTestsPerNode)
	}
	return nil
}

// Sample is one training observation: a source image, the ground-truth
// landmark shape on it, and the running shape estimate the cascade refines
// stage by stage.
type Sample struct {
	Image    *imaging.Image
	Target   geometry.Shape
	Estimate geometry.Shape
}

// TrainingData aggregates everything a cascade fit needs. The random
// generator is injected so a fixed seed reproduces a training run exactly.
type TrainingData struct {
	Params  Params
	Samples []*Sample

	// MeanShape is the alignment reference for every stage, usually the
	// per-landmark mean of the normalized ground-truth shapes.
	MeanShape geometry.Shape

	// Rand drives coordinate sampling, split-candidate selection and
	// threshold draws. Draw order affects reproducibility, so everything
	// that consumes it runs single-threaded.
	Rand *rand.Rand

	// NumWorkers bounds the per-sample parallelism during fitting.
	// Zero means one worker per CPU.
	NumWorkers int
}

func (td *TrainingData) workers() int {
	if td.NumWorkers > 0 {
		return td.NumWorkers
	}
	return runtime.NumCPU()
}

// treeSample is the per-sample state a tree fit consumes: the cached
// intensity vector and the working residual the boosting loop adjusts between
// trees.
type treeSample struct {
	intensities []float64
	residual    geometry.Shape
}

// treeTraining is the batch handed to each tree fit. The pixel coordinates
// are the stage's absolute sampled locations in the mean shape frame; the
// locality prior measures pair distances on them.
type treeTraining struct {
	samples      []treeSample
	pixelCoords  []geometry.Point
	numLandmarks int
	params       Params
	rand         *rand.Rand
}

// parallelFor runs fn over [0, n) chunked across at most workers goroutines
// and returns the first error any chunk produced. fn must not touch shared
// mutable state outside its own index.
func parallelFor(n, workers int, fn func(i int) error) error {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	per := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			start := w * per
			end := start + per
			if end > n {
				end = n
			}
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					errs[w] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
