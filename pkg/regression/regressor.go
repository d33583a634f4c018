package regression

import (
	"fmt"
	"math/rand"

	"shapetrack/pkg/geometry"
	"shapetrack/pkg/imaging"
)

// Regressor is one cascade stage: a fixed table of shape-relative pixel
// coordinates, a mean-residual baseline, and an ordered ensemble of boosted
// trees. A Regressor is constructed empty, populated by a single Fit call,
// and read-only afterwards; concurrent Predict calls on a fitted Regressor
// are safe.
type Regressor struct {
	pixelCoords     []geometry.Point
	closestLandmark []int
	meanResidual    geometry.Shape
	meanShape       geometry.Shape
	learningRate    float64
	trees           []*Tree
}

// NumTrees returns the size of the fitted ensemble.
func (r *Regressor) NumTrees() int { return len(r.trees) }

// Clone returns a deep copy of the regressor.
func (r *Regressor) Clone() *Regressor {
	out := &Regressor{
		pixelCoords:     append([]geometry.Point(nil), r.pixelCoords...),
		closestLandmark: append([]int(nil), r.closestLandmark...),
		meanResidual:    r.meanResidual.Clone(),
		meanShape:       r.meanShape.Clone(),
		learningRate:    r.learningRate,
		trees:           make([]*Tree, len(r.trees)),
	}
	for i, t := range r.trees {
		out.trees[i] = t.Clone()
	}
	return out
}

// sampleCoordinates draws the stage's pixel locations uniformly within the
// axis-aligned bounding box of the mean shape. These are one-time per-stage
// draws, fixed for the stage's lifetime.
func sampleCoordinates(meanShape geometry.Shape, count int, rng *rand.Rand) []geometry.Point {
	min, max := meanShape.Bounds()
	out := make([]geometry.Point, count)
	for i := range out {
		out[i] = geometry.Point{
			X: min.X + rng.Float64()*(max.X-min.X),
			Y: min.Y + rng.Float64()*(max.Y-min.Y),
		}
	}
	return out
}

// readPixelIntensities re-projects the stage's shape-relative coordinates
// into the image frame of the given estimate: each offset is mapped through
// the linear part of the mean-shape-to-estimate transform and anchored at its
// landmark's current position, then the image is sampled there.
func (r *Regressor) readPixelIntensities(t geometry.Similarity, estimate geometry.Shape, img *imaging.Image) []float64 {
	coords := make([]geometry.Point, len(r.pixelCoords))
	for i, rel := range r.pixelCoords {
		coords[i] = t.ApplyLinear(rel).Add(estimate[r.closestLandmark[i]])
	}
	return img.SampleAll(coords)
}

// Fit trains the stage on the given batch: it samples and encodes the pixel
// coordinate table, computes every sample's target residual and intensity
// vector, records the mean residual as the ensemble's additive baseline, and
// then boosts NumTrees trees sequentially, each fitted to what the ensemble
// so far still misses.
func (r *Regressor) Fit(td *TrainingData) error {
	if err := td.Params.Validate(); err != nil {
		return err
	}
	if len(td.Samples) == 0 {
		return fmt.Errorf("regression: no training samples")
	}
	if len(td.MeanShape) == 0 {
		return fmt.Errorf("regression: training data has no mean shape")
	}

	p := td.Params
	numLandmarks := len(td.MeanShape)
	r.learningRate = p.LearningRate
	r.meanShape = td.MeanShape.Clone()

	abs := sampleCoordinates(r.meanShape, p.NumRandomPixelCoordinates, td.Rand)
	r.pixelCoords, r.closestLandmark = geometry.RelativeCoordinates(r.meanShape, abs)

	tt := &treeTraining{
		samples:      make([]treeSample, len(td.Samples)),
		pixelCoords:  abs,
		numLandmarks: numLandmarks,
		params:       p,
		rand:         td.Rand,
	}

	// Per-sample residuals and intensity vectors are independent of each
	// other; compute them across workers. Nothing below draws from td.Rand.
	err := parallelFor(len(td.Samples), td.workers(), func(i int) error {
		s := td.Samples[i]
		if len(s.Target) != numLandmarks || len(s.Estimate) != numLandmarks {
			return fmt.Errorf("regression: sample %d landmark count mismatch: target %d, estimate %d, want %d",
				i, len(s.Target), len(s.Estimate), numLandmarks)
		}
		residual, err := geometry.Diff(s.Target, s.Estimate)
		if err != nil {
			return err
		}
		trans, err := geometry.EstimateSimilarityTransform(r.meanShape, s.Estimate)
		if err != nil {
			return err
		}
		tt.samples[i] = treeSample{
			residual:    residual,
			intensities: r.readPixelIntensities(trans, s.Estimate, s.Image),
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.meanResidual = geometry.NewShape(numLandmarks)
	for i := range tt.samples {
		r.meanResidual.Add(tt.samples[i].residual)
	}
	r.meanResidual.Scale(1 / float64(len(tt.samples)))

	// Forward stage-wise boosting: before fitting tree k, shift every
	// working residual by what the ensemble already predicts (the baseline
	// for k = 0, the previous tree's scaled output after that). Trees are
	// fitted and kept strictly in order; the order is part of the model.
	r.trees = make([]*Tree, 0, p.NumTrees)
	for k := 0; k < p.NumTrees; k++ {
		for i := range tt.samples {
			if k == 0 {
				tt.samples[i].residual.Sub(r.meanResidual)
			} else {
				prev := r.trees[k-1].Predict(tt.samples[i].intensities)
				tt.samples[i].residual.AddScaled(-r.learningRate, prev)
			}
		}
		tree := &Tree{}
		tree.fit(tt)
		r.trees = append(r.trees, tree)
	}
	return nil
}

// Predict returns the stage's residual correction for the given image and
// shape estimate: the mean-residual baseline plus the learning-rate-scaled
// sum of all tree outputs, evaluated on one freshly sampled intensity vector.
// It mutates no state and is a pure function of its inputs.
func (r *Regressor) Predict(img *imaging.Image, estimate geometry.Shape) (geometry.Shape, error) {
	if len(estimate) != len(r.meanShape) {
		return nil, fmt.Errorf("regression: estimate has %d landmarks, model has %d", len(estimate), len(r.meanShape))
	}
	trans, err := geometry.EstimateSimilarityTransform(r.meanShape, estimate)
	if err != nil {
		return nil, err
	}
	intensities := r.readPixelIntensities(trans, estimate, img)

	out := r.meanResidual.Clone()
	for _, t := range r.trees {
		out.AddScaled(r.learningRate, t.Predict(intensities))
	}
	return out, nil
}
