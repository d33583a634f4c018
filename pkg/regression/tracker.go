package regression

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"shapetrack/pkg/geometry"
	"shapetrack/pkg/imaging"
)

// Tracker is the outer cascade: an ordered list of regressor stages. Each
// stage is fitted against the estimates left behind by the previous one, and
// prediction applies the stages in the same order, accumulating corrections
// onto the initial shape estimate.
type Tracker struct {
	meanShape geometry.Shape
	stages    []*Regressor
}

// NumStages returns the number of fitted cascade stages.
func (t *Tracker) NumStages() int { return len(t.stages) }

// MeanShape returns the cascade's alignment reference shape. The result
// aliases internal state.
func (t *Tracker) MeanShape() geometry.Shape { return t.meanShape }

// Clone returns a deep copy of the tracker, stages included.
func (t *Tracker) Clone() *Tracker {
	out := &Tracker{
		meanShape: t.meanShape.Clone(),
		stages:    make([]*Regressor, len(t.stages)),
	}
	for i, s := range t.stages {
		out.stages[i] = s.Clone()
	}
	return out
}

// Fit trains the full cascade. Stage i is fitted on the current estimates,
// then every sample's estimate is advanced by stage i's prediction before
// stage i+1 is fitted. Sample estimates are mutated in place.
func (t *Tracker) Fit(td *TrainingData) error {
	if err := td.Params.Validate(); err != nil {
		return err
	}
	if len(td.MeanShape) == 0 {
		return fmt.Errorf("regression: training data has no mean shape")
	}

	t.meanShape = td.MeanShape.Clone()
	t.stages = make([]*Regressor, 0, td.Params.NumCascades)

	for c := 0; c < td.Params.NumCascades; c++ {
		r := &Regressor{}
		if err := r.Fit(td); err != nil {
			return fmt.Errorf("fitting cascade stage %d: %w", c, err)
		}
		t.stages = append(t.stages, r)

		// Advance every estimate by the new stage's correction so the next
		// stage trains on what this one still misses.
		err := parallelFor(len(td.Samples), td.workers(), func(i int) error {
			s := td.Samples[i]
			delta, err := r.Predict(s.Image, s.Estimate)
			if err != nil {
				return err
			}
			s.Estimate.Add(delta)
			return nil
		})
		if err != nil {
			return err
		}

		mean, _ := t.Evaluate(td.Samples)
		fmt.Printf("Fitted cascade stage %d/%d, mean landmark error %.4f\n", c+1, td.Params.NumCascades, mean)
	}
	return nil
}

// Predict runs the cascade on an image, starting from the given initial
// estimate and applying each stage's correction in training order. The input
// estimate is not modified.
func (t *Tracker) Predict(img *imaging.Image, initial geometry.Shape) (geometry.Shape, error) {
	s := initial.Clone()
	for i, stage := range t.stages {
		delta, err := stage.Predict(img, s)
		if err != nil {
			return nil, fmt.Errorf("cascade stage %d: %w", i, err)
		}
		s.Add(delta)
	}
	return s, nil
}

// Evaluate reports the mean and maximum per-sample landmark error of the
// current estimates against the ground truth.
func (t *Tracker) Evaluate(samples []*Sample) (mean, max float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	errs := make([]float64, len(samples))
	for i, s := range samples {
		var sum float64
		for j := range s.Target {
			sum += s.Target[j].Sub(s.Estimate[j]).Norm()
		}
		errs[i] = sum / float64(len(s.Target))
		if errs[i] > max {
			max = errs[i]
		}
	}
	return stat.Mean(errs, nil), max
}
