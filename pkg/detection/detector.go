// Package detection wraps the pigo face detector to produce the initial
// rectangles the cascade's shape estimates are seeded from.
package detection

import (
	"fmt"
	"os"
	"sort"

	pigo "github.com/esimov/pigo/core"
	"github.com/pkg/errors"

	"shapetrack/pkg/geometry"
	"shapetrack/pkg/imaging"
)

// Params controls the detector sweep.
type Params struct {
	// MinSize and MaxSize bound the detection window in pixels.
	MinSize int
	MaxSize int

	// ShiftFactor moves the window by a fraction of its size per step.
	ShiftFactor float64

	// ScaleFactor grows the window between scales.
	ScaleFactor float64

	// MinQuality drops detections scoring below this threshold.
	MinQuality float32
}

// DefaultParams returns a sweep covering frontal faces at common image sizes.
func DefaultParams() Params {
	return Params{
		MinSize:     60,
		MaxSize:     1000,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		MinQuality:  5.0,
	}
}

// Detector is a pigo cascade classifier ready to run over intensity images.
type Detector struct {
	classifier *pigo.Pigo
	params     Params
}

// New unpacks a pigo cascade description into a ready detector.
func New(cascade []byte, params Params) (*Detector, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, errors.Wrap(err, "unpacking cascade file")
	}
	return &Detector{classifier: classifier, params: params}, nil
}

// NewFromFile reads a cascade description from disk.
func NewFromFile(path string, params Params) (*Detector, error) {
	cascade, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading cascade file")
	}
	return New(cascade, params)
}

// Detect runs the cascade over the image and returns the detection squares
// that cleared the quality threshold, best score first.
func (d *Detector) Detect(img *imaging.Image) []geometry.Rect {
	pixels := make([]uint8, len(img.Pixels))
	for i, v := range img.Pixels {
		switch {
		case v <= 0:
			pixels[i] = 0
		case v >= 255:
			pixels[i] = 255
		default:
			pixels[i] = uint8(v)
		}
	}

	maxSize := d.params.MaxSize
	if longest := max(img.Width, img.Height); maxSize > longest {
		maxSize = longest
	}
	cParams := pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: d.params.ShiftFactor,
		ScaleFactor: d.params.ScaleFactor,

		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   img.Height,
			Cols:   img.Width,
			Dim:    img.Width,
		},
	}

	dets := d.classifier.RunCascade(cParams, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	bestFirst := append([]pigo.Detection(nil), dets...)
	sort.Slice(bestFirst, func(i, j int) bool { return bestFirst[i].Q > bestFirst[j].Q })

	var rects []geometry.Rect
	for _, det := range bestFirst {
		if det.Q < d.params.MinQuality {
			continue
		}
		half := float64(det.Scale) / 2
		rects = append(rects, geometry.Rect{
			MinX: float64(det.Col) - half,
			MinY: float64(det.Row) - half,
			MaxX: float64(det.Col) + half,
			MaxY: float64(det.Row) + half,
		})
	}
	return rects
}

// InitialEstimate places a unit-frame mean shape into a detection rectangle,
// yielding the cascade's starting shape in image coordinates.
func InitialEstimate(meanShape geometry.Shape, rect geometry.Rect) (geometry.Shape, error) {
	if len(meanShape) == 0 {
		return nil, fmt.Errorf("detection: empty mean shape")
	}
	return geometry.DenormalizeFromRect(meanShape, rect), nil
}
