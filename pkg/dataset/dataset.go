// Package dataset imports landmark training databases: a directory of face
// images, one ibug-style .pts landmark file per image, and an optional CSV of
// detection rectangles. It also builds the perturbed training samples the
// cascade fits against.
package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"shapetrack/pkg/geometry"
	img "shapetrack/pkg/imaging"
	"shapetrack/pkg/regression"
)

// ImportParams controls database loading.
type ImportParams struct {
	// MaxImageSideLength bounds the longer image side; larger images are
	// scaled down (and their shapes with them). Zero disables scaling.
	MaxImageSideLength int
}

// SampleParams controls training-sample creation.
type SampleParams struct {
	// NumShapesPerImage is how many initial estimates are created per image,
	// each borrowed from another image's ground truth.
	NumShapesPerImage int

	// UseLinearCombinations blends pairs of borrowed shapes with a random
	// weight instead of using single shapes verbatim.
	UseLinearCombinations bool
}

// Entry is one loaded database record.
type Entry struct {
	Name  string
	Image *img.Image
	// Shape is the ground truth in image coordinates.
	Shape geometry.Shape
	// Rect is the detection rectangle the initial estimates are placed into.
	Rect geometry.Rect
}

// Data is a loaded landmark database.
type Data struct {
	Entries []*Entry
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Load reads every image in dir that has a sibling .pts landmark file.
// rectsCSV optionally maps image names to detection rectangles
// (name,x,y,w,h per line); entries without one fall back to the shape's
// bounding rectangle. Entries are sorted by name so import order is stable.
func Load(dir, rectsCSV string, params ImportParams) (*Data, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading database directory")
	}

	rects := map[string]geometry.Rect{}
	if rectsCSV != "" {
		if rects, err = loadRects(rectsCSV); err != nil {
			return nil, err
		}
	}

	data := &Data{}
	for _, f := range files {
		if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
			continue
		}
		base := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
		ptsPath := filepath.Join(dir, base+".pts")
		if _, err := os.Stat(ptsPath); err != nil {
			continue
		}

		shape, err := ParsePTS(ptsPath)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing landmarks for %s", f.Name())
		}

		src, err := imaging.Open(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "opening image %s", f.Name())
		}

		// Bound the image size, scaling the landmarks with the pixels.
		w, h := src.Bounds().Dx(), src.Bounds().Dy()
		longest := w
		if h > longest {
			longest = h
		}
		if params.MaxImageSideLength > 0 && longest > params.MaxImageSideLength {
			scale := float64(params.MaxImageSideLength) / float64(longest)
			src = imaging.Resize(src, int(float64(w)*scale), int(float64(h)*scale), imaging.Linear)
			shape = shape.Clone()
			shape.Scale(scale)
		}

		entry := &Entry{
			Name:  f.Name(),
			Image: img.FromImage(src),
			Shape: shape,
		}
		if r, ok := rects[f.Name()]; ok {
			entry.Rect = r
		} else {
			entry.Rect = geometry.BoundingRect(shape)
		}
		data.Entries = append(data.Entries, entry)
	}

	if len(data.Entries) == 0 {
		return nil, fmt.Errorf("dataset: no image/landmark pairs found in %s", dir)
	}
	if err := data.validate(); err != nil {
		return nil, err
	}
	sort.Slice(data.Entries, func(i, j int) bool { return data.Entries[i].Name < data.Entries[j].Name })
	return data, nil
}

// validate checks that every entry shares one landmark count.
func (d *Data) validate() error {
	n := len(d.Entries[0].Shape)
	for _, e := range d.Entries[1:] {
		if len(e.Shape) != n {
			return fmt.Errorf("dataset: %s has %d landmarks, expected %d", e.Name, len(e.Shape), n)
		}
	}
	return nil
}

// MeanShape returns the per-landmark mean of the normalized ground-truth
// shapes, in the unit-rect frame.
func (d *Data) MeanShape() (geometry.Shape, error) {
	shapes := make([]geometry.Shape, len(d.Entries))
	for i, e := range d.Entries {
		shapes[i] = geometry.NormalizeToRect(e.Shape, e.Rect)
	}
	return geometry.MeanShape(shapes)
}

// Partition randomly moves roughly fraction of the entries into a held-out
// set, returning (train, heldOut). The receiver is not modified.
func (d *Data) Partition(fraction float64, rng *rand.Rand) (*Data, *Data) {
	train := &Data{}
	held := &Data{}
	for _, e := range d.Entries {
		if rng.Float64() < fraction {
			held.Entries = append(held.Entries, e)
		} else {
			train.Entries = append(train.Entries, e)
		}
	}
	return train, held
}

// CreateSamples builds the training batch: for every entry, NumShapesPerImage
// initial estimates are created by placing other entries' normalized ground
// truths (optionally blended pairwise) into this entry's detection rectangle.
// Estimating from foreign shapes is what gives the cascade something to
// correct.
func (d *Data) CreateSamples(params SampleParams, rng *rand.Rand) ([]*regression.Sample, error) {
	if len(d.Entries) < 2 {
		return nil, fmt.Errorf("dataset: need at least 2 entries to create samples, have %d", len(d.Entries))
	}
	if params.NumShapesPerImage <= 0 {
		return nil, fmt.Errorf("dataset: NumShapesPerImage must be positive, got %d", params.NumShapesPerImage)
	}

	normalized := make([]geometry.Shape, len(d.Entries))
	for i, e := range d.Entries {
		normalized[i] = geometry.NormalizeToRect(e.Shape, e.Rect)
	}

	other := func(i int) int {
		for {
			j := rng.Intn(len(d.Entries))
			if j != i {
				return j
			}
		}
	}

	var samples []*regression.Sample
	for i, e := range d.Entries {
		for s := 0; s < params.NumShapesPerImage; s++ {
			estimate := normalized[other(i)].Clone()
			if params.UseLinearCombinations {
				alpha := rng.Float64()
				estimate.Scale(alpha)
				estimate.AddScaled(1-alpha, normalized[other(i)])
			}
			samples = append(samples, &regression.Sample{
				Image:    e.Image,
				Target:   e.Shape,
				Estimate: geometry.DenormalizeFromRect(estimate, e.Rect),
			})
		}
	}
	return samples, nil
}

// ParsePTS reads an ibug-format landmark file:
//
//	version: 1
//	n_points: 68
//	{
//	x y
//	...
//	}
func ParsePTS(path string) (geometry.Shape, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var shape geometry.Shape
	declared := -1
	inPoints := false

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "version:"):
		case strings.HasPrefix(line, "n_points:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "n_points:"))
			if declared, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("dataset: bad n_points %q", v)
			}
		case line == "{":
			inPoints = true
		case line == "}":
			inPoints = false
		case inPoints:
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return nil, fmt.Errorf("dataset: bad landmark line %q", line)
			}
			x, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: bad landmark line %q", line)
			}
			y, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: bad landmark line %q", line)
			}
			shape = append(shape, geometry.Point{X: x, Y: y})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if declared >= 0 && declared != len(shape) {
		return nil, fmt.Errorf("dataset: %s declares %d points but lists %d", path, declared, len(shape))
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("dataset: %s contains no landmarks", path)
	}
	return shape, nil
}

// loadRects parses a rectangles CSV with name,x,y,w,h records.
func loadRects(path string) (map[string]geometry.Rect, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening rectangles file")
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parsing rectangles file")
	}

	rects := make(map[string]geometry.Rect, len(records))
	for i, rec := range records {
		if len(rec) != 5 {
			return nil, fmt.Errorf("dataset: rectangles row %d has %d fields, want 5", i+1, len(rec))
		}
		vals := make([]float64, 4)
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(strings.TrimSpace(rec[j+1]), 64); err != nil {
				return nil, fmt.Errorf("dataset: rectangles row %d: %v", i+1, err)
			}
		}
		rects[strings.TrimSpace(rec[0])] = geometry.Rect{
			MinX: vals[0],
			MinY: vals[1],
			MaxX: vals[0] + vals[2],
			MaxY: vals[1] + vals[3],
		}
	}
	return rects, nil
}
