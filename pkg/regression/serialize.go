package regression

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"shapetrack/pkg/geometry"
)

// Model records are fixed-width LittleEndian: float64 for numeric fields,
// int32 for counts and indices. Every count is validated on load so a
// malformed or truncated file surfaces as an error instead of a silently
// truncated model.

var modelMagic = [4]byte{'S', 'T', 'R', 'K'}

const modelVersion uint32 = 1

// maxRecordCount bounds every declared count in a model file. It only guards
// against nonsense headers causing huge allocations.
const maxRecordCount = 1 << 24

func writeCount(w io.Writer, n int) error {
	return binary.Write(w, binary.LittleEndian, int32(n))
}

func readCount(r io.Reader, what string) (int, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, errors.Wrapf(err, "reading %s count", what)
	}
	if n < 0 || n > maxRecordCount {
		return 0, fmt.Errorf("regression: invalid %s count %d", what, n)
	}
	return int(n), nil
}

func writeShape(w io.Writer, s geometry.Shape) error {
	for _, p := range s {
		if err := binary.Write(w, binary.LittleEndian, [2]float64{p.X, p.Y}); err != nil {
			return err
		}
	}
	return nil
}

func readShape(r io.Reader, numLandmarks int, what string) (geometry.Shape, error) {
	s := geometry.NewShape(numLandmarks)
	for i := range s {
		var xy [2]float64
		if err := binary.Read(r, binary.LittleEndian, &xy); err != nil {
			return nil, errors.Wrapf(err, "reading %s", what)
		}
		s[i] = geometry.Point{X: xy[0], Y: xy[1]}
	}
	return s, nil
}

// nodeRecord is the on-disk layout of one tree node. A negative Left marks a
// leaf, whose residual follows the record.
type nodeRecord struct {
	Feature1  int32
	Feature2  int32
	Threshold float64
	Left      int32
	Right     int32
}

// Encode writes the tree as a flat node-record list.
func (t *Tree) Encode(w io.Writer) error {
	if err := writeCount(w, len(t.nodes)); err != nil {
		return err
	}
	for i := range t.nodes {
		n := &t.nodes[i]
		rec := nodeRecord{
			Feature1:  n.Split.Feature1,
			Feature2:  n.Split.Feature2,
			Threshold: n.Split.Threshold,
			Left:      n.Left,
			Right:     n.Right,
		}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return err
		}
		if n.isLeaf() {
			if err := writeShape(w, n.Residual); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeTree reads a tree record written by Encode. numLandmarks fixes the
// leaf residual size; node and feature indices are validated against the
// declared counts.
func DecodeTree(r io.Reader, numLandmarks, numFeatures int) (*Tree, error) {
	numNodes, err := readCount(r, "tree node")
	if err != nil {
		return nil, err
	}
	t := &Tree{nodes: make([]treeNode, numNodes)}
	for i := 0; i < numNodes; i++ {
		var rec nodeRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, errors.Wrapf(err, "reading tree node %d", i)
		}
		n := treeNode{
			Split: SplitTest{Feature1: rec.Feature1, Feature2: rec.Feature2, Threshold: rec.Threshold},
			Left:  rec.Left,
			Right: rec.Right,
		}
		if n.isLeaf() {
			if n.Residual, err = readShape(r, numLandmarks, "leaf residual"); err != nil {
				return nil, err
			}
		} else {
			if int(rec.Left) >= numNodes || rec.Right < 0 || int(rec.Right) >= numNodes {
				return nil, fmt.Errorf("regression: tree node %d has child out of range", i)
			}
			if int(rec.Feature1) >= numFeatures || rec.Feature1 < 0 ||
				int(rec.Feature2) >= numFeatures || rec.Feature2 < 0 {
				return nil, fmt.Errorf("regression: tree node %d has feature index out of range", i)
			}
		}
		t.nodes[i] = n
	}
	return t, nil
}

// Encode writes every field Predict depends on: the pixel coordinate table
// with its nearest-landmark indices, mean shape and residual, learning rate,
// and the ordered tree ensemble.
func (r *Regressor) Encode(w io.Writer) error {
	if err := writeCount(w, len(r.meanShape)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, r.learningRate); err != nil {
		return err
	}
	if err := writeShape(w, r.meanShape); err != nil {
		return err
	}
	if err := writeShape(w, r.meanResidual); err != nil {
		return err
	}
	if err := writeCount(w, len(r.pixelCoords)); err != nil {
		return err
	}
	for i, p := range r.pixelCoords {
		if err := binary.Write(w, binary.LittleEndian, [2]float64{p.X, p.Y}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(r.closestLandmark[i])); err != nil {
			return err
		}
	}
	if err := writeCount(w, len(r.trees)); err != nil {
		return err
	}
	for _, t := range r.trees {
		if err := t.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// DecodeRegressor reads a stage record written by Encode. The declared tree
// count must match the stored tree records exactly; a short file fails with
// an unexpected-EOF error rather than yielding a truncated ensemble.
func DecodeRegressor(rd io.Reader) (*Regressor, error) {
	numLandmarks, err := readCount(rd, "landmark")
	if err != nil {
		return nil, err
	}
	r := &Regressor{}
	if err := binary.Read(rd, binary.LittleEndian, &r.learningRate); err != nil {
		return nil, errors.Wrap(err, "reading learning rate")
	}
	if r.meanShape, err = readShape(rd, numLandmarks, "mean shape"); err != nil {
		return nil, err
	}
	if r.meanResidual, err = readShape(rd, numLandmarks, "mean residual"); err != nil {
		return nil, err
	}

	numCoords, err := readCount(rd, "pixel coordinate")
	if err != nil {
		return nil, err
	}
	r.pixelCoords = make([]geometry.Point, numCoords)
	r.closestLandmark = make([]int, numCoords)
	for i := 0; i < numCoords; i++ {
		var xy [2]float64
		if err := binary.Read(rd, binary.LittleEndian, &xy); err != nil {
			return nil, errors.Wrapf(err, "reading pixel coordinate %d", i)
		}
		var closest int32
		if err := binary.Read(rd, binary.LittleEndian, &closest); err != nil {
			return nil, errors.Wrapf(err, "reading landmark index %d", i)
		}
		if closest < 0 || int(closest) >= numLandmarks {
			return nil, fmt.Errorf("regression: landmark index %d out of range for coordinate %d", closest, i)
		}
		r.pixelCoords[i] = geometry.Point{X: xy[0], Y: xy[1]}
		r.closestLandmark[i] = int(closest)
	}

	numTrees, err := readCount(rd, "tree")
	if err != nil {
		return nil, err
	}
	r.trees = make([]*Tree, numTrees)
	for i := 0; i < numTrees; i++ {
		if r.trees[i], err = DecodeTree(rd, numLandmarks, numCoords); err != nil {
			return nil, errors.Wrapf(err, "decoding tree %d of %d", i, numTrees)
		}
	}
	return r, nil
}

// Encode writes the whole cascade.
func (t *Tracker) Encode(w io.Writer) error {
	if _, err := w.Write(modelMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, modelVersion); err != nil {
		return err
	}
	if err := writeCount(w, len(t.meanShape)); err != nil {
		return err
	}
	if err := writeShape(w, t.meanShape); err != nil {
		return err
	}
	if err := writeCount(w, len(t.stages)); err != nil {
		return err
	}
	for _, s := range t.stages {
		if err := s.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTracker reads a cascade written by Encode, validating the header and
// that every stage agrees on the landmark count.
func DecodeTracker(rd io.Reader) (*Tracker, error) {
	var magic [4]byte
	if _, err := io.ReadFull(rd, magic[:]); err != nil {
		return nil, errors.Wrap(err, "reading model header")
	}
	if magic != modelMagic {
		return nil, fmt.Errorf("regression: not a cascade model file")
	}
	var version uint32
	if err := binary.Read(rd, binary.LittleEndian, &version); err != nil {
		return nil, errors.Wrap(err, "reading model version")
	}
	if version != modelVersion {
		return nil, fmt.Errorf("regression: unsupported model version %d", version)
	}

	numLandmarks, err := readCount(rd, "landmark")
	if err != nil {
		return nil, err
	}
	t := &Tracker{}
	if t.meanShape, err = readShape(rd, numLandmarks, "mean shape"); err != nil {
		return nil, err
	}

	numStages, err := readCount(rd, "cascade stage")
	if err != nil {
		return nil, err
	}
	t.stages = make([]*Regressor, numStages)
	for i := 0; i < numStages; i++ {
		if t.stages[i], err = DecodeRegressor(rd); err != nil {
			return nil, errors.Wrapf(err, "decoding cascade stage %d of %d", i, numStages)
		}
		if len(t.stages[i].meanShape) != numLandmarks {
			return nil, fmt.Errorf("regression: stage %d has %d landmarks, model declares %d",
				i, len(t.stages[i].meanShape), numLandmarks)
		}
	}
	return t, nil
}

// Save writes the cascade to a file.
func (t *Tracker) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating model file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := t.Encode(w); err != nil {
		return errors.Wrap(err, "writing model")
	}
	return w.Flush()
}

// LoadTracker reads a cascade from a file written by Save.
func LoadTracker(path string) (*Tracker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening model file")
	}
	defer f.Close()

	t, err := DecodeTracker(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "loading model %s", path)
	}
	return t, nil
}
