package regression

import (
	"math"
	"math/rand"

	"shapetrack/pkg/geometry"
)

// maxPairDraws caps the rejection-sampling loop for a single split candidate.
// A very large locality lambda would otherwise reject almost every pair.
const maxPairDraws = 100

// SplitTest is one internal node's binary test: the signed difference of two
// indexed intensity samples compared against a threshold.
type SplitTest struct {
	Feature1  int32
	Feature2  int32
	Threshold float64
}

// treeNode is one slot of the tree arena. Left/Right hold child indices;
// a negative Left marks a leaf, whose prediction is Residual.
type treeNode struct {
	Split    SplitTest
	Left     int32
	Right    int32
	Residual geometry.Shape
}

func (n *treeNode) isLeaf() bool { return n.Left < 0 }

// Tree is a fixed-depth binary regression tree over intensity vectors. Leaves
// store constant shape-residual predictions. The node arena references
// children by index, so the whole structure serializes as a flat record list.
// A Tree is immutable once fitted.
type Tree struct {
	nodes []treeNode
}

// NumNodes returns the size of the node arena.
func (t *Tree) NumNodes() int { return len(t.nodes) }

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	out := &Tree{nodes: make([]treeNode, len(t.nodes))}
	for i, n := range t.nodes {
		n.Residual = n.Residual.Clone()
		out.nodes[i] = n
	}
	return out
}

// Predict walks the tree on the given intensity vector and returns the
// reached leaf's stored residual. The result aliases internal state and must
// not be mutated by the caller.
func (t *Tree) Predict(intensities []float64) geometry.Shape {
	i := int32(0)
	for {
		n := &t.nodes[i]
		if n.isLeaf() {
			return n.Residual
		}
		if intensities[n.Split.Feature1]-intensities[n.Split.Feature2] > n.Split.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// fit grows the tree greedily on the given batch, splitting nodes to reduce
// the sum of squared residual deviations until the configured depth.
func (t *Tree) fit(tt *treeTraining) {
	t.nodes = t.nodes[:0]
	idx := make([]int, len(tt.samples))
	for i := range idx {
		idx[i] = i
	}
	t.grow(tt, idx, 1)
}

// grow appends the subtree for the given sample subset and returns its arena
// index. depth counts nodes on the path including this one.
func (t *Tree) grow(tt *treeTraining, samples []int, depth int) int32 {
	pos := int32(len(t.nodes))
	t.nodes = append(t.nodes, treeNode{Left: -1, Right: -1})

	if depth >= tt.params.MaxTreeDepth || len(samples) == 0 {
		t.nodes[pos].Residual = meanResidual(tt, samples)
		return pos
	}

	split, ok := bestSplit(tt, samples)
	if !ok {
		t.nodes[pos].Residual = meanResidual(tt, samples)
		return pos
	}

	var left, right []int
	for _, i := range samples {
		x := tt.samples[i].intensities
		if x[split.Feature1]-x[split.Feature2] > split.Threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	t.nodes[pos].Split = split
	// Children are appended after the parent, so recursion order fixes the
	// arena layout deterministically.
	l := t.grow(tt, left, depth+1)
	r := t.grow(tt, right, depth+1)
	t.nodes[pos].Left = l
	t.nodes[pos].Right = r
	return pos
}

// meanResidual returns the mean residual of the selected samples, or a zero
// residual for an empty selection.
func meanResidual(tt *treeTraining, samples []int) geometry.Shape {
	mean := geometry.NewShape(tt.numLandmarks)
	if len(samples) == 0 {
		return mean
	}
	for _, i := range samples {
		mean.Add(tt.samples[i].residual)
	}
	mean.Scale(1 / float64(len(samples)))
	return mean
}

// bestSplit draws the configured number of candidate tests and keeps the one
// maximizing the split quality. It reports false when no candidate could be
// drawn, leaving the node a leaf.
func bestSplit(tt *treeTraining, samples []int) (SplitTest, bool) {
	if tt.params.NumSplitTestsPerNode <= 0 || len(samples) == 0 {
		return SplitTest{}, false
	}

	total := geometry.NewShape(tt.numLandmarks)
	for _, i := range samples {
		total.Add(tt.samples[i].residual)
	}

	var best SplitTest
	bestGain := math.Inf(-1)
	found := false

	sumLeft := geometry.NewShape(tt.numLandmarks)
	for c := 0; c < tt.params.NumSplitTestsPerNode; c++ {
		cand, ok := drawSplit(tt, samples)
		if !ok {
			continue
		}

		for i := range sumLeft {
			sumLeft[i] = geometry.Point{}
		}
		nLeft := 0
		for _, i := range samples {
			x := tt.samples[i].intensities
			if x[cand.Feature1]-x[cand.Feature2] > cand.Threshold {
				sumLeft.Add(tt.samples[i].residual)
				nLeft++
			}
		}
		nRight := len(samples) - nLeft

		// Minimizing the within-node sum of squared deviations is
		// equivalent to maximizing |L|·||μL||² + |R|·||μR||², computed here
		// from the residual sums alone.
		var gain float64
		if nLeft > 0 {
			gain += sumLeft.SquaredNorm() / float64(nLeft)
		}
		if nRight > 0 {
			sumRight := total.Clone()
			sumRight.Sub(sumLeft)
			gain += sumRight.SquaredNorm() / float64(nRight)
		}

		if gain > bestGain {
			bestGain = gain
			best = cand
			found = true
		}
	}
	return best, found
}

// drawSplit produces one candidate test: a locality-biased feature pair and a
// threshold drawn uniformly over the pair's observed intensity-difference
// range in this node.
func drawSplit(tt *treeTraining, samples []int) (SplitTest, bool) {
	f1, f2, ok := drawFeaturePair(tt.pixelCoords, tt.params.ExponentialLambda, tt.rand)
	if !ok {
		return SplitTest{}, false
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range samples {
		x := tt.samples[i].intensities
		d := x[f1] - x[f2]
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}

	return SplitTest{
		Feature1:  int32(f1),
		Feature2:  int32(f2),
		Threshold: lo + tt.rand.Float64()*(hi-lo),
	}, true
}

// drawFeaturePair rejection-samples a pair of distinct coordinate indices,
// accepting a pair with probability exp(-lambda * distance) so that nearby
// coordinates are preferred. Lambda is the single locality tunable: zero
// accepts every pair uniformly.
func drawFeaturePair(coords []geometry.Point, lambda float64, rng *rand.Rand) (int, int, bool) {
	n := len(coords)
	if n < 2 {
		return 0, 0, false
	}
	f1, f2 := 0, 0
	for draw := 0; draw < maxPairDraws; draw++ {
		f1 = rng.Intn(n)
		f2 = rng.Intn(n)
		if f1 == f2 {
			continue
		}
		dist := coords[f1].Sub(coords[f2]).Norm()
		if math.Exp(-lambda*dist) > rng.Float64() {
			return f1, f2, true
		}
	}
	if f1 == f2 {
		return 0, 0, false
	}
	// Fall back to the last distinct pair drawn rather than spinning forever
	// under an extreme lambda.
	return f1, f2, true
}
