package anomaly

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649015329

// ErrNotFitted is returned when scoring with a forest that has not been fitted
var ErrNotFitted = errors.New("isolation forest is not fitted")

// ForestConfig controls isolation forest training
type ForestConfig struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// DefaultForestConfig mirrors the usual isolation forest defaults
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// Forest is a one-dimensional isolation forest.
//
// AnomalyScore returns s = 2^(-E[h(x)]/c(n)) in (0, 1], higher meaning easier
// to isolate. After Fit the forest stores the (1-contamination) quantile t of
// the training scores, and Decision maps a point to (t - s) / (1 - t): zero on
// the boundary, negative for outliers, approaching -1 for points isolated at
// the root.
type Forest struct {
	cfg       ForestConfig
	trees     []*isoNode
	subsample int
	threshold float64
}

type isoNode struct {
	split       float64
	left, right *isoNode
	size        int
}

func (n *isoNode) leaf() bool { return n.left == nil && n.right == nil }

// NewForest creates an unfitted forest
func NewForest(cfg ForestConfig) *Forest {
	def := DefaultForestConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = def.Contamination
	}
	return &Forest{cfg: cfg}
}

// Fitted reports whether Fit has completed at least once
func (f *Forest) Fitted() bool { return len(f.trees) > 0 }

// Threshold returns the raw-score boundary computed at fit time
func (f *Forest) Threshold() float64 { return f.threshold }

// Fit rebuilds every tree from x. Each call is a full retrain seeded from
// the configured seed, so identical input yields an identical model.
func (f *Forest) Fit(x []float64) error {
	if len(x) < 2 {
		return errors.New("isolation forest needs at least two samples")
	}

	rng := rand.New(rand.NewSource(f.cfg.Seed))
	f.subsample = min(f.cfg.MaxSamples, len(x))
	limit := int(math.Ceil(math.Log2(float64(max(f.subsample, 2)))))

	trees := make([]*isoNode, f.cfg.Trees)
	sample := make([]float64, f.subsample)
	for i := range trees {
		if f.subsample == len(x) {
			copy(sample, x)
		} else {
			for j, idx := range rng.Perm(len(x))[:f.subsample] {
				sample[j] = x[idx]
			}
		}
		trees[i] = buildTree(rng, sample, 0, limit)
	}
	f.trees = trees

	scores := make([]float64, len(x))
	for i, v := range x {
		scores[i] = f.rawScore(v)
	}
	f.threshold = quantile(scores, 1-f.cfg.Contamination)
	return nil
}

// AnomalyScore returns the raw isolation score of v
func (f *Forest) AnomalyScore(v float64) (float64, error) {
	if !f.Fitted() {
		return 0, ErrNotFitted
	}
	return f.rawScore(v), nil
}

// Decision returns the signed decision score of v; values below zero are
// outliers.
func (f *Forest) Decision(v float64) (float64, error) {
	s, err := f.AnomalyScore(v)
	if err != nil {
		return 0, err
	}
	return (f.threshold - s) / math.Max(1-f.threshold, 1e-9), nil
}

func (f *Forest) rawScore(v float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, v, 0)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/averagePathLength(f.subsample))
}

// buildTree partitions values in place; callers pass a scratch slice.
func buildTree(rng *rand.Rand, values []float64, depth, limit int) *isoNode {
	if depth >= limit || len(values) <= 1 {
		return &isoNode{size: len(values)}
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &isoNode{size: len(values)}
	}

	split := lo + rng.Float64()*(hi-lo)
	mid := 0
	for i, v := range values {
		if v < split {
			values[i], values[mid] = values[mid], values[i]
			mid++
		}
	}

	return &isoNode{
		split: split,
		size:  len(values),
		left:  buildTree(rng, values[:mid], depth+1, limit),
		right: buildTree(rng, values[mid:], depth+1, limit),
	}
}

func pathLength(n *isoNode, v float64, depth int) float64 {
	for !n.leaf() {
		if v < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean unsuccessful-search path length of a
// binary search tree with n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	harmonic := math.Log(float64(n-1)) + eulerGamma
	return 2*harmonic - 2*float64(n-1)/float64(n)
}

// quantile uses linear interpolation between closest ranks.
func quantile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
