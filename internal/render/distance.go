package render

import (
	"fmt"
	"math"
)

// DistanceAttributeName names the attribute produced by Distances.
const DistanceAttributeName = "distance"

// DistanceOptions colors observations by their distance from a root
// observation in a feature space.
type DistanceOptions struct {
	Root int
	// P is the order of the Minkowski norm. Zero means 2; +Inf is the
	// maximum norm.
	P float64
	// Cutoff masks observations farther than it and caps the color range.
	Cutoff *float64
	// Only, when set, masks observations whose category differs from the
	// root's.
	Only *Attribute
}

// Distances returns the p-norm distance of every row of features from the
// root row as a continuous attribute, NaN where masked, together with the
// upper bound of its color range: the cutoff if given, otherwise the largest
// finite distance.
func Distances(features [][]float64, opts DistanceOptions) (Attribute, float64, error) {
	n := len(features)
	if n == 0 {
		return Attribute{}, 0, ErrEmptyInput
	}
	dims := len(features[0])
	for i, row := range features {
		if len(row) != dims {
			return Attribute{}, 0, fmt.Errorf("%w: feature row %d has %d values, expected %d", ErrDimensionMismatch, i, len(row), dims)
		}
	}
	if opts.Root < 0 || opts.Root >= n {
		return Attribute{}, 0, fmt.Errorf("%w: root %d outside [0, %d)", ErrInvalidPolicy, opts.Root, n)
	}
	p := opts.P
	if p == 0 {
		p = 2
	}
	if p < 1 || math.IsNaN(p) {
		return Attribute{}, 0, fmt.Errorf("%w: norm order must be >= 1, got %g", ErrInvalidPolicy, opts.P)
	}
	if opts.Cutoff != nil && !(*opts.Cutoff >= 0) {
		return Attribute{}, 0, fmt.Errorf("%w: cutoff must be >= 0, got %g", ErrInvalidPolicy, *opts.Cutoff)
	}
	if only := opts.Only; only != nil {
		if only.Kind() != Categorical {
			return Attribute{}, 0, fmt.Errorf("attribute %q must be categorical", only.Name())
		}
		if only.Len() != n {
			return Attribute{}, 0, fmt.Errorf("%w: attribute %q has %d values for %d observations", ErrDimensionMismatch, only.Name(), only.Len(), n)
		}
	}

	root := features[opts.Root]
	values := make([]float64, n)
	hi := 0.0
	for i, row := range features {
		d := minkowski(root, row, p)
		if !math.IsInf(d, 0) && d > hi {
			hi = d
		}
		values[i] = d
	}

	for i, d := range values {
		switch {
		case opts.Cutoff != nil && d > *opts.Cutoff:
			values[i] = math.NaN()
		case opts.Only != nil && opts.Only.codes[i] != opts.Only.codes[opts.Root]:
			values[i] = math.NaN()
		}
	}
	if opts.Cutoff != nil {
		hi = *opts.Cutoff
	}
	return ContinuousAttribute(DistanceAttributeName, values), hi, nil
}

// RenderDistances renders linked embeddings colored by Distances over
// features, with the color range [0, bound].
func (r *Renderer) RenderDistances(bases []PointSet, features [][]float64, policy SamplingPolicy, dist DistanceOptions, opts Options) ([]*PlotSpec, error) {
	attr, hi, err := Distances(features, dist)
	if err != nil {
		return nil, err
	}
	opts.Range = &ValueRange{Min: 0, Max: hi}
	return r.RenderLinked(bases, attr, policy, opts)
}

func minkowski(a, b []float64, p float64) float64 {
	if math.IsInf(p, 1) {
		m := 0.0
		for i := range a {
			m = math.Max(m, math.Abs(a[i]-b[i]))
		}
		return m
	}
	sum := 0.0
	for i := range a {
		sum += math.Pow(math.Abs(a[i]-b[i]), p)
	}
	return math.Pow(sum, 1/p)
}
