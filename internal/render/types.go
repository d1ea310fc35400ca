package render

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	// ErrEmptyInput is returned when there is nothing to plot.
	ErrEmptyInput = errors.New("empty input")
	// ErrDimensionMismatch is returned when per-point arrays disagree in length
	// or coordinates disagree in dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidPolicy is returned for an unusable sampling policy.
	ErrInvalidPolicy = errors.New("invalid sampling policy")
	// ErrInvalidBins is returned for an unusable histogram bin policy.
	ErrInvalidBins = errors.New("invalid bin policy")
)

// Point is a single embedded observation.
type Point struct {
	ID    string
	Coord []float64
}

// PointSet is an ordered set of points sharing one dimensionality (2 or 3).
type PointSet struct {
	dims   int
	points []Point
}

// NewPointSet builds a point set from parallel id and coordinate slices.
// A nil ids slice numbers the points "0", "1", ...
func NewPointSet(ids []string, coords [][]float64) (PointSet, error) {
	if ids != nil && len(ids) != len(coords) {
		return PointSet{}, fmt.Errorf("%w: %d ids for %d coordinates", ErrDimensionMismatch, len(ids), len(coords))
	}
	if len(coords) == 0 {
		return PointSet{}, nil
	}

	dims := len(coords[0])
	if dims != 2 && dims != 3 {
		return PointSet{}, fmt.Errorf("%w: coordinates must be 2D or 3D, got %dD", ErrDimensionMismatch, dims)
	}

	points := make([]Point, len(coords))
	for i, c := range coords {
		if len(c) != dims {
			return PointSet{}, fmt.Errorf("%w: point %d has %d coordinates, expected %d", ErrDimensionMismatch, i, len(c), dims)
		}
		id := strconv.Itoa(i)
		if ids != nil {
			id = ids[i]
		}
		points[i] = Point{ID: id, Coord: append([]float64(nil), c...)}
	}
	return PointSet{dims: dims, points: points}, nil
}

// Len returns the number of points.
func (s PointSet) Len() int { return len(s.points) }

// Dims returns the coordinate dimensionality, or 0 for an empty set.
func (s PointSet) Dims() int { return s.dims }

// At returns the i-th point.
func (s PointSet) At(i int) Point { return s.points[i] }

// AttributeKind tags the variant held by an Attribute.
type AttributeKind int

const (
	Continuous AttributeKind = iota + 1
	Categorical
)

func (k AttributeKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// Attribute is a named per-point value, either continuous or categorical.
type Attribute struct {
	name string
	kind AttributeKind

	values []float64

	labels     []string
	categories []string
	codes      []int
}

// ContinuousAttribute wraps numeric per-point values.
func ContinuousAttribute(name string, values []float64) Attribute {
	return Attribute{name: name, kind: Continuous, values: values}
}

// CategoricalAttribute wraps per-point labels. Categories are the sorted
// distinct labels.
func CategoricalAttribute(name string, labels []string) Attribute {
	seen := make(map[string]struct{}, 16)
	cats := make([]string, 0, 16)
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			cats = append(cats, l)
		}
	}
	sort.Strings(cats)
	a, _ := CategoricalAttributeOrdered(name, labels, cats)
	return a
}

// CategoricalAttributeOrdered wraps per-point labels with an explicit
// category order. Every label must be one of categories.
func CategoricalAttributeOrdered(name string, labels, categories []string) (Attribute, error) {
	index := make(map[string]int, len(categories))
	for i, c := range categories {
		if _, dup := index[c]; dup {
			return Attribute{}, fmt.Errorf("attribute %q: duplicate category %q", name, c)
		}
		index[c] = i
	}
	codes := make([]int, len(labels))
	for i, l := range labels {
		code, ok := index[l]
		if !ok {
			return Attribute{}, fmt.Errorf("attribute %q: label %q at %d is not a category", name, l, i)
		}
		codes[i] = code
	}
	return Attribute{
		name:       name,
		kind:       Categorical,
		labels:     labels,
		categories: categories,
		codes:      codes,
	}, nil
}

// Name returns the attribute name.
func (a Attribute) Name() string { return a.name }

// Kind returns which variant a holds.
func (a Attribute) Kind() AttributeKind { return a.kind }

// Len returns the number of per-point values.
func (a Attribute) Len() int {
	if a.kind == Categorical {
		return len(a.labels)
	}
	return len(a.values)
}

// Categories returns the category order of a categorical attribute.
func (a Attribute) Categories() []string { return a.categories }

// Values returns the values of a continuous attribute.
func (a Attribute) Values() []float64 { return a.values }

// Labels returns the labels of a categorical attribute.
func (a Attribute) Labels() []string { return a.labels }

// Format renders the i-th value for hover text.
func (a Attribute) Format(i int) string {
	if a.kind == Categorical {
		return a.labels[i]
	}
	v := a.values[i]
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// SamplingPolicy bounds the number of rendered points.
type SamplingPolicy struct {
	MaxPoints int
	Seed      uint64
}

// ValueRange overrides the observed range of a continuous attribute.
type ValueRange struct {
	Min float64
	Max float64
}

// PlotSpec is the output of a render call. It is built fresh per call and
// must not be modified by consumers.
type PlotSpec struct {
	Title     string        `json:"title,omitempty" msgpack:"title,omitempty"`
	Dims      int           `json:"dims" msgpack:"dims"`
	Attribute string        `json:"attribute" msgpack:"attribute"`
	Kind      string        `json:"kind" msgpack:"kind"`
	Total     int           `json:"total" msgpack:"total"`
	Sampled   bool          `json:"sampled" msgpack:"sampled"`
	Points    []PointSpec   `json:"points" msgpack:"points"`
	Legend    []LegendEntry `json:"legend,omitempty" msgpack:"legend,omitempty"`
	ColorBar  *ColorBar     `json:"color_bar,omitempty" msgpack:"color_bar,omitempty"`
	Hulls     []Hull        `json:"hulls,omitempty" msgpack:"hulls,omitempty"`
}

// Indices returns the input indices of the rendered points, ascending.
func (p *PlotSpec) Indices() []int {
	out := make([]int, len(p.Points))
	for i, pt := range p.Points {
		out[i] = pt.Index
	}
	return out
}

// PointSpec is one rendered point. Label is set for categorical plots and
// is the key legend toggling matches on.
type PointSpec struct {
	Index int       `json:"index" msgpack:"index"`
	ID    string    `json:"id" msgpack:"id"`
	Coord []float64 `json:"coord" msgpack:"coord"`
	Color string    `json:"color" msgpack:"color"`
	Label string    `json:"label,omitempty" msgpack:"label,omitempty"`
	Value *float64  `json:"value,omitempty" msgpack:"value,omitempty"`
	Hover string    `json:"hover" msgpack:"hover"`
}

// LegendEntry describes one category. Hiding an entry hides exactly the
// points whose Label equals Label.
type LegendEntry struct {
	Label    string    `json:"label" msgpack:"label"`
	Color    string    `json:"color" msgpack:"color"`
	Index    int       `json:"index" msgpack:"index"`
	Count    int       `json:"count" msgpack:"count"`
	Total    int       `json:"total" msgpack:"total"`
	Centroid []float64 `json:"centroid,omitempty" msgpack:"centroid,omitempty"`
}

// ColorBar describes the continuous color scale.
type ColorBar struct {
	Gradient string   `json:"gradient" msgpack:"gradient"`
	Min      float64  `json:"min" msgpack:"min"`
	Max      float64  `json:"max" msgpack:"max"`
	Stops    []string `json:"stops" msgpack:"stops"`
	NaNColor string   `json:"nan_color" msgpack:"nan_color"`
}

// Hull is the convex outline of one category in the first two coordinates.
type Hull struct {
	Label string    `json:"label" msgpack:"label"`
	Color string    `json:"color" msgpack:"color"`
	X     []float64 `json:"x" msgpack:"x"`
	Y     []float64 `json:"y" msgpack:"y"`
}
