// Package render shapes embeddings and per-cell attributes into plot
// specifications for an interactive display layer.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/atlasmap-sc/embedplot/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	// Palette colors categories; empty means tab20.
	Palette colormap.Palette
	// Gradient colors continuous values; empty means viridis.
	Gradient colormap.Gradient
	// HistogramPalette colors histogram series; empty means set123.
	HistogramPalette colormap.Palette
	// NaNColor colors continuous values that are NaN.
	NaNColor string
	// IDKey labels the identifier line of hover text.
	IDKey string
}

// Options adds optional layers to a scatter plot.
type Options struct {
	Title string
	// Hover attributes are appended to every point's hover text.
	Hover []Attribute
	// Range replaces the observed range of a continuous attribute.
	Range *ValueRange
	// Hulls adds one convex outline per category.
	Hulls bool
	// HullNeighbors, when > 0, drops points from the outlines whose
	// HullNeighbors nearest neighbors vote for another category.
	HullNeighbors int
}

// Renderer turns embeddings into PlotSpecs. It holds only configuration and
// is safe for concurrent use.
type Renderer struct {
	config Config
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.Palette.Empty() {
		cfg.Palette, _ = colormap.PaletteByName("tab20")
	}
	if cfg.Gradient.Empty() {
		cfg.Gradient, _ = colormap.GradientByName("viridis")
	}
	if cfg.HistogramPalette.Empty() {
		cfg.HistogramPalette, _ = colormap.PaletteByName("set123")
	}
	if cfg.NaNColor == "" {
		cfg.NaNColor = "#d3d3d3"
	}
	if cfg.IDKey == "" {
		cfg.IDKey = "id"
	}
	return &Renderer{config: cfg}
}

// Config returns the renderer configuration.
func (r *Renderer) Config() Config { return r.config }

// Legend returns the legend of a categorical attribute over all points.
func (r *Renderer) Legend(points PointSet, attr Attribute) ([]LegendEntry, error) {
	if err := validate(points, attr, SamplingPolicy{MaxPoints: 1}, Options{}); err != nil {
		return nil, err
	}
	if attr.Kind() != Categorical {
		return nil, fmt.Errorf("attribute %q is not categorical", attr.Name())
	}
	idx := sampleIndices(points.Len(), points.Len(), 0)
	return legend(points, attr, idx, r.categoryColors(attr)), nil
}

func (r *Renderer) categoryColors(attr Attribute) []string {
	colors := make([]string, len(attr.categories))
	for c := range colors {
		colors[c] = r.config.Palette.Hex(c)
	}
	return colors
}

// Render renders attr over points, subsampling to policy.MaxPoints.
func (r *Renderer) Render(points PointSet, attr Attribute, policy SamplingPolicy) (*PlotSpec, error) {
	return r.RenderWith(points, attr, policy, Options{})
}

// RenderWith is Render with optional layers.
func (r *Renderer) RenderWith(points PointSet, attr Attribute, policy SamplingPolicy, opts Options) (*PlotSpec, error) {
	if err := validate(points, attr, policy, opts); err != nil {
		return nil, err
	}
	idx := sampleIndices(points.Len(), policy.MaxPoints, policy.Seed)
	return r.build(points, attr, idx, opts)
}

// RenderLinked renders the same attribute over several embeddings of the
// same observations. All plots share one sampled index set, so a point at
// position i refers to the same observation in every plot.
func (r *Renderer) RenderLinked(bases []PointSet, attr Attribute, policy SamplingPolicy, opts Options) ([]*PlotSpec, error) {
	if len(bases) == 0 {
		return nil, fmt.Errorf("%w: no embeddings", ErrEmptyInput)
	}
	for i, b := range bases {
		if err := validate(b, attr, policy, opts); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}

	idx := sampleIndices(bases[0].Len(), policy.MaxPoints, policy.Seed)
	out := make([]*PlotSpec, len(bases))
	for i, b := range bases {
		spec, err := r.build(b, attr, idx, opts)
		if err != nil {
			return nil, err
		}
		out[i] = spec
	}
	return out, nil
}

func validate(points PointSet, attr Attribute, policy SamplingPolicy, opts Options) error {
	if points.Len() == 0 {
		return ErrEmptyInput
	}
	if attr.Len() != points.Len() {
		return fmt.Errorf("%w: attribute %q has %d values for %d points", ErrDimensionMismatch, attr.Name(), attr.Len(), points.Len())
	}
	if policy.MaxPoints < 1 {
		return fmt.Errorf("%w: max points must be >= 1, got %d", ErrInvalidPolicy, policy.MaxPoints)
	}
	for _, h := range opts.Hover {
		if h.Len() != points.Len() {
			return fmt.Errorf("%w: hover attribute %q has %d values for %d points", ErrDimensionMismatch, h.Name(), h.Len(), points.Len())
		}
	}
	return nil
}

func (r *Renderer) build(points PointSet, attr Attribute, idx []int, opts Options) (*PlotSpec, error) {
	spec := &PlotSpec{
		Title:     opts.Title,
		Dims:      points.Dims(),
		Attribute: attr.Name(),
		Kind:      attr.Kind().String(),
		Total:     points.Len(),
		Sampled:   len(idx) < points.Len(),
		Points:    make([]PointSpec, len(idx)),
	}

	var colorOf func(i int) string
	switch attr.Kind() {
	case Continuous:
		lo, hi := valueRange(attr.values, opts.Range)
		span := hi - lo
		if span == 0 {
			span = 1
		}
		colorOf = func(i int) string {
			v := attr.values[i]
			if math.IsNaN(v) {
				return r.config.NaNColor
			}
			return r.config.Gradient.Hex((v - lo) / span)
		}
		spec.ColorBar = &ColorBar{
			Gradient: r.config.Gradient.Name(),
			Min:      lo,
			Max:      hi,
			Stops:    r.config.Gradient.Stops(),
			NaNColor: r.config.NaNColor,
		}
	case Categorical:
		colors := r.categoryColors(attr)
		colorOf = func(i int) string { return colors[attr.codes[i]] }
		spec.Legend = legend(points, attr, idx, colors)
		if opts.Hulls {
			spec.Hulls = hulls(points, attr, colors, opts.HullNeighbors)
		}
	default:
		return nil, fmt.Errorf("attribute %q has no kind", attr.Name())
	}

	var hover strings.Builder
	for n, i := range idx {
		p := points.At(i)

		hover.Reset()
		fmt.Fprintf(&hover, "%s: %s\n%s: %s", r.config.IDKey, p.ID, attr.Name(), attr.Format(i))
		for _, h := range opts.Hover {
			fmt.Fprintf(&hover, "\n%s: %s", h.Name(), h.Format(i))
		}

		ps := PointSpec{
			Index: i,
			ID:    p.ID,
			Coord: append([]float64(nil), p.Coord...),
			Color: colorOf(i),
			Hover: hover.String(),
		}
		if attr.Kind() == Categorical {
			ps.Label = attr.labels[i]
		} else if v := attr.values[i]; !math.IsNaN(v) {
			ps.Value = &v
		}
		spec.Points[n] = ps
	}

	return spec, nil
}

// valueRange returns the color range: the override when given, otherwise
// the observed min/max ignoring NaN.
func valueRange(values []float64, override *ValueRange) (float64, float64) {
	if override != nil {
		lo, hi := override.Min, override.Max
		if hi < lo {
			lo, hi = hi, lo
		}
		return lo, hi
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// legend builds one entry per category. Totals and centroids cover all
// points so they do not move with the sample.
func legend(points PointSet, attr Attribute, idx []int, colors []string) []LegendEntry {
	nCats := len(attr.categories)
	counts := make([]int, nCats)
	totals := make([]int, nCats)
	sums := make([][]float64, nCats)
	for c := range sums {
		sums[c] = make([]float64, points.Dims())
	}

	for i := 0; i < points.Len(); i++ {
		c := attr.codes[i]
		totals[c]++
		for d, v := range points.At(i).Coord {
			sums[c][d] += v
		}
	}
	for _, i := range idx {
		counts[attr.codes[i]]++
	}

	out := make([]LegendEntry, nCats)
	for c, label := range attr.categories {
		var centroid []float64
		if totals[c] > 0 {
			centroid = make([]float64, points.Dims())
			for d := range centroid {
				centroid[d] = sums[c][d] / float64(totals[c])
			}
		}
		out[c] = LegendEntry{
			Label:    label,
			Color:    colors[c],
			Index:    c,
			Count:    counts[c],
			Total:    totals[c],
			Centroid: centroid,
		}
	}
	return out
}
