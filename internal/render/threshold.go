package render

import (
	"fmt"
	"math"

	"github.com/atlasmap-sc/embedplot/pkg/colormap"
)

// DefaultCategory labels values outside every threshold.
const DefaultCategory = "default"

// Threshold names the values whose histogram bin center lies in [Min, Max].
type Threshold struct {
	Name string  `json:"name" msgpack:"name"`
	Min  float64 `json:"min" msgpack:"min"`
	Max  float64 `json:"max" msgpack:"max"`
}

// ThresholdPlot is a histogram whose bins are assigned to named value
// ranges, and the resulting categories drawn over embeddings.
type ThresholdPlot struct {
	Key       string          `json:"key" msgpack:"key"`
	Histogram HistogramSeries `json:"histogram" msgpack:"histogram"`
	// BinCategories and BinColors have one entry per histogram bin.
	BinCategories []string `json:"bin_categories" msgpack:"bin_categories"`
	BinColors     []string `json:"bin_colors" msgpack:"bin_colors"`
	Categories    []string `json:"categories" msgpack:"categories"`
	Colors        []string `json:"colors" msgpack:"colors"`
	// Embeddings share one sampled index set.
	Embeddings []*PlotSpec `json:"embeddings,omitempty" msgpack:"embeddings,omitempty"`
}

// RenderThresholds bins values, assigns every bin to the first threshold
// containing its center (else DefaultCategory) and colors each observation
// by its bin's category over bases. Threshold categories take histogram
// palette colors in order; DefaultCategory takes the NaN color.
func (r *Renderer) RenderThresholds(key string, values []float64, bases []PointSet, thresholds []Threshold, hp HistogramPolicy, sp SamplingPolicy) (*ThresholdPlot, error) {
	if err := hp.validate(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrEmptyInput
	}

	categories := make([]string, 0, len(thresholds)+1)
	colors := make([]string, 0, len(thresholds)+1)
	seen := make(map[string]bool, len(thresholds))
	for i, t := range thresholds {
		switch {
		case t.Name == "" || t.Name == DefaultCategory:
			return nil, fmt.Errorf("%w: threshold %d has reserved name %q", ErrInvalidPolicy, i, t.Name)
		case seen[t.Name]:
			return nil, fmt.Errorf("%w: duplicate threshold %q", ErrInvalidPolicy, t.Name)
		case math.IsNaN(t.Min) || math.IsNaN(t.Max) || t.Min > t.Max:
			return nil, fmt.Errorf("%w: threshold %q has empty range [%g, %g]", ErrInvalidPolicy, t.Name, t.Min, t.Max)
		}
		seen[t.Name] = true
		categories = append(categories, t.Name)
		colors = append(colors, r.config.HistogramPalette.Hex(i))
	}
	categories = append(categories, DefaultCategory)
	colors = append(colors, r.config.NaNColor)

	series := binValues(values, hp)
	series.Name = key

	nbins := len(series.Counts)
	binCodes := make([]int, nbins)
	plot := &ThresholdPlot{
		Key:           key,
		Histogram:     series,
		BinCategories: make([]string, nbins),
		BinColors:     make([]string, nbins),
		Categories:    categories,
		Colors:        colors,
	}
	for b := 0; b < nbins; b++ {
		code := len(thresholds)
		center := (series.LeftEdges[b] + series.RightEdges[b]) / 2
		for i, t := range thresholds {
			if center >= t.Min && center <= t.Max {
				code = i
				break
			}
		}
		binCodes[b] = code
		plot.BinCategories[b] = categories[code]
		plot.BinColors[b] = colors[code]
	}

	if len(bases) == 0 {
		return plot, nil
	}

	labels := make([]string, len(values))
	for i, v := range values {
		code := len(thresholds)
		if b := binIndex(series, v); b >= 0 {
			code = binCodes[b]
		}
		labels[i] = categories[code]
	}
	attr, err := CategoricalAttributeOrdered(key+"_category", labels, categories)
	if err != nil {
		return nil, err
	}

	palette, err := colormap.NewPalette(key+"_thresholds", colors)
	if err != nil {
		return nil, err
	}
	cfg := r.config
	cfg.Palette = palette
	specs, err := NewRenderer(cfg).RenderLinked(bases, attr, sp, Options{})
	if err != nil {
		return nil, err
	}
	plot.Embeddings = specs
	return plot, nil
}

// binIndex returns the bin holding v, or -1 for NaN and values outside the
// histogram. The last bin is closed.
func binIndex(s HistogramSeries, v float64) int {
	n := len(s.Counts)
	if n == 0 || math.IsNaN(v) {
		return -1
	}
	lo, hi := s.LeftEdges[0], s.RightEdges[n-1]
	if v < lo || v > hi {
		return -1
	}
	b := int((v - lo) / (hi - lo) * float64(n))
	if b >= n {
		b = n - 1
	}
	return b
}
