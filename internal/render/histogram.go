package render

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/aclements/go-moremath/stats"
)

// AllGroup names the series covering every value.
const AllGroup = "all"

// HistogramPolicy controls histogram binning. Bins == 0 picks the bin
// count automatically within [MinBins, MaxBins].
type HistogramPolicy struct {
	Bins       int
	MinBins    int
	MaxBins    int
	DisplayAll bool
}

func (p HistogramPolicy) validate() error {
	if p.MinBins < 1 {
		return fmt.Errorf("%w: expected min bins >= 1, got %d", ErrInvalidBins, p.MinBins)
	}
	if p.MaxBins < p.MinBins {
		return fmt.Errorf("%w: expected min bins <= max bins, got %d > %d", ErrInvalidBins, p.MinBins, p.MaxBins)
	}
	if p.Bins < 0 {
		return fmt.Errorf("%w: negative bin count %d", ErrInvalidBins, p.Bins)
	}
	return nil
}

// HistogramSpec holds one density histogram per group.
type HistogramSpec struct {
	Key     string            `json:"key" msgpack:"key"`
	MinBins int               `json:"min_bins" msgpack:"min_bins"`
	MaxBins int               `json:"max_bins" msgpack:"max_bins"`
	Series  []HistogramSeries `json:"series" msgpack:"series"`
}

// HistogramSeries is the histogram of one group. Density follows numpy:
// count / bin width / total, so the bars integrate to 1.
type HistogramSeries struct {
	Name       string    `json:"name" msgpack:"name"`
	Color      string    `json:"color" msgpack:"color"`
	N          int       `json:"n" msgpack:"n"`
	Counts     []int     `json:"counts" msgpack:"counts"`
	Density    []float64 `json:"density" msgpack:"density"`
	LeftEdges  []float64 `json:"l_edges" msgpack:"l_edges"`
	RightEdges []float64 `json:"r_edges" msgpack:"r_edges"`
	// Values are the raw group values, sorted, so the display layer can
	// rebin without another round trip.
	Values []float64 `json:"values" msgpack:"values"`
}

// Histogram bins values, split by every observed combination of the group
// attributes' categories.
func (r *Renderer) Histogram(key string, values []float64, groups []Attribute, policy HistogramPolicy) (*HistogramSpec, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrEmptyInput
	}
	for _, g := range groups {
		if g.Kind() != Categorical {
			return nil, fmt.Errorf("group attribute %q must be categorical", g.Name())
		}
		if g.Len() != len(values) {
			return nil, fmt.Errorf("%w: group attribute %q has %d values for %d values", ErrDimensionMismatch, g.Name(), g.Len(), len(values))
		}
	}

	type group struct {
		name   string
		values []float64
	}
	var parts []group
	if len(groups) == 0 {
		parts = []group{{name: AllGroup, values: values}}
	} else {
		for _, c := range observedCombinations(groups, values) {
			parts = append(parts, group{name: c.name(groups), values: c.values})
		}
		if policy.DisplayAll {
			parts = append(parts, group{name: AllGroup, values: values})
		}
	}

	spec := &HistogramSpec{
		Key:     key,
		MinBins: policy.MinBins,
		MaxBins: policy.MaxBins,
		Series:  make([]HistogramSeries, 0, len(parts)),
	}
	for j, p := range parts {
		s := binValues(p.values, policy)
		s.Name = p.name
		s.Color = r.config.HistogramPalette.Hex(j)
		spec.Series = append(spec.Series, s)
	}
	return spec, nil
}

func binValues(values []float64, policy HistogramPolicy) HistogramSeries {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)

	if len(sorted) == 0 {
		return HistogramSeries{Values: sorted}
	}

	sample := stats.Sample{Xs: sorted, Sorted: true}
	lo, hi := sample.Bounds()
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	nbins := policy.Bins
	if nbins == 0 {
		nbins = autoBins(sample, lo, hi)
	}
	if nbins < policy.MinBins {
		nbins = policy.MinBins
	}
	if nbins > policy.MaxBins {
		nbins = policy.MaxBins
	}

	hist := stats.NewLinearHist(lo, hi, nbins)
	for _, v := range sorted {
		hist.Add(v)
	}
	_, binCounts, over := hist.Counts()

	width := (hi - lo) / float64(nbins)
	total := float64(len(sorted))
	s := HistogramSeries{
		N:          len(sorted),
		Counts:     make([]int, nbins),
		Density:    make([]float64, nbins),
		LeftEdges:  make([]float64, nbins),
		RightEdges: make([]float64, nbins),
		Values:     sorted,
	}
	for i := 0; i < nbins; i++ {
		c := int(binCounts[i])
		// The maximum lands in the overflow bucket; the last bin is closed.
		if i == nbins-1 {
			c += int(over)
		}
		s.Counts[i] = c
		s.Density[i] = float64(c) / width / total
		s.LeftEdges[i] = lo + width*float64(i)
		s.RightEdges[i] = lo + width*float64(i+1)
	}
	return s
}

// autoBins mirrors numpy's "auto": the larger of the Sturges and
// Freedman-Diaconis estimates.
func autoBins(sample stats.Sample, lo, hi float64) int {
	n := float64(len(sample.Xs))
	sturges := int(math.Ceil(math.Log2(n))) + 1

	iqr := sample.Quantile(0.75) - sample.Quantile(0.25)
	fd := 0
	if iqr > 0 {
		width := 2 * iqr / math.Cbrt(n)
		fd = int(math.Ceil((hi - lo) / width))
	}
	if fd > sturges {
		return fd
	}
	return sturges
}

type combination struct {
	codes  []int
	values []float64
}

func (c *combination) name(groups []Attribute) string {
	parts := make([]string, len(groups))
	for g, attr := range groups {
		parts[g] = attr.name + ": " + attr.categories[c.codes[g]]
	}
	return strings.Join(parts, ", ")
}

// observedCombinations groups values by the category combination of each
// observation, in category order with the last group varying fastest.
// Combinations without observations never appear.
func observedCombinations(groups []Attribute, values []float64) []*combination {
	byKey := make(map[string]*combination)
	var out []*combination
	key := make([]byte, 0, 8*len(groups))
	for i, v := range values {
		key = key[:0]
		for _, attr := range groups {
			key = strconv.AppendInt(key, int64(attr.codes[i]), 10)
			key = append(key, ',')
		}
		c, ok := byKey[string(key)]
		if !ok {
			codes := make([]int, len(groups))
			for g, attr := range groups {
				codes[g] = attr.codes[i]
			}
			c = &combination{codes: codes}
			byKey[string(key)] = c
			out = append(out, c)
		}
		c.values = append(c.values, v)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].codes, out[j].codes
		for g := range a {
			if a[g] != b[g] {
				return a[g] < b[g]
			}
		}
		return false
	})
	return out
}
