// Package service provides the plotting operations offered for a dataset.
package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/atlasmap-sc/embedplot/internal/cache"
	"github.com/atlasmap-sc/embedplot/internal/data/table"
	"github.com/atlasmap-sc/embedplot/internal/render"
	"github.com/atlasmap-sc/embedplot/pkg/colormap"
)

// DistanceGradient colors distance plots unless a gradient is requested.
const DistanceGradient = "rdylbu"

// Format is the encoding handed to the display layer.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatMsgpack:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %q", s)
	}
}

// PlotServiceConfig contains plot service configuration.
type PlotServiceConfig struct {
	DatasetID string
	Reader    *table.Reader
	Cache     *cache.Manager
	Renderer  *render.Renderer
	Format    Format
	// MaxPoints is used when a request does not set one.
	MaxPoints int
}

// PlotService renders plots for one dataset and memoises the encoded
// results.
type PlotService struct {
	datasetID string
	reader    *table.Reader
	cache     *cache.Manager
	renderer  *render.Renderer
	format    Format
	maxPoints int
}

// NewPlotService creates a new plot service.
func NewPlotService(cfg PlotServiceConfig) *PlotService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	maxPoints := cfg.MaxPoints
	if maxPoints <= 0 {
		maxPoints = 5000
	}

	return &PlotService{
		datasetID: datasetID,
		reader:    cfg.Reader,
		cache:     cfg.Cache,
		renderer:  cfg.Renderer,
		format:    format,
		maxPoints: maxPoints,
	}
}

// ScatterRequest selects an embedding scatter plot.
type ScatterRequest struct {
	Basis      string
	Components []int
	Color      string
	Hover      []string
	MaxPoints  int
	Seed       uint64
	Hulls      bool
	// HullNeighbors enables the nearest-neighbor outlier filter on hulls.
	HullNeighbors int
	Range         *render.ValueRange
	// Gradient overrides the configured gradient by name.
	Gradient string
}

// LinkedRequest selects the same coloring over several embeddings. With
// Distance set, cells are colored by their distance from a root cell and
// Color, if given, is only shown on hover.
type LinkedRequest struct {
	Bases      []string
	Components []int
	Color      string
	Hover      []string
	MaxPoints  int
	Seed       uint64
	Gradient   string
	Distance   *DistanceRequest
}

// DistanceRequest measures distances over every component of Basis.
type DistanceRequest struct {
	Basis string
	// Root defaults to the dataset's stored root cell.
	Root   *int
	P      float64
	Cutoff *float64
	// Only names a categorical column; cells outside the root's category
	// are masked.
	Only string
}

// ThresholdRequest splits a continuous column into named value ranges and
// colors the bases by them.
type ThresholdRequest struct {
	Key        string
	Thresholds []render.Threshold
	Bases      []string
	Components []int
	Bins       int
	MinBins    int
	MaxBins    int
	MaxPoints  int
	Seed       uint64
}

// HistogramRequest selects a grouped histogram of a continuous column.
type HistogramRequest struct {
	Key        string
	GroupBy    []string
	Bins       int
	MinBins    int
	MaxBins    int
	DisplayAll bool
}

// Scatter returns an encoded render.PlotSpec.
func (s *PlotService) Scatter(req ScatterRequest) ([]byte, error) {
	req.Components = defaultComponents(req.Components)
	maxPoints := s.maxPointsFor(req.MaxPoints)

	extra := fmt.Sprintf("g=%s:h=%t/%d:r=%s", req.Gradient, req.Hulls, req.HullNeighbors, rangeKey(req.Range))
	cacheKey := s.keyPrefix() + cache.SpecKey("scatter", []string{req.Basis}, req.Components, req.Color, req.Hover, maxPoints, req.Seed, extra)
	if data, ok := s.cache.GetSpec(cacheKey); ok {
		return data, nil
	}

	points, err := s.reader.Embedding(req.Basis, req.Components)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding: %w", err)
	}
	attr, hover, err := s.attributes(req.Color, req.Hover)
	if err != nil {
		return nil, err
	}
	renderer, err := s.rendererFor(attr, req.Gradient)
	if err != nil {
		return nil, err
	}

	spec, err := renderer.RenderWith(points, attr, render.SamplingPolicy{MaxPoints: maxPoints, Seed: req.Seed}, render.Options{
		Title:         req.Basis,
		Hover:         hover,
		Range:         req.Range,
		Hulls:         req.Hulls,
		HullNeighbors: req.HullNeighbors,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render %s/%s: %w", req.Basis, req.Color, err)
	}

	return s.store(cacheKey, spec)
}

// Linked returns one encoded render.PlotSpec per basis, as a list, sharing
// the sampled cells.
func (s *PlotService) Linked(req LinkedRequest) ([]byte, error) {
	if len(req.Bases) == 0 {
		return nil, fmt.Errorf("no bases requested: %w", render.ErrEmptyInput)
	}
	req.Components = defaultComponents(req.Components)
	maxPoints := s.maxPointsFor(req.MaxPoints)

	extra := "g=" + req.Gradient
	if d := req.Distance; d != nil {
		extra += fmt.Sprintf(":d=%s:%s:%g:%s:%s", d.Basis, intKey(d.Root), d.P, floatKey(d.Cutoff), d.Only)
	}
	cacheKey := s.keyPrefix() + cache.SpecKey("linked", req.Bases, req.Components, req.Color, req.Hover, maxPoints, req.Seed, extra)
	if data, ok := s.cache.GetSpec(cacheKey); ok {
		return data, nil
	}

	bases, err := s.embeddings(req.Bases, req.Components)
	if err != nil {
		return nil, err
	}
	policy := render.SamplingPolicy{MaxPoints: maxPoints, Seed: req.Seed}

	var specs []*render.PlotSpec
	if req.Distance != nil {
		specs, err = s.renderDistances(bases, req, policy)
		if err != nil {
			return nil, err
		}
	} else {
		attr, hover, err := s.attributes(req.Color, req.Hover)
		if err != nil {
			return nil, err
		}
		renderer, err := s.rendererFor(attr, req.Gradient)
		if err != nil {
			return nil, err
		}
		specs, err = renderer.RenderLinked(bases, attr, policy, render.Options{Hover: hover})
		if err != nil {
			return nil, fmt.Errorf("failed to render linked %v: %w", req.Bases, err)
		}
	}
	for i, spec := range specs {
		spec.Title = req.Bases[i]
	}

	return s.store(cacheKey, specs)
}

func (s *PlotService) renderDistances(bases []render.PointSet, req LinkedRequest, policy render.SamplingPolicy) ([]*render.PlotSpec, error) {
	d := req.Distance
	if d.Basis == "" {
		return nil, fmt.Errorf("distance basis is required")
	}
	features, err := s.reader.Representation(d.Basis)
	if err != nil {
		return nil, err
	}

	opts := render.DistanceOptions{P: d.P, Cutoff: d.Cutoff}
	if d.Root != nil {
		opts.Root = *d.Root
	} else if opts.Root, err = s.reader.Root(); err != nil {
		return nil, err
	}
	if d.Only != "" {
		only, err := s.reader.Attribute(d.Only)
		if err != nil {
			return nil, err
		}
		opts.Only = &only
	}

	hoverKeys := req.Hover
	if req.Color != "" {
		hoverKeys = append([]string{req.Color}, req.Hover...)
	}
	hover := make([]render.Attribute, 0, len(hoverKeys))
	for _, key := range hoverKeys {
		h, err := s.reader.Attribute(key)
		if err != nil {
			return nil, err
		}
		hover = append(hover, h)
	}

	gradient := req.Gradient
	if gradient == "" {
		gradient = DistanceGradient
	}
	renderer, err := s.rendererFor(render.Attribute{}, gradient)
	if err != nil {
		return nil, err
	}
	specs, err := renderer.RenderDistances(bases, features, policy, opts, render.Options{Hover: hover})
	if err != nil {
		return nil, fmt.Errorf("failed to render distances from cell %d: %w", opts.Root, err)
	}
	return specs, nil
}

// Thresholds returns an encoded render.ThresholdPlot.
func (s *PlotService) Thresholds(req ThresholdRequest) ([]byte, error) {
	req.Components = defaultComponents(req.Components)
	maxPoints := s.maxPointsFor(req.MaxPoints)
	if req.MinBins == 0 {
		req.MinBins = 1
	}
	if req.MaxBins == 0 {
		req.MaxBins = 1000
	}

	extra := fmt.Sprintf("b=%d:%d-%d", req.Bins, req.MinBins, req.MaxBins)
	for _, t := range req.Thresholds {
		extra += fmt.Sprintf(":%s=%g..%g", t.Name, t.Min, t.Max)
	}
	cacheKey := s.keyPrefix() + cache.SpecKey("thresh", req.Bases, req.Components, req.Key, nil, maxPoints, req.Seed, extra)
	if data, ok := s.cache.GetSpec(cacheKey); ok {
		return data, nil
	}

	attr, err := s.reader.Attribute(req.Key)
	if err != nil {
		return nil, err
	}
	if attr.Kind() != render.Continuous {
		return nil, fmt.Errorf("column %q is not continuous", req.Key)
	}
	bases, err := s.embeddings(req.Bases, req.Components)
	if err != nil {
		return nil, err
	}

	plot, err := s.renderer.RenderThresholds(req.Key, attr.Values(), bases, req.Thresholds,
		render.HistogramPolicy{Bins: req.Bins, MinBins: req.MinBins, MaxBins: req.MaxBins},
		render.SamplingPolicy{MaxPoints: maxPoints, Seed: req.Seed})
	if err != nil {
		return nil, fmt.Errorf("failed to threshold %s: %w", req.Key, err)
	}
	for i, spec := range plot.Embeddings {
		spec.Title = req.Bases[i]
	}

	return s.store(cacheKey, plot)
}

// Histogram returns an encoded render.HistogramSpec.
func (s *PlotService) Histogram(req HistogramRequest) ([]byte, error) {
	cacheKey := s.keyPrefix() + cache.HistogramKey(req.Key, req.GroupBy, req.Bins, req.MinBins, req.MaxBins, req.DisplayAll)
	if data, ok := s.cache.GetQuery(cacheKey); ok {
		return data, nil
	}

	attr, err := s.reader.Attribute(req.Key)
	if err != nil {
		return nil, err
	}
	if attr.Kind() != render.Continuous {
		return nil, fmt.Errorf("column %q is not continuous", req.Key)
	}

	groups := make([]render.Attribute, len(req.GroupBy))
	for i, key := range req.GroupBy {
		g, err := s.reader.Attribute(key)
		if err != nil {
			return nil, err
		}
		groups[i] = g
	}

	spec, err := s.renderer.Histogram(req.Key, attr.Values(), groups, render.HistogramPolicy{
		Bins:       req.Bins,
		MinBins:    req.MinBins,
		MaxBins:    req.MaxBins,
		DisplayAll: req.DisplayAll,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bin %s: %w", req.Key, err)
	}

	data, err := s.encode(spec)
	if err != nil {
		return nil, err
	}
	s.cache.SetQuery(cacheKey, data)
	return data, nil
}

// Legend returns the legend of a categorical column over basis. A nil
// filter keeps every entry; an empty filter keeps none.
func (s *PlotService) Legend(basis, column string, categoryFilter []string) ([]render.LegendEntry, error) {
	cacheKey := s.keyPrefix() + basis + ":" + cache.LegendKey(column, categoryFilter)
	if data, ok := s.cache.GetQuery(cacheKey); ok {
		var cached []render.LegendEntry
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	points, err := s.reader.Embedding(basis, defaultComponents(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding: %w", err)
	}
	attr, err := s.reader.Attribute(column)
	if err != nil {
		return nil, err
	}
	renderer, err := s.rendererFor(attr, "")
	if err != nil {
		return nil, err
	}

	entries, err := renderer.Legend(points, attr)
	if err != nil {
		return nil, err
	}

	if categoryFilter != nil {
		allowed := make(map[string]bool, len(categoryFilter))
		for _, v := range categoryFilter {
			allowed[v] = true
		}
		kept := make([]render.LegendEntry, 0, len(entries))
		for _, e := range entries {
			if allowed[e.Label] {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	if data, err := json.Marshal(entries); err == nil {
		s.cache.SetQuery(cacheKey, data)
	}
	return entries, nil
}

// DatasetID returns the dataset this service renders.
func (s *PlotService) DatasetID() string { return s.datasetID }

// Format returns the output encoding.
func (s *PlotService) Format() Format { return s.format }

func (s *PlotService) keyPrefix() string {
	return s.datasetID + ":" + string(s.format) + ":"
}

func (s *PlotService) maxPointsFor(n int) int {
	if n == 0 {
		return s.maxPoints
	}
	return n
}

func (s *PlotService) embeddings(names []string, components []int) ([]render.PointSet, error) {
	bases := make([]render.PointSet, len(names))
	for i, basis := range names {
		points, err := s.reader.Embedding(basis, components)
		if err != nil {
			return nil, fmt.Errorf("failed to load embedding: %w", err)
		}
		bases[i] = points
	}
	return bases, nil
}

func (s *PlotService) attributes(color string, hoverKeys []string) (render.Attribute, []render.Attribute, error) {
	attr, err := s.reader.Attribute(color)
	if err != nil {
		return render.Attribute{}, nil, err
	}
	hover := make([]render.Attribute, 0, len(hoverKeys))
	for _, key := range hoverKeys {
		if key == color {
			continue
		}
		h, err := s.reader.Attribute(key)
		if err != nil {
			return render.Attribute{}, nil, err
		}
		hover = append(hover, h)
	}
	return attr, hover, nil
}

// rendererFor swaps in the dataset's stored palette when it covers every
// category, and the named gradient when one is requested.
func (s *PlotService) rendererFor(attr render.Attribute, gradient string) (*render.Renderer, error) {
	cfg := s.renderer.Config()
	changed := false

	if gradient != "" && gradient != cfg.Gradient.Name() {
		g, ok := colormap.GradientByName(gradient)
		if !ok {
			return nil, fmt.Errorf("unknown gradient: %s", gradient)
		}
		cfg.Gradient = g
		changed = true
	}

	if attr.Kind() == render.Categorical {
		if colors, ok := s.reader.Colors(attr.Name()); ok && len(colors) >= len(attr.Categories()) {
			p, err := colormap.NewPalette(attr.Name()+"_colors", colors)
			if err != nil {
				return nil, err
			}
			cfg.Palette = p
			changed = true
		}
	}

	if !changed {
		return s.renderer, nil
	}
	return render.NewRenderer(cfg), nil
}

func (s *PlotService) store(cacheKey string, v interface{}) ([]byte, error) {
	data, err := s.encode(v)
	if err != nil {
		return nil, err
	}
	// Specs larger than a cache entry are still returned.
	_ = s.cache.SetSpec(cacheKey, data)
	return data, nil
}

func (s *PlotService) encode(v interface{}) ([]byte, error) {
	switch s.format {
	case FormatMsgpack:
		data, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode msgpack: %w", err)
		}
		return data, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		return data, nil
	}
}

func defaultComponents(c []int) []int {
	if len(c) == 0 {
		return []int{1, 2}
	}
	return c
}

func intKey(v *int) string {
	if v == nil {
		return "auto"
	}
	return fmt.Sprint(*v)
}

func floatKey(v *float64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%g", *v)
}

func rangeKey(r *render.ValueRange) string {
	if r == nil {
		return "auto"
	}
	return fmt.Sprintf("%g..%g", r.Min, r.Max)
}
