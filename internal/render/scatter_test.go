package render

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/atlasmap-sc/embedplot/pkg/colormap"
)

func testRenderer(t *testing.T) *Renderer {
	t.Helper()

	palette, ok := colormap.PaletteByName("tab20")
	if !ok {
		t.Fatal("tab20 palette missing")
	}
	gradient, ok := colormap.GradientByName("viridis")
	if !ok {
		t.Fatal("viridis gradient missing")
	}
	return NewRenderer(Config{Palette: palette, Gradient: gradient})
}

func linePoints(t *testing.T, n int) PointSet {
	t.Helper()

	coords := make([][]float64, n)
	for i := range coords {
		coords[i] = []float64{float64(i), float64(i)}
	}
	ps, err := NewPointSet(nil, coords)
	if err != nil {
		t.Fatalf("NewPointSet: %v", err)
	}
	return ps
}

func TestRenderSmallCategorical(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	points := linePoints(t, 3)
	attr := CategoricalAttribute("group", []string{"a", "b", "a"})

	spec, err := r.Render(points, attr, SamplingPolicy{MaxPoints: 10})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if len(spec.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(spec.Points))
	}
	if spec.Sampled {
		t.Fatal("expected unsampled spec")
	}
	if len(spec.Legend) != 2 || spec.Legend[0].Label != "a" || spec.Legend[1].Label != "b" {
		t.Fatalf("unexpected legend: %+v", spec.Legend)
	}
	if spec.Points[0].Color != spec.Points[2].Color {
		t.Fatalf("expected same color for label a, got %s and %s", spec.Points[0].Color, spec.Points[2].Color)
	}
	if spec.Points[0].Color == spec.Points[1].Color {
		t.Fatal("expected different colors for a and b")
	}
	if spec.Points[0].Color != spec.Legend[0].Color {
		t.Fatal("point color should match legend color")
	}
	if spec.Legend[0].Count != 2 || spec.Legend[0].Total != 2 {
		t.Fatalf("unexpected legend counts: %+v", spec.Legend[0])
	}
	if want := []float64{1, 1}; !reflect.DeepEqual(spec.Legend[0].Centroid, want) {
		t.Fatalf("expected centroid %v, got %v", want, spec.Legend[0].Centroid)
	}
	if spec.ColorBar != nil {
		t.Fatal("categorical plots should not carry a color bar")
	}
	if got, want := spec.Points[1].Hover, "id: 1\ngroup: b"; got != want {
		t.Fatalf("unexpected hover %q, want %q", got, want)
	}
	for i, p := range spec.Points {
		if p.Index != i {
			t.Fatalf("point %d has index %d", i, p.Index)
		}
	}
}

func TestRenderNoLossBelowThreshold(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	points := linePoints(t, 100)
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}

	spec, err := r.Render(points, ContinuousAttribute("n_genes", values), SamplingPolicy{MaxPoints: 100})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(spec.Points) != 100 {
		t.Fatalf("expected 100 points, got %d", len(spec.Points))
	}
}

func TestRenderSubsampleDeterministic(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	points := linePoints(t, 1000)
	labels := make([]string, 1000)
	for i := range labels {
		labels[i] = fmt.Sprintf("c%d", i%7)
	}
	attr := CategoricalAttribute("louvain", labels)
	policy := SamplingPolicy{MaxPoints: 50, Seed: 42}

	first, err := r.Render(points, attr, policy)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := r.Render(points, attr, policy)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if len(first.Points) != 50 {
		t.Fatalf("expected 50 points, got %d", len(first.Points))
	}
	if !first.Sampled || first.Total != 1000 {
		t.Fatalf("expected sampled spec of 1000, got sampled=%v total=%d", first.Sampled, first.Total)
	}
	if !reflect.DeepEqual(first.Indices(), second.Indices()) {
		t.Fatal("same seed should select the same indices")
	}
	if !reflect.DeepEqual(first.Legend, second.Legend) {
		t.Fatal("legend should be identical across renders")
	}

	other, err := r.Render(points, attr, SamplingPolicy{MaxPoints: 50, Seed: 43})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if reflect.DeepEqual(first.Indices(), other.Indices()) {
		t.Fatal("different seeds should select different indices")
	}

	seen := make(map[int]bool)
	prev := -1
	for _, idx := range first.Indices() {
		if seen[idx] {
			t.Fatalf("index %d selected twice", idx)
		}
		seen[idx] = true
		if idx <= prev {
			t.Fatalf("indices not ascending: %d after %d", idx, prev)
		}
		prev = idx
	}

	total := 0
	for _, e := range first.Legend {
		total += e.Count
		if e.Total == 0 {
			t.Fatalf("legend entry %q lost its total", e.Label)
		}
	}
	if total != 50 {
		t.Fatalf("legend counts should sum to 50, got %d", total)
	}
}

func TestRenderSamplingKeepsColorMapping(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	points := linePoints(t, 200)
	values := make([]float64, 200)
	for i := range values {
		values[i] = float64(i)
	}
	attr := ContinuousAttribute("dpt", values)

	full, err := r.Render(points, attr, SamplingPolicy{MaxPoints: 200})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	sampled, err := r.Render(points, attr, SamplingPolicy{MaxPoints: 20, Seed: 7})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, p := range sampled.Points {
		if p.Color != full.Points[p.Index].Color {
			t.Fatalf("point %d changed color under sampling", p.Index)
		}
	}
	if sampled.ColorBar.Min != 0 || sampled.ColorBar.Max != 199 {
		t.Fatalf("color bar should span the full input, got %v..%v", sampled.ColorBar.Min, sampled.ColorBar.Max)
	}
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)

	t.Run("empty", func(t *testing.T) {
		_, err := r.Render(PointSet{}, ContinuousAttribute("x", nil), SamplingPolicy{MaxPoints: 1})
		if !errors.Is(err, ErrEmptyInput) {
			t.Fatalf("expected ErrEmptyInput, got %v", err)
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		values := make([]float64, 99)
		_, err := r.Render(linePoints(t, 100), ContinuousAttribute("x", values), SamplingPolicy{MaxPoints: 10})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Fatalf("expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("policy", func(t *testing.T) {
		values := make([]float64, 3)
		_, err := r.Render(linePoints(t, 3), ContinuousAttribute("x", values), SamplingPolicy{MaxPoints: 0})
		if !errors.Is(err, ErrInvalidPolicy) {
			t.Fatalf("expected ErrInvalidPolicy, got %v", err)
		}
	})

	t.Run("hoverMismatch", func(t *testing.T) {
		values := make([]float64, 3)
		_, err := r.RenderWith(linePoints(t, 3), ContinuousAttribute("x", values), SamplingPolicy{MaxPoints: 3}, Options{
			Hover: []Attribute{CategoricalAttribute("batch", []string{"a"})},
		})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Fatalf("expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func TestRenderContinuous(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	points := linePoints(t, 4)
	attr := ContinuousAttribute("n_counts", []float64{0, 5, math.NaN(), 10})

	spec, err := r.Render(points, attr, SamplingPolicy{MaxPoints: 10})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	viridis, _ := colormap.GradientByName("viridis")
	if spec.Points[0].Color != viridis.Hex(0) {
		t.Fatalf("min should map to gradient start, got %s", spec.Points[0].Color)
	}
	if spec.Points[3].Color != viridis.Hex(1) {
		t.Fatalf("max should map to gradient end, got %s", spec.Points[3].Color)
	}
	if spec.Points[1].Color != viridis.Hex(0.5) {
		t.Fatalf("midpoint should map to gradient middle, got %s", spec.Points[1].Color)
	}
	if spec.Points[2].Color != "#d3d3d3" || spec.Points[2].Value != nil {
		t.Fatalf("NaN should use the NaN color and no value, got %+v", spec.Points[2])
	}
	if !strings.HasSuffix(spec.Points[2].Hover, "n_counts: nan") {
		t.Fatalf("unexpected NaN hover %q", spec.Points[2].Hover)
	}
	if spec.Points[1].Value == nil || *spec.Points[1].Value != 5 {
		t.Fatalf("expected value 5, got %+v", spec.Points[1].Value)
	}
	if spec.Legend != nil {
		t.Fatal("continuous plots should not carry a legend")
	}
	if spec.ColorBar == nil || spec.ColorBar.Gradient != "viridis" {
		t.Fatalf("unexpected color bar: %+v", spec.ColorBar)
	}
}

func TestRenderRangeOverride(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	points := linePoints(t, 2)
	attr := ContinuousAttribute("gene", []float64{1, 2})

	spec, err := r.RenderWith(points, attr, SamplingPolicy{MaxPoints: 2}, Options{
		Range: &ValueRange{Min: 4, Max: 0},
	})
	if err != nil {
		t.Fatalf("RenderWith: %v", err)
	}
	if spec.ColorBar.Min != 0 || spec.ColorBar.Max != 4 {
		t.Fatalf("expected swapped range 0..4, got %v..%v", spec.ColorBar.Min, spec.ColorBar.Max)
	}
	viridis, _ := colormap.GradientByName("viridis")
	if spec.Points[1].Color != viridis.Hex(0.5) {
		t.Fatalf("expected 2 to sit mid-range, got %s", spec.Points[1].Color)
	}
}

func TestRenderConstantValues(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	spec, err := r.Render(linePoints(t, 3), ContinuousAttribute("c", []float64{2, 2, 2}), SamplingPolicy{MaxPoints: 3})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	viridis, _ := colormap.GradientByName("viridis")
	for _, p := range spec.Points {
		if p.Color != viridis.Hex(0) {
			t.Fatalf("constant values should map to gradient start, got %s", p.Color)
		}
	}
}

func TestRenderPaletteWrap(t *testing.T) {
	t.Parallel()

	palette, err := colormap.NewPalette("two", []string{"#000000", "#ffffff"})
	if err != nil {
		t.Fatalf("NewPalette: %v", err)
	}
	gradient, _ := colormap.GradientByName("viridis")
	r := NewRenderer(Config{Palette: palette, Gradient: gradient})

	attr := CategoricalAttribute("k", []string{"a", "b", "c", "d", "e"})
	spec, err := r.Render(linePoints(t, 5), attr, SamplingPolicy{MaxPoints: 5})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := []string{"#000000", "#ffffff", "#000000", "#ffffff", "#000000"}
	for i, e := range spec.Legend {
		if e.Color != want[i] {
			t.Fatalf("legend %d: expected %s, got %s", i, want[i], e.Color)
		}
	}
}

func TestRenderHoverFieldsAndIDs(t *testing.T) {
	t.Parallel()

	ps, err := NewPointSet([]string{"AAAC-1", "AAAG-1"}, [][]float64{{0, 1, 2}, {3, 4, 5}})
	if err != nil {
		t.Fatalf("NewPointSet: %v", err)
	}
	r := testRenderer(t)

	spec, err := r.RenderWith(ps, CategoricalAttribute("louvain", []string{"0", "1"}), SamplingPolicy{MaxPoints: 5}, Options{
		Title: "umap",
		Hover: []Attribute{
			ContinuousAttribute("n_genes", []float64{1200, 800}),
			CategoricalAttribute("batch", []string{"b1", "b2"}),
		},
	})
	if err != nil {
		t.Fatalf("RenderWith: %v", err)
	}
	if spec.Dims != 3 {
		t.Fatalf("expected 3D spec, got %d", spec.Dims)
	}
	if got, want := spec.Points[0].Hover, "id: AAAC-1\nlouvain: 0\nn_genes: 1200\nbatch: b1"; got != want {
		t.Fatalf("unexpected hover %q, want %q", got, want)
	}
	if spec.Points[1].Label != "1" {
		t.Fatalf("expected label 1, got %q", spec.Points[1].Label)
	}
}

func TestNewPointSetValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPointSet(nil, [][]float64{{0, 0}, {1, 1, 1}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for mixed dims, got %v", err)
	}
	if _, err := NewPointSet(nil, [][]float64{{0}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for 1D, got %v", err)
	}
	if _, err := NewPointSet([]string{"a"}, [][]float64{{0, 0}, {1, 1}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for id count, got %v", err)
	}
}

func TestCategoricalAttributeOrdered(t *testing.T) {
	t.Parallel()

	attr, err := CategoricalAttributeOrdered("k", []string{"b", "a"}, []string{"b", "a"})
	if err != nil {
		t.Fatalf("CategoricalAttributeOrdered: %v", err)
	}
	if !reflect.DeepEqual(attr.Categories(), []string{"b", "a"}) {
		t.Fatalf("unexpected categories %v", attr.Categories())
	}
	if _, err := CategoricalAttributeOrdered("k", []string{"c"}, []string{"a"}); err == nil {
		t.Fatal("expected error for unknown label")
	}
	if _, err := CategoricalAttributeOrdered("k", nil, []string{"a", "a"}); err == nil {
		t.Fatal("expected error for duplicate category")
	}
}

func TestRenderLinked(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	umap := linePoints(t, 300)
	coords := make([][]float64, 300)
	for i := range coords {
		coords[i] = []float64{float64(-i), float64(2 * i)}
	}
	pca, err := NewPointSet(nil, coords)
	if err != nil {
		t.Fatalf("NewPointSet: %v", err)
	}

	labels := make([]string, 300)
	for i := range labels {
		labels[i] = fmt.Sprintf("g%d", i%3)
	}
	attr := CategoricalAttribute("group", labels)

	specs, err := r.RenderLinked([]PointSet{umap, pca}, attr, SamplingPolicy{MaxPoints: 30, Seed: 1}, Options{})
	if err != nil {
		t.Fatalf("RenderLinked: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if !reflect.DeepEqual(specs[0].Indices(), specs[1].Indices()) {
		t.Fatal("linked plots must share the sampled index set")
	}
	for i := range specs[0].Points {
		if specs[0].Points[i].Color != specs[1].Points[i].Color {
			t.Fatalf("point %d colored differently across linked plots", i)
		}
	}

	if _, err := r.RenderLinked([]PointSet{umap, linePoints(t, 10)}, attr, SamplingPolicy{MaxPoints: 5}, Options{}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := r.RenderLinked(nil, attr, SamplingPolicy{MaxPoints: 5}, Options{}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestRenderHulls(t *testing.T) {
	t.Parallel()

	coords := [][]float64{
		{0, 0}, {2, 0}, {2, 2}, {0, 2}, {1, 1},
		{10, 10}, {11, 11},
	}
	ps, err := NewPointSet(nil, coords)
	if err != nil {
		t.Fatalf("NewPointSet: %v", err)
	}
	attr := CategoricalAttribute("cluster", []string{"a", "a", "a", "a", "a", "b", "b"})

	spec, err := testRenderer(t).RenderWith(ps, attr, SamplingPolicy{MaxPoints: 2, Seed: 3}, Options{Hulls: true})
	if err != nil {
		t.Fatalf("RenderWith: %v", err)
	}
	if len(spec.Hulls) != 1 {
		t.Fatalf("expected a single hull, got %d", len(spec.Hulls))
	}
	h := spec.Hulls[0]
	if h.Label != "a" || len(h.X) != 4 {
		t.Fatalf("expected square hull for a, got %+v", h)
	}
	if h.Color != spec.Legend[0].Color {
		t.Fatal("hull color should match legend color")
	}
}

func TestZeroConfigRenderer(t *testing.T) {
	t.Parallel()

	r := NewRenderer(Config{})
	points := linePoints(t, 3)

	spec, err := r.Render(points, CategoricalAttribute("group", []string{"a", "b", "a"}), SamplingPolicy{MaxPoints: 10})
	if err != nil {
		t.Fatalf("Render categorical: %v", err)
	}
	if got := spec.Legend[0].Color; got != "#1f77b4" {
		t.Fatalf("expected tab20 default, got %s", got)
	}

	spec, err = r.Render(points, ContinuousAttribute("score", []float64{0, 1, 2}), SamplingPolicy{MaxPoints: 10})
	if err != nil {
		t.Fatalf("Render continuous: %v", err)
	}
	if spec.ColorBar.Gradient != "viridis" || spec.Points[0].Color != "#440154" {
		t.Fatalf("expected viridis default, got %s %s", spec.ColorBar.Gradient, spec.Points[0].Color)
	}
	if r.Config().HistogramPalette.Name() != "set123" {
		t.Fatalf("expected set123 histogram default, got %s", r.Config().HistogramPalette.Name())
	}
}

func TestRenderHullsDropStrayPoints(t *testing.T) {
	t.Parallel()

	var coords [][]float64
	var labels []string
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			coords = append(coords, []float64{float64(x), float64(y)})
			labels = append(labels, "a")
			coords = append(coords, []float64{float64(10 + x), float64(y)})
			labels = append(labels, "b")
		}
	}
	// An "a" point inside cluster b.
	coords = append(coords, []float64{11.2, 1.2})
	labels = append(labels, "a")

	ps, err := NewPointSet(nil, coords)
	if err != nil {
		t.Fatalf("NewPointSet: %v", err)
	}
	attr := CategoricalAttribute("cluster", labels)

	maxX := func(opts Options) float64 {
		spec, err := testRenderer(t).RenderWith(ps, attr, SamplingPolicy{MaxPoints: 100}, opts)
		if err != nil {
			t.Fatalf("RenderWith: %v", err)
		}
		if len(spec.Hulls) != 2 {
			t.Fatalf("expected 2 hulls, got %d", len(spec.Hulls))
		}
		m := math.Inf(-1)
		for _, x := range spec.Hulls[0].X {
			m = math.Max(m, x)
		}
		if spec.Hulls[1].Label != "b" || len(spec.Hulls[1].X) != 4 {
			t.Fatalf("cluster b hull should be its square, got %+v", spec.Hulls[1])
		}
		return m
	}

	if got := maxX(Options{Hulls: true}); got != 11.2 {
		t.Fatalf("unfiltered hull should reach the stray point, got max x %v", got)
	}
	if got := maxX(Options{Hulls: true, HullNeighbors: 5}); got != 2 {
		t.Fatalf("filtered hull should stop at its cluster, got max x %v", got)
	}
}
