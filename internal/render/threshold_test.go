package render

import (
	"errors"
	"reflect"
	"testing"
)

func TestRenderThresholds(t *testing.T) {
	t.Parallel()

	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	thresholds := []Threshold{
		{Name: "low", Min: 0, Max: 3},
		{Name: "high", Min: 6, Max: 9},
	}

	plot, err := testRenderer(t).RenderThresholds("n_counts", values, []PointSet{linePoints(t, 10)}, thresholds,
		HistogramPolicy{Bins: 5, MinBins: 1, MaxBins: 10}, SamplingPolicy{MaxPoints: 100})
	if err != nil {
		t.Fatalf("RenderThresholds: %v", err)
	}

	// Bin centers are 0.9, 2.7, 4.5, 6.3 and 8.1.
	wantBins := []string{"low", "low", DefaultCategory, "high", "high"}
	if !reflect.DeepEqual(plot.BinCategories, wantBins) {
		t.Fatalf("expected bins %v, got %v", wantBins, plot.BinCategories)
	}
	wantColors := []string{"#e41a1c", "#e41a1c", "#d3d3d3", "#377eb8", "#377eb8"}
	if !reflect.DeepEqual(plot.BinColors, wantColors) {
		t.Fatalf("expected bin colors %v, got %v", wantColors, plot.BinColors)
	}
	if !reflect.DeepEqual(plot.Categories, []string{"low", "high", DefaultCategory}) {
		t.Fatalf("unexpected categories %v", plot.Categories)
	}

	if len(plot.Embeddings) != 1 {
		t.Fatalf("expected 1 embedding, got %d", len(plot.Embeddings))
	}
	spec := plot.Embeddings[0]
	counts := map[string]int{}
	for _, e := range spec.Legend {
		counts[e.Label] = e.Count
	}
	if counts["low"] != 4 || counts["high"] != 4 || counts[DefaultCategory] != 2 {
		t.Fatalf("unexpected category counts %v", counts)
	}
	wantLabels := []string{"low", "low", "low", "low", DefaultCategory, DefaultCategory, "high", "high", "high", "high"}
	for _, p := range spec.Points {
		if p.Label != wantLabels[p.Index] {
			t.Fatalf("point %d: expected %q, got %q", p.Index, wantLabels[p.Index], p.Label)
		}
	}
	if spec.Points[9].Color != "#377eb8" {
		t.Fatalf("maximum should take the high color, got %+v", spec.Points[9])
	}
}

func TestRenderThresholdsWithoutBases(t *testing.T) {
	t.Parallel()

	plot, err := testRenderer(t).RenderThresholds("x", []float64{1, 2, 3}, nil, nil,
		HistogramPolicy{Bins: 3, MinBins: 1, MaxBins: 3}, SamplingPolicy{MaxPoints: 10})
	if err != nil {
		t.Fatalf("RenderThresholds: %v", err)
	}
	if plot.Embeddings != nil {
		t.Fatal("expected no embeddings")
	}
	for _, c := range plot.BinCategories {
		if c != DefaultCategory {
			t.Fatalf("expected every bin to be %q, got %v", DefaultCategory, plot.BinCategories)
		}
	}
}

func TestRenderThresholdsErrors(t *testing.T) {
	t.Parallel()

	r := testRenderer(t)
	hp := HistogramPolicy{Bins: 2, MinBins: 1, MaxBins: 10}
	sp := SamplingPolicy{MaxPoints: 10}
	values := []float64{1, 2, 3}

	tests := []struct {
		name       string
		values     []float64
		bases      []PointSet
		thresholds []Threshold
		hp         HistogramPolicy
		want       error
	}{
		{"empty", nil, nil, nil, hp, ErrEmptyInput},
		{"bins", values, nil, nil, HistogramPolicy{MinBins: 0, MaxBins: 1}, ErrInvalidBins},
		{"reserved name", values, nil, []Threshold{{Name: DefaultCategory, Min: 0, Max: 1}}, hp, ErrInvalidPolicy},
		{"duplicate", values, nil, []Threshold{{Name: "a", Max: 1}, {Name: "a", Max: 2}}, hp, ErrInvalidPolicy},
		{"reversed", values, nil, []Threshold{{Name: "a", Min: 2, Max: 1}}, hp, ErrInvalidPolicy},
		{"mismatch", values, []PointSet{linePoints(t, 4)}, nil, hp, ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.RenderThresholds("x", tt.values, tt.bases, tt.thresholds, tt.hp, sp); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
