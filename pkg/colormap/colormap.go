// Package colormap provides color schemes for visualization.
package colormap

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Gradient is a linear interpolation colormap for continuous values.
type Gradient struct {
	name  string
	stops []colorful.Color
}

// NewGradient builds a gradient from hex color stops.
func NewGradient(name string, hexes []string) (Gradient, error) {
	stops, err := parseHexes(hexes)
	if err != nil {
		return Gradient{}, fmt.Errorf("gradient %q: %w", name, err)
	}
	if len(stops) < 2 {
		return Gradient{}, fmt.Errorf("gradient %q: need at least 2 stops, got %d", name, len(stops))
	}
	return Gradient{name: name, stops: stops}, nil
}

// Name returns the gradient name.
func (g Gradient) Name() string { return g.name }

// Hex returns the color at position t as "#rrggbb".
func (g Gradient) Hex(t float64) string {
	return g.blend(t).Hex()
}

// Empty reports whether the gradient has no stops, as a zero Gradient.
func (g Gradient) Empty() bool { return len(g.stops) == 0 }

// Stops returns the gradient stops as hex strings.
func (g Gradient) Stops() []string {
	out := make([]string, len(g.stops))
	for i, c := range g.stops {
		out[i] = c.Hex()
	}
	return out
}

func (g Gradient) blend(t float64) colorful.Color {
	if t != t || t <= 0 {
		return g.stops[0]
	}
	if t >= 1 {
		return g.stops[len(g.stops)-1]
	}

	idx := t * float64(len(g.stops)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(g.stops) {
		upper = len(g.stops) - 1
	}

	return g.stops[lower].BlendRgb(g.stops[upper], idx-float64(lower))
}

// Palette is a list of distinct colors for categories.
//
// Category i gets color i mod Len(): once the palette is exhausted the
// assignment starts again from the first color.
type Palette struct {
	name   string
	colors []colorful.Color
}

// NewPalette builds a palette from hex colors.
func NewPalette(name string, hexes []string) (Palette, error) {
	colors, err := parseHexes(hexes)
	if err != nil {
		return Palette{}, fmt.Errorf("palette %q: %w", name, err)
	}
	if len(colors) == 0 {
		return Palette{}, fmt.Errorf("palette %q: no colors", name)
	}
	return Palette{name: name, colors: colors}, nil
}

// Name returns the palette name.
func (p Palette) Name() string { return p.name }

// Len returns the number of distinct colors.
func (p Palette) Len() int { return len(p.colors) }

// Hex returns color at index as "#rrggbb".
func (p Palette) Hex(i int) string {
	return p.colors[wrap(i, len(p.colors))].Hex()
}

// Empty reports whether the palette has no colors, as a zero Palette.
func (p Palette) Empty() bool { return len(p.colors) == 0 }

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func parseHexes(hexes []string) ([]colorful.Color, error) {
	out := make([]colorful.Color, 0, len(hexes))
	for _, h := range hexes {
		c, err := colorful.Hex(normalizeHex(h))
		if err != nil {
			return nil, fmt.Errorf("invalid color %q: %w", h, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// normalizeHex accepts upper-case and 8-digit (#rrggbbaa) colors as
// written by matplotlib; alpha is dropped.
func normalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) == 9 {
		s = s[:7]
	}
	return s
}
