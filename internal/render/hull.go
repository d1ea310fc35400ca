package render

import (
	"math"
	"sort"
)

type vec2 struct{ x, y float64 }

func cross(o, a, b vec2) float64 {
	return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
}

// convexHull returns the hull of pts in counter-clockwise order, without
// collinear points (monotone chain). Fewer than 3 distinct points yield nil.
func convexHull(pts []vec2) []vec2 {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].x != pts[j].x {
			return pts[i].x < pts[j].x
		}
		return pts[i].y < pts[j].y
	})
	uniq := pts[:0]
	for i, p := range pts {
		if i > 0 && p == pts[i-1] {
			continue
		}
		uniq = append(uniq, p)
	}
	pts = uniq
	if len(pts) < 3 {
		return nil
	}

	hull := make([]vec2, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	hull = hull[:len(hull)-1]

	// All points collinear.
	if len(hull) < 3 {
		return nil
	}
	return hull
}

// hulls outlines every category over all of its points. With neighbors
// > 0, points whose k nearest neighbors (themselves included) mostly
// carry another label are left out first, so stray points do not stretch
// their category's outline.
func hulls(points PointSet, attr Attribute, colors []string, neighbors int) []Hull {
	pts := make([]vec2, points.Len())
	for i := range pts {
		c := points.At(i).Coord
		pts[i] = vec2{c[0], c[1]}
	}
	keep := func(int) bool { return true }
	if neighbors > 0 {
		pred := knnPredict(pts, attr.codes, len(attr.categories), neighbors)
		keep = func(i int) bool { return pred[i] == attr.codes[i] }
	}

	groups := make([][]vec2, len(attr.categories))
	for i, p := range pts {
		if !keep(i) {
			continue
		}
		code := attr.codes[i]
		groups[code] = append(groups[code], p)
	}

	out := make([]Hull, 0, len(groups))
	for code, g := range groups {
		h := convexHull(g)
		if h == nil {
			continue
		}
		xs := make([]float64, len(h))
		ys := make([]float64, len(h))
		for i, p := range h {
			xs[i], ys[i] = p.x, p.y
		}
		out = append(out, Hull{
			Label: attr.categories[code],
			Color: colors[code],
			X:     xs,
			Y:     ys,
		})
	}
	return out
}

type neighbor struct {
	d2  float64
	idx int
}

// knnPredict classifies every point by a majority vote of its k nearest
// points, itself included. Ties go to the lowest code. Points are bucketed
// on a square grid of about k points per cell, searched in rings.
func knnPredict(pts []vec2, codes []int, nCodes, k int) []int {
	n := len(pts)
	if k > n {
		k = n
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.x), math.Max(maxX, p.x)
		minY, maxY = math.Min(minY, p.y), math.Max(maxY, p.y)
	}
	g := int(math.Ceil(math.Sqrt(float64(n) / float64(k))))
	if g < 1 {
		g = 1
	}
	cw, ch := (maxX-minX)/float64(g), (maxY-minY)/float64(g)
	if cw == 0 {
		cw = 1
	}
	if ch == 0 {
		ch = 1
	}
	cellOf := func(p vec2) (int, int) {
		cx := int((p.x - minX) / cw)
		cy := int((p.y - minY) / ch)
		return min(max(cx, 0), g-1), min(max(cy, 0), g-1)
	}
	cells := make([][]int, g*g)
	for i, p := range pts {
		cx, cy := cellOf(p)
		cells[cy*g+cx] = append(cells[cy*g+cx], i)
	}
	step := math.Min(cw, ch)

	pred := make([]int, n)
	best := make([]neighbor, 0, k+1)
	votes := make([]int, nCodes)
	for i, q := range pts {
		best = best[:0]
		cx, cy := cellOf(q)
		for r := 0; r <= g; r++ {
			for y := cy - r; y <= cy+r; y++ {
				for x := cx - r; x <= cx+r; x++ {
					if x < 0 || y < 0 || x >= g || y >= g {
						continue
					}
					if max(abs(x-cx), abs(y-cy)) != r {
						continue
					}
					for _, j := range cells[y*g+x] {
						dx, dy := pts[j].x-q.x, pts[j].y-q.y
						best = insertNeighbor(best, neighbor{dx*dx + dy*dy, j}, k)
					}
				}
			}
			// Unvisited cells are at least r cells away.
			if reach := float64(r) * step; len(best) == k && best[k-1].d2 <= reach*reach {
				break
			}
		}

		for c := range votes {
			votes[c] = 0
		}
		for _, nb := range best {
			votes[codes[nb.idx]]++
		}
		top := 0
		for c, v := range votes {
			if v > votes[top] {
				top = c
			}
		}
		pred[i] = top
	}
	return pred
}

// insertNeighbor keeps best sorted by distance then index, at most k long.
func insertNeighbor(best []neighbor, nb neighbor, k int) []neighbor {
	pos := sort.Search(len(best), func(i int) bool {
		if best[i].d2 != nb.d2 {
			return best[i].d2 > nb.d2
		}
		return best[i].idx > nb.idx
	})
	if pos >= k {
		return best
	}
	best = append(best, neighbor{})
	copy(best[pos+1:], best[pos:])
	best[pos] = nb
	if len(best) > k {
		best = best[:k]
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
