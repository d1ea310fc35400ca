// Package table reads annotated single-cell tables (embeddings plus
// per-cell annotations) exported from an analysis session.
package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/atlasmap-sc/embedplot/internal/render"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Document is the on-disk layout of a dataset.
type Document struct {
	ObsNames []string               `json:"obs_names"`
	Obsm     map[string][][]float64 `json:"obsm"`
	Obs      map[string]Column      `json:"obs"`
	Uns      map[string][]string    `json:"uns"`
}

// Column is one per-cell annotation. Categorical columns carry categories
// and codes; continuous columns carry values (null reads as NaN).
type Column struct {
	Categories []string   `json:"categories,omitempty"`
	Codes      []int      `json:"codes,omitempty"`
	Values     []*float64 `json:"values,omitempty"`
}

// IsCategorical reports whether c holds category codes.
func (c Column) IsCategorical() bool {
	return c.Categories != nil
}

// Reader provides access to one dataset.
type Reader struct {
	path string
	doc  Document
	nObs int
}

// NewReader loads a dataset from path. Zstd and gzip compressed files are
// detected by their magic bytes.
func NewReader(path string) (*Reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	data, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	r, err := FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset %s: %w", path, err)
	}
	r.path = path
	return r, nil
}

// FromDocument validates an in-memory document.
func FromDocument(doc Document) (*Reader, error) {
	nObs := -1
	check := func(what string, n int) error {
		if nObs < 0 {
			nObs = n
			return nil
		}
		if n != nObs {
			return fmt.Errorf("%s has %d rows, expected %d", what, n, nObs)
		}
		return nil
	}

	if doc.ObsNames != nil {
		if err := check("obs_names", len(doc.ObsNames)); err != nil {
			return nil, err
		}
	}
	for _, key := range sortedKeys(doc.Obsm) {
		if err := check("obsm "+key, len(doc.Obsm[key])); err != nil {
			return nil, err
		}
	}
	for _, key := range sortedKeys(doc.Obs) {
		col := doc.Obs[key]
		n := len(col.Values)
		if col.IsCategorical() {
			n = len(col.Codes)
			for i, code := range col.Codes {
				if code < -1 || code >= len(col.Categories) {
					return nil, fmt.Errorf("obs %s: code %d at row %d out of range", key, code, i)
				}
			}
		}
		if err := check("obs "+key, n); err != nil {
			return nil, err
		}
	}
	if nObs < 0 {
		nObs = 0
	}

	return &Reader{doc: doc, nObs: nObs}, nil
}

func decompress(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, zstdMagic):
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(raw, nil)
	case bytes.HasPrefix(raw, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return raw, nil
	}
}

// Path returns the file the dataset was loaded from.
func (r *Reader) Path() string { return r.path }

// NObs returns the number of cells.
func (r *Reader) NObs() int { return r.nObs }

// ObsNames returns cell identifiers, or nil when the dataset has none.
func (r *Reader) ObsNames() []string { return r.doc.ObsNames }

// Bases returns the available embeddings without their "X_" prefix.
func (r *Reader) Bases() []string {
	out := make([]string, 0, len(r.doc.Obsm))
	for _, key := range sortedKeys(r.doc.Obsm) {
		out = append(out, strings.TrimPrefix(key, "X_"))
	}
	return out
}

// Columns returns the per-cell annotation names.
func (r *Reader) Columns() []string {
	return sortedKeys(r.doc.Obs)
}

// Embedding selects components of basis as a point set. Components are
// 1-based, except for diffmap whose first component is trivial and which
// is therefore indexed from 0.
func (r *Reader) Embedding(basis string, components []int) (render.PointSet, error) {
	key := "X_" + basis
	rows, ok := r.doc.Obsm[key]
	if !ok {
		return render.PointSet{}, fmt.Errorf("basis not found: %s", key)
	}
	if len(components) != 2 && len(components) != 3 {
		return render.PointSet{}, fmt.Errorf("expected 2 or 3 components, got %d", len(components))
	}

	offset := 1
	if basis == "diffmap" {
		offset = 0
	}

	cols := make([]int, len(components))
	for i, c := range components {
		cols[i] = c - offset
		if cols[i] < 0 {
			return render.PointSet{}, fmt.Errorf("invalid component %d for basis %s", c, basis)
		}
	}

	coords := make([][]float64, len(rows))
	for i, row := range rows {
		coord := make([]float64, len(cols))
		for j, c := range cols {
			if c >= len(row) {
				return render.PointSet{}, fmt.Errorf("component %d out of range for basis %s (%d dims)", components[j], basis, len(row))
			}
			coord[j] = row[c]
		}
		coords[i] = coord
	}

	return render.NewPointSet(r.doc.ObsNames, coords)
}

// Representation returns every component of basis, one row per cell.
// Rows are shared with the reader and must not be modified.
func (r *Reader) Representation(basis string) ([][]float64, error) {
	rows, ok := r.doc.Obsm["X_"+basis]
	if !ok {
		return nil, fmt.Errorf("basis not found: X_%s", basis)
	}
	return rows, nil
}

// Root returns the stored root cell (uns["iroot"]), or 0 when none is set.
func (r *Reader) Root() (int, error) {
	v, ok := r.doc.Uns["iroot"]
	if !ok || len(v) == 0 {
		return 0, nil
	}
	root, err := strconv.Atoi(strings.TrimSpace(v[0]))
	if err != nil {
		return 0, fmt.Errorf("invalid iroot %q: %w", v[0], err)
	}
	if root < 0 || root >= r.nObs {
		return 0, fmt.Errorf("iroot %d out of range for %d cells", root, r.nObs)
	}
	return root, nil
}

// Attribute returns an annotation column as a render attribute. Missing
// categorical values (code -1) read as "nan".
func (r *Reader) Attribute(key string) (render.Attribute, error) {
	col, ok := r.doc.Obs[key]
	if !ok {
		return render.Attribute{}, fmt.Errorf("column not found: %s", key)
	}

	if !col.IsCategorical() {
		values := make([]float64, len(col.Values))
		for i, v := range col.Values {
			if v == nil {
				values[i] = math.NaN()
				continue
			}
			values[i] = *v
		}
		return render.ContinuousAttribute(key, values), nil
	}

	categories := col.Categories
	labels := make([]string, len(col.Codes))
	missing := false
	for i, code := range col.Codes {
		if code < 0 {
			labels[i] = "nan"
			missing = true
			continue
		}
		labels[i] = col.Categories[code]
	}
	if missing && !contains(categories, "nan") {
		categories = append(append([]string(nil), categories...), "nan")
	}
	return render.CategoricalAttributeOrdered(key, labels, categories)
}

// Colors returns the stored palette of a categorical column
// (uns["<key>_colors"]).
func (r *Reader) Colors(key string) ([]string, bool) {
	colors, ok := r.doc.Uns[key+"_colors"]
	return colors, ok && len(colors) > 0
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
