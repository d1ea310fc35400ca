// Command embedplot renders interactive plot specifications for
// single-cell embeddings.
//
// Usage:
//
//	embedplot [-config file] [-dataset id] <command> [flags]
//
// Commands are scatter, linked, hist, thresh, legend and batch. The encoded spec is
// written to stdout unless -o is given.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atlasmap-sc/embedplot/internal/cache"
	"github.com/atlasmap-sc/embedplot/internal/config"
	"github.com/atlasmap-sc/embedplot/internal/data/table"
	"github.com/atlasmap-sc/embedplot/internal/render"
	"github.com/atlasmap-sc/embedplot/internal/service"
	"github.com/atlasmap-sc/embedplot/pkg/colormap"
)

func main() {
	log.SetPrefix("embedplot: ")
	log.SetFlags(0)

	configPath := flag.String("config", "config/embedplot.yaml", "Path to configuration file")
	datasetID := flag.String("dataset", "", "Dataset ID (default: first configured dataset)")
	format := flag.String("format", "", "Output format: json or msgpack (default: from config)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *format != "" {
		cfg.Output.Format = *format
	}

	svc, closeFn, err := newService(cfg, *datasetID)
	if err != nil {
		log.Fatal(err)
	}
	defer closeFn()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "scatter":
		err = cmdScatter(svc, cfg, args)
	case "linked":
		err = cmdLinked(svc, cfg, args)
	case "hist":
		err = cmdHist(svc, args)
	case "thresh":
		err = cmdThresh(svc, cfg, args)
	case "legend":
		err = cmdLegend(svc, args)
	case "batch":
		err = cmdBatch(svc, cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <scatter|linked|hist|thresh|legend|batch> [command flags]\n", os.Args[0])
	flag.PrintDefaults()
}

func newService(cfg *config.Config, datasetID string) (*service.PlotService, func(), error) {
	if datasetID == "" {
		datasetID = cfg.Data.DefaultDataset
	}
	ds, ok := cfg.Data.Datasets[datasetID]
	if !ok {
		return nil, nil, fmt.Errorf("dataset not found: %s", datasetID)
	}

	format, err := service.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, nil, err
	}

	reader, err := table.NewReader(ds.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load dataset %q: %w", datasetID, err)
	}
	log.Printf("[%s] Loaded %d cells from %s (bases: %s)", datasetID, reader.NObs(), reader.Path(), strings.Join(reader.Bases(), ", "))

	renderCfg, err := rendererConfig(cfg.Render)
	if err != nil {
		return nil, nil, err
	}

	cacheManager, err := cache.NewManager(cache.Config{
		SpecCacheSizeMB: cfg.Cache.SpecSizeMB,
		SpecTTL:         time.Duration(cfg.Cache.SpecTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	svc := service.NewPlotService(service.PlotServiceConfig{
		DatasetID: datasetID,
		Reader:    reader,
		Cache:     cacheManager,
		Renderer:  render.NewRenderer(renderCfg),
		Format:    format,
		MaxPoints: cfg.Render.MaxPoints,
	})
	closeFn := func() {
		if n := cacheManager.Rejected(); n > 0 {
			log.Printf("[%s] %d specs exceeded the %d byte cache entry limit and were not cached", datasetID, n, cacheManager.MaxSpecBytes())
		}
		cacheManager.Close()
	}
	return svc, closeFn, nil
}

func rendererConfig(rc config.RenderConfig) (render.Config, error) {
	gradient, ok := colormap.GradientByName(rc.Gradient)
	if !ok {
		return render.Config{}, fmt.Errorf("unknown gradient %q (have %s)", rc.Gradient, strings.Join(colormap.GradientNames(), ", "))
	}

	var palette colormap.Palette
	if len(rc.PaletteColors) > 0 {
		p, err := colormap.NewPalette("custom", rc.PaletteColors)
		if err != nil {
			return render.Config{}, err
		}
		palette = p
	} else {
		p, ok := colormap.PaletteByName(rc.Palette)
		if !ok {
			return render.Config{}, fmt.Errorf("unknown palette %q (have %s)", rc.Palette, strings.Join(colormap.PaletteNames(), ", "))
		}
		palette = p
	}

	return render.Config{
		Palette:  palette,
		Gradient: gradient,
		NaNColor: rc.NaNColor,
		IDKey:    rc.IDKey,
	}, nil
}

func cmdScatter(svc *service.PlotService, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("scatter", flag.ExitOnError)
	basis := fs.String("basis", "umap", "embedding basis (obsm key without X_)")
	components := fs.String("components", "1,2", "comma-separated components (2 or 3)")
	color := fs.String("color", "", "obs column to color by")
	hover := fs.String("hover", "", "comma-separated obs columns shown on hover")
	maxPoints := fs.Int("max-points", cfg.Render.MaxPoints, "maximum rendered points")
	seed := fs.Uint64("seed", cfg.Render.Seed, "sampling seed")
	hulls := fs.Bool("hulls", false, "outline categories with convex hulls")
	hullNeighbors := fs.Int("hull-neighbors", 0, "drop hull points outvoted by this many nearest neighbors (0: keep all)")
	gradient := fs.String("gradient", "", "gradient for continuous colors")
	vmin := fs.String("vmin", "", "lower bound of the color range")
	vmax := fs.String("vmax", "", "upper bound of the color range")
	out := fs.String("o", "", "write output to `file` (default: stdout)")
	fs.Parse(args)

	comps, err := parseInts(*components)
	if err != nil {
		return err
	}
	valueRange, err := parseRange(*vmin, *vmax)
	if err != nil {
		return err
	}

	data, err := svc.Scatter(service.ScatterRequest{
		Basis:         *basis,
		Components:    comps,
		Color:         *color,
		Hover:         splitList(*hover),
		MaxPoints:     *maxPoints,
		Seed:          *seed,
		Hulls:         *hulls,
		HullNeighbors: *hullNeighbors,
		Range:         valueRange,
		Gradient:      *gradient,
	})
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

func cmdLinked(svc *service.PlotService, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("linked", flag.ExitOnError)
	bases := fs.String("bases", "umap,pca", "comma-separated embedding bases")
	components := fs.String("components", "1,2", "comma-separated components (2 or 3)")
	color := fs.String("color", "", "obs column to color by")
	hover := fs.String("hover", "", "comma-separated obs columns shown on hover")
	maxPoints := fs.Int("max-points", cfg.Render.MaxPoints, "maximum rendered points")
	seed := fs.Uint64("seed", cfg.Render.Seed, "sampling seed")
	gradient := fs.String("gradient", "", "gradient for continuous colors")
	rep := fs.String("rep", "", "color by distance in this representation instead of -color")
	root := fs.Int("root", -1, "root cell for -rep (default: uns iroot)")
	norm := fs.Float64("p", 2, "Minkowski norm order for -rep (inf: maximum norm)")
	cutoff := fs.String("cutoff", "", "mask cells farther than this from the root")
	only := fs.String("only", "", "mask cells outside the root's category of this column")
	out := fs.String("o", "", "write output to `file` (default: stdout)")
	fs.Parse(args)

	comps, err := parseInts(*components)
	if err != nil {
		return err
	}

	req := service.LinkedRequest{
		Bases:      splitList(*bases),
		Components: comps,
		Color:      *color,
		Hover:      splitList(*hover),
		MaxPoints:  *maxPoints,
		Seed:       *seed,
		Gradient:   *gradient,
	}
	if *rep != "" {
		d := &service.DistanceRequest{Basis: *rep, P: *norm, Only: *only}
		if *root >= 0 {
			d.Root = root
		}
		if *cutoff != "" {
			v, err := strconv.ParseFloat(*cutoff, 64)
			if err != nil {
				return fmt.Errorf("invalid -cutoff: %w", err)
			}
			d.Cutoff = &v
		}
		req.Distance = d
	}

	data, err := svc.Linked(req)
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

func cmdHist(svc *service.PlotService, args []string) error {
	fs := flag.NewFlagSet("hist", flag.ExitOnError)
	key := fs.String("key", "n_counts", "continuous obs column")
	groups := fs.String("groups", "", "comma-separated categorical obs columns to group by")
	bins := fs.Int("bins", 0, "number of bins (0: auto)")
	minBins := fs.Int("min-bins", 1, "minimum number of bins")
	maxBins := fs.Int("max-bins", 1000, "maximum number of bins")
	all := fs.Bool("all", true, "add a series for all cells when grouping")
	out := fs.String("o", "", "write output to `file` (default: stdout)")
	fs.Parse(args)

	data, err := svc.Histogram(service.HistogramRequest{
		Key:        *key,
		GroupBy:    splitList(*groups),
		Bins:       *bins,
		MinBins:    *minBins,
		MaxBins:    *maxBins,
		DisplayAll: *all,
	})
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

func cmdThresh(svc *service.PlotService, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("thresh", flag.ExitOnError)
	key := fs.String("key", "n_counts", "continuous obs column")
	bases := fs.String("bases", "umap", "comma-separated embedding bases colored by threshold")
	components := fs.String("components", "1,2", "comma-separated components (2 or 3)")
	bins := fs.Int("bins", 0, "number of bins (0: auto)")
	minBins := fs.Int("min-bins", 1, "minimum number of bins")
	maxBins := fs.Int("max-bins", 1000, "maximum number of bins")
	maxPoints := fs.Int("max-points", cfg.Render.MaxPoints, "maximum rendered points")
	seed := fs.Uint64("seed", cfg.Render.Seed, "sampling seed")
	var thresholds thresholdFlag
	fs.Var(&thresholds, "t", "threshold as `name=min:max` (repeatable)")
	out := fs.String("o", "", "write output to `file` (default: stdout)")
	fs.Parse(args)

	comps, err := parseInts(*components)
	if err != nil {
		return err
	}

	data, err := svc.Thresholds(service.ThresholdRequest{
		Key:        *key,
		Thresholds: thresholds,
		Bases:      splitList(*bases),
		Components: comps,
		Bins:       *bins,
		MinBins:    *minBins,
		MaxBins:    *maxBins,
		MaxPoints:  *maxPoints,
		Seed:       *seed,
	})
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

// thresholdFlag collects repeated name=min:max flags.
type thresholdFlag []render.Threshold

func (f *thresholdFlag) String() string {
	parts := make([]string, len(*f))
	for i, t := range *f {
		parts[i] = fmt.Sprintf("%s=%g:%g", t.Name, t.Min, t.Max)
	}
	return strings.Join(parts, ",")
}

func (f *thresholdFlag) Set(s string) error {
	t, err := parseThreshold(s)
	if err != nil {
		return err
	}
	*f = append(*f, t)
	return nil
}

func parseThreshold(s string) (render.Threshold, error) {
	name, bounds, ok := strings.Cut(s, "=")
	lo, hi, ok2 := strings.Cut(bounds, ":")
	if !ok || !ok2 || strings.TrimSpace(name) == "" {
		return render.Threshold{}, fmt.Errorf("invalid threshold %q, expected name=min:max", s)
	}
	lower, err := parseBound(lo, math.Inf(-1))
	if err != nil {
		return render.Threshold{}, fmt.Errorf("invalid threshold %q: %w", s, err)
	}
	upper, err := parseBound(hi, math.Inf(1))
	if err != nil {
		return render.Threshold{}, fmt.Errorf("invalid threshold %q: %w", s, err)
	}
	return render.Threshold{Name: strings.TrimSpace(name), Min: lower, Max: upper}, nil
}

// parseBound reads one end of a threshold; an empty end is open.
func parseBound(s string, open float64) (float64, error) {
	if s = strings.TrimSpace(s); s == "" {
		return open, nil
	}
	return strconv.ParseFloat(s, 64)
}

func cmdLegend(svc *service.PlotService, args []string) error {
	fs := flag.NewFlagSet("legend", flag.ExitOnError)
	basis := fs.String("basis", "umap", "embedding basis used for centroids")
	column := fs.String("column", "", "categorical obs column")
	filter := fs.String("only", "", "comma-separated categories to keep")
	out := fs.String("o", "", "write output to `file` (default: stdout)")
	fs.Parse(args)

	var categoryFilter []string
	if *filter != "" {
		categoryFilter = splitList(*filter)
	}

	entries, err := svc.Legend(*basis, *column, categoryFilter)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Printf("Wrote %s (%d bytes)", path, len(data))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	parts := splitList(s)
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid component %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseRange(vmin, vmax string) (*render.ValueRange, error) {
	if vmin == "" && vmax == "" {
		return nil, nil
	}
	if vmin == "" || vmax == "" {
		return nil, fmt.Errorf("-vmin and -vmax must be given together")
	}
	lo, err := strconv.ParseFloat(vmin, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid -vmin: %w", err)
	}
	hi, err := strconv.ParseFloat(vmax, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid -vmax: %w", err)
	}
	return &render.ValueRange{Min: lo, Max: hi}, nil
}
