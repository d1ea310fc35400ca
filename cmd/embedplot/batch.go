package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/atlasmap-sc/embedplot/internal/config"
	"github.com/atlasmap-sc/embedplot/internal/render"
	"github.com/atlasmap-sc/embedplot/internal/service"
)

// Plan lists plots rendered in one run.
type Plan struct {
	Plots []PlotEntry `yaml:"plots"`
}

// PlotEntry describes one plot of a Plan. Kind is scatter, linked, hist or
// thresh. Name doubles as the output file name.
type PlotEntry struct {
	Name          string    `yaml:"name"`
	Kind          string    `yaml:"kind"`
	Basis         string    `yaml:"basis"`
	Bases         []string  `yaml:"bases"`
	Components    []int     `yaml:"components"`
	Color         string    `yaml:"color"`
	Hover         []string  `yaml:"hover"`
	MaxPoints     int       `yaml:"max_points"`
	Seed          *uint64   `yaml:"seed"`
	Hulls         bool      `yaml:"hulls"`
	HullNeighbors int       `yaml:"hull_neighbors"`
	Gradient      string    `yaml:"gradient"`
	Range         []float64 `yaml:"range"`

	// Distance colors a linked plot by distance from a root cell.
	Distance *DistanceEntry `yaml:"distance"`

	Key        string             `yaml:"key"`
	GroupBy    []string           `yaml:"group_by"`
	Bins       int                `yaml:"bins"`
	MinBins    int                `yaml:"min_bins"`
	MaxBins    int                `yaml:"max_bins"`
	DisplayAll *bool              `yaml:"display_all"`
	Thresholds []render.Threshold `yaml:"thresholds"`
}

// DistanceEntry mirrors service.DistanceRequest in a plan.
type DistanceEntry struct {
	Basis  string   `yaml:"basis"`
	Root   *int     `yaml:"root"`
	P      float64  `yaml:"p"`
	Cutoff *float64 `yaml:"cutoff"`
	Only   string   `yaml:"only"`
}

// LoadPlan reads and validates a batch plan.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan and checks each entry.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(plan.Plots) == 0 {
		return nil, fmt.Errorf("plan has no plots")
	}

	seen := make(map[string]bool, len(plan.Plots))
	for i := range plan.Plots {
		p := &plan.Plots[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("plot%d", i+1)
		}
		if err := checkName(p.Name); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate plot name %q", p.Name)
		}
		seen[p.Name] = true

		switch p.Kind {
		case "", "scatter":
			p.Kind = "scatter"
			if p.Basis == "" {
				return nil, fmt.Errorf("plot %q: basis is required", p.Name)
			}
		case "linked":
			if len(p.Bases) == 0 {
				return nil, fmt.Errorf("plot %q: bases are required", p.Name)
			}
			if p.Distance != nil && p.Distance.Basis == "" {
				return nil, fmt.Errorf("plot %q: distance basis is required", p.Name)
			}
		case "hist", "thresh":
			if p.Key == "" {
				return nil, fmt.Errorf("plot %q: key is required", p.Name)
			}
			if p.Kind == "thresh" && len(p.Thresholds) == 0 {
				return nil, fmt.Errorf("plot %q: thresholds are required", p.Name)
			}
			if p.MinBins == 0 {
				p.MinBins = 1
			}
			if p.MaxBins == 0 {
				p.MaxBins = 1000
			}
		default:
			return nil, fmt.Errorf("plot %q: unknown kind %q", p.Name, p.Kind)
		}
		if p.Range != nil && len(p.Range) != 2 {
			return nil, fmt.Errorf("plot %q: range needs exactly two values", p.Name)
		}
	}
	return &plan, nil
}

// checkName rejects names that would place output outside the output
// directory.
func checkName(name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid plot name %q: must not contain a path separator", name)
	}
	return nil
}

// renderEntry renders one plan entry with the service.
func renderEntry(svc *service.PlotService, p PlotEntry, defaultSeed uint64) ([]byte, error) {
	seed := defaultSeed
	if p.Seed != nil {
		seed = *p.Seed
	}

	switch p.Kind {
	case "linked":
		req := service.LinkedRequest{
			Bases:      p.Bases,
			Components: p.Components,
			Color:      p.Color,
			Hover:      p.Hover,
			MaxPoints:  p.MaxPoints,
			Seed:       seed,
			Gradient:   p.Gradient,
		}
		if d := p.Distance; d != nil {
			req.Distance = &service.DistanceRequest{Basis: d.Basis, Root: d.Root, P: d.P, Cutoff: d.Cutoff, Only: d.Only}
		}
		return svc.Linked(req)
	case "thresh":
		return svc.Thresholds(service.ThresholdRequest{
			Key:        p.Key,
			Thresholds: p.Thresholds,
			Bases:      p.Bases,
			Components: p.Components,
			Bins:       p.Bins,
			MinBins:    p.MinBins,
			MaxBins:    p.MaxBins,
			MaxPoints:  p.MaxPoints,
			Seed:       seed,
		})
	case "hist":
		displayAll := true
		if p.DisplayAll != nil {
			displayAll = *p.DisplayAll
		}
		return svc.Histogram(service.HistogramRequest{
			Key:        p.Key,
			GroupBy:    p.GroupBy,
			Bins:       p.Bins,
			MinBins:    p.MinBins,
			MaxBins:    p.MaxBins,
			DisplayAll: displayAll,
		})
	default:
		var valueRange *render.ValueRange
		if len(p.Range) == 2 {
			valueRange = &render.ValueRange{Min: p.Range[0], Max: p.Range[1]}
		}
		return svc.Scatter(service.ScatterRequest{
			Basis:         p.Basis,
			Components:    p.Components,
			Color:         p.Color,
			Hover:         p.Hover,
			MaxPoints:     p.MaxPoints,
			Seed:          seed,
			Hulls:         p.Hulls,
			HullNeighbors: p.HullNeighbors,
			Range:         valueRange,
			Gradient:      p.Gradient,
		})
	}
}

// runPlan renders every entry into dir as <name>.<format>, using up to
// workers concurrent renders. The first failure is returned after all
// workers have drained.
func runPlan(svc *service.PlotService, plan *Plan, dir string, defaultSeed uint64, workers int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if workers <= 0 {
		workers = 1
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	queue := make(chan PlotEntry, len(plan.Plots))
	for _, p := range plan.Plots {
		queue <- p
	}
	close(queue)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range queue {
				if err := writeEntry(svc, p, dir, defaultSeed); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func writeEntry(svc *service.PlotService, p PlotEntry, dir string, defaultSeed uint64) error {
	data, err := renderEntry(svc, p, defaultSeed)
	if err != nil {
		return fmt.Errorf("plot %q: %w", p.Name, err)
	}
	path := filepath.Join(dir, p.Name+"."+string(svc.Format()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Printf("[%s] %s %s -> %s (%d bytes)", svc.DatasetID(), p.Kind, p.Name, path, len(data))
	return nil
}

func cmdBatch(svc *service.PlotService, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	planPath := fs.String("plan", "plots.yaml", "YAML plan listing the plots to render")
	outDir := fs.String("o", ".", "output `directory`")
	workers := fs.Int("workers", cfg.Render.Workers, "concurrent renders")
	fs.Parse(args)

	plan, err := LoadPlan(*planPath)
	if err != nil {
		return err
	}
	return runPlan(svc, plan, *outDir, cfg.Render.Seed, *workers)
}
