// Package config handles configuration loading for embedplot.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the embedplot configuration.
type Config struct {
	Data   DataConfig   `yaml:"data"`
	Render RenderConfig `yaml:"render"`
	Cache  CacheConfig  `yaml:"cache"`
	Output OutputConfig `yaml:"output"`
}

// DatasetConfig locates one dataset file.
type DatasetConfig struct {
	Path string `yaml:"path"`
}

// DataConfig contains the configured datasets. Datasets keep their YAML
// order and the first one is the default.
type DataConfig struct {
	Datasets       map[string]DatasetConfig `yaml:"-"`
	DefaultDataset string                   `yaml:"-"`
	order          []string
}

// DatasetIDs returns all dataset IDs in config order.
func (d DataConfig) DatasetIDs() []string {
	return d.order
}

// UnmarshalYAML accepts either a single legacy `path:` entry, which becomes
// the "default" dataset, or a mapping of dataset IDs to DatasetConfig.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected mapping, got line %d", node.Line)
	}

	d.Datasets = make(map[string]DatasetConfig)
	d.order = nil

	var legacy DatasetConfig
	isLegacy := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Value == "path" && value.Kind == yaml.ScalarNode {
			legacy.Path = value.Value
			isLegacy = true
			continue
		}
		var ds DatasetConfig
		if err := value.Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", key.Value, err)
		}
		d.Datasets[key.Value] = ds
		d.order = append(d.order, key.Value)
	}

	if isLegacy {
		d.Datasets = map[string]DatasetConfig{"default": legacy}
		d.order = []string{"default"}
	}
	if len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	MaxPoints int    `yaml:"max_points"`
	Seed      uint64 `yaml:"seed"`
	Palette   string `yaml:"palette"`
	// PaletteColors replaces the named palette when set.
	PaletteColors []string `yaml:"palette_colors"`
	Gradient      string   `yaml:"gradient"`
	NaNColor      string   `yaml:"nan_color"`
	IDKey         string   `yaml:"id_key"`
	// Workers bounds concurrent renders in batch mode.
	Workers int `yaml:"workers"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	SpecSizeMB     int `yaml:"spec_size_mb"`
	SpecTTLMinutes int `yaml:"spec_ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// OutputConfig contains output settings.
type OutputConfig struct {
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Datasets:       map[string]DatasetConfig{"default": {Path: "./data/adata.json"}},
			DefaultDataset: "default",
			order:          []string{"default"},
		},
		Render: RenderConfig{
			MaxPoints: 5000,
			Seed:      0,
			Palette:   "tab20",
			Gradient:  "viridis",
			NaNColor:  "#d3d3d3",
			IDKey:     "name",
			Workers:   4,
		},
		Cache: CacheConfig{
			SpecSizeMB:     256,
			SpecTTLMinutes: 10,
			QueryCacheSize: 1000,
		},
		Output: OutputConfig{
			Format: "json",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Render.MaxPoints == 0 {
		cfg.Render.MaxPoints = defaults.Render.MaxPoints
	}
	if cfg.Render.Palette == "" {
		cfg.Render.Palette = defaults.Render.Palette
	}
	if cfg.Render.Gradient == "" {
		cfg.Render.Gradient = defaults.Render.Gradient
	}
	if cfg.Render.NaNColor == "" {
		cfg.Render.NaNColor = defaults.Render.NaNColor
	}
	if cfg.Render.IDKey == "" {
		cfg.Render.IDKey = defaults.Render.IDKey
	}
	if cfg.Render.Workers <= 0 {
		cfg.Render.Workers = defaults.Render.Workers
	}
	if cfg.Cache.SpecSizeMB == 0 {
		cfg.Cache.SpecSizeMB = defaults.Cache.SpecSizeMB
	}
	if cfg.Cache.SpecTTLMinutes == 0 {
		cfg.Cache.SpecTTLMinutes = defaults.Cache.SpecTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = defaults.Output.Format
	}
}
