package colormap

import "sort"

// Gradient stops. Sampled from matplotlib where applicable.
var gradientTables = map[string][]string{
	"viridis": {
		"#440154", "#482374", "#404387", "#345e8d", "#29788e", "#20908c",
		"#22a784", "#44be70", "#79d151", "#bdde26", "#fde725",
	},
	"plasma": {
		"#0d0887", "#4b03a1", "#7d03a8", "#a82296", "#cb4679",
		"#e56b5d", "#f89441", "#fdc328", "#f0f921",
	},
	"inferno": {
		"#000004", "#280b54", "#65156e", "#9f2a63",
		"#d44842", "#f57d15", "#fac127", "#fcffa4",
	},
	"magma": {
		"#000004", "#1c1044", "#4f127b", "#812581", "#b5367a",
		"#e55064", "#fb8761", "#fec287", "#fcfdbf",
	},
	// Seurat FeaturePlot default.
	"seurat": {"#d3d3d3", "#ff0000"},
	"rdylbu": {
		"#a50026", "#d73027", "#f46d43", "#fdae61", "#fee090", "#ffffbf",
		"#e0f3f8", "#abd9e9", "#74add1", "#4575b4", "#313695",
	},
}

var paletteTables = map[string][]string{
	"tab20": {
		"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
		"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
		"#aec7e8", "#ffbb78", "#98df8a", "#ff9896", "#c5b0d5",
		"#c49c94", "#f7b6d2", "#c7c7c7", "#dbdb8d", "#9edae5",
	},
	// Set1[9] + Set2[8] + Set3[12]
	"set123": {
		"#e41a1c", "#377eb8", "#4daf4a", "#984ea3", "#ff7f00", "#ffff33",
		"#a65628", "#f781bf", "#999999",
		"#66c2a5", "#fc8d62", "#8da0cb", "#e78ac3", "#a6d854", "#ffd92f",
		"#e5c494", "#b3b3b3",
		"#8dd3c7", "#ffffb3", "#bebada", "#fb8072", "#80b1d3", "#fdb462",
		"#b3de69", "#fccde5", "#d9d9d9", "#bc80bd", "#ccebc5", "#ffed6f",
	},
}

// GradientByName returns a fresh copy of a named gradient.
func GradientByName(name string) (Gradient, bool) {
	stops, ok := gradientTables[name]
	if !ok {
		return Gradient{}, false
	}
	g, err := NewGradient(name, stops)
	if err != nil {
		return Gradient{}, false
	}
	return g, true
}

// PaletteByName returns a fresh copy of a named palette.
func PaletteByName(name string) (Palette, bool) {
	colors, ok := paletteTables[name]
	if !ok {
		return Palette{}, false
	}
	p, err := NewPalette(name, colors)
	if err != nil {
		return Palette{}, false
	}
	return p, true
}

// GradientNames lists the built-in gradients.
func GradientNames() []string { return sortedKeys(gradientTables) }

// PaletteNames lists the built-in palettes.
func PaletteNames() []string { return sortedKeys(paletteTables) }

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
