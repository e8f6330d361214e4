// Package config handles configuration loading for the nmfscope server.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Selection SelectionConfig `yaml:"selection"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Store     StoreConfig     `yaml:"store"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DataConfig contains data source settings. NMF results are discovered in
// NMFDir unless Datasets lists them explicitly.
type DataConfig struct {
	NMFDir          string            `yaml:"nmf_dir"`
	FilePattern     string            `yaml:"file_pattern"`
	DefaultFile     string            `yaml:"default_file"`
	SampleIDColumn  string            `yaml:"sample_id_column"`
	EmbeddingPath   string            `yaml:"embedding_path"`
	ComponentColors string            `yaml:"component_colors"`
	CategoryColors  string            `yaml:"category_colors"`
	Groupings       map[string]string `yaml:"groupings"`
	Datasets        Datasets          `yaml:"datasets"`
}

// DatasetConfig is one explicitly configured NMF result.
type DatasetConfig struct {
	Path          string `yaml:"path"`
	EmbeddingPath string `yaml:"embedding_path"`
	DisplayName   string `yaml:"display_name"`
}

// Datasets keeps explicitly configured datasets in file order.
type Datasets struct {
	order []string
	byID  map[string]DatasetConfig
}

// UnmarshalYAML decodes a mapping of dataset id to DatasetConfig, keeping
// the order the ids appear in.
func (d *Datasets) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: datasets must be a mapping", node.Line)
	}
	d.order = nil
	d.byID = make(map[string]DatasetConfig)
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("dataset %q: %w", id, err)
		}
		if _, dup := d.byID[id]; dup {
			return fmt.Errorf("line %d: duplicate dataset %q", node.Content[i].Line, id)
		}
		d.order = append(d.order, id)
		d.byID[id] = ds
	}
	return nil
}

// MarshalYAML encodes the datasets in order.
func (d Datasets) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, id := range d.order {
		var v yaml.Node
		if err := v.Encode(d.byID[id]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: id}, &v)
	}
	return node, nil
}

// IDs returns the dataset ids in configuration order.
func (d Datasets) IDs() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Get returns one dataset.
func (d Datasets) Get(id string) (DatasetConfig, bool) {
	ds, ok := d.byID[id]
	return ds, ok
}

// Len returns the number of datasets.
func (d Datasets) Len() int { return len(d.order) }

// Add appends a dataset, replacing an existing one with the same id.
func (d *Datasets) Add(id string, ds DatasetConfig) {
	if d.byID == nil {
		d.byID = make(map[string]DatasetConfig)
	}
	if _, ok := d.byID[id]; !ok {
		d.order = append(d.order, id)
	}
	d.byID[id] = ds
}

// GroupingNames returns the configured grouping annotation names, sorted.
func (d DataConfig) GroupingNames() []string {
	names := make([]string, 0, len(d.Groupings))
	for name := range d.Groupings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectionConfig controls how selections are shown.
type SelectionConfig struct {
	DimOpacity     float64 `yaml:"dim_opacity"`
	EmbeddingMode  string  `yaml:"embedding_mode"`
	WarningHistory int     `yaml:"warning_history"`
}

// Embedding modes.
const (
	EmbeddingModeOpacity = "opacity"
	EmbeddingModeFilter  = "filter"
)

// CacheConfig contains caching settings.
type CacheConfig struct {
	PNGSizeMB      int `yaml:"png_size_mb"`
	PNGTTLMinutes  int `yaml:"png_ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	PointSize       float64 `yaml:"point_size"`
	HeatmapColormap string  `yaml:"heatmap_colormap"`
}

// StoreConfig contains saved-selection storage settings.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	// RetentionDays removes saved selections older than this; 0 keeps them
	// forever.
	RetentionDays int `yaml:"retention_days"`
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.Selection.DimOpacity < 0 || c.Selection.DimOpacity > 1 {
		return fmt.Errorf("selection.dim_opacity must be within [0,1], got %v", c.Selection.DimOpacity)
	}
	switch c.Selection.EmbeddingMode {
	case EmbeddingModeOpacity, EmbeddingModeFilter:
	default:
		return fmt.Errorf("selection.embedding_mode must be %q or %q, got %q",
			EmbeddingModeOpacity, EmbeddingModeFilter, c.Selection.EmbeddingMode)
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("store.retention_days must not be negative, got %d", c.Store.RetentionDays)
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "NMF Explorer",
		},
		Data: DataConfig{
			NMFDir:         "./comps",
			FilePattern:    "*.csv*",
			SampleIDColumn: "sample_id",
		},
		Selection: SelectionConfig{
			DimOpacity:     0.2,
			EmbeddingMode:  EmbeddingModeOpacity,
			WarningHistory: 64,
		},
		Cache: CacheConfig{
			PNGSizeMB:      128,
			PNGTTLMinutes:  10,
			QueryCacheSize: 256,
		},
		Render: RenderConfig{
			Width:           800,
			Height:          400,
			PointSize:       3,
			HeatmapColormap: "viridis",
		},
		Store: StoreConfig{
			SQLitePath: "./data/selections.db",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Data.NMFDir == "" && cfg.Data.Datasets.Len() == 0 {
		cfg.Data.NMFDir = defaults.Data.NMFDir
	}
	if cfg.Data.FilePattern == "" {
		cfg.Data.FilePattern = defaults.Data.FilePattern
	}
	if cfg.Data.SampleIDColumn == "" {
		cfg.Data.SampleIDColumn = defaults.Data.SampleIDColumn
	}
	if cfg.Selection.DimOpacity == 0 {
		cfg.Selection.DimOpacity = defaults.Selection.DimOpacity
	}
	if cfg.Selection.EmbeddingMode == "" {
		cfg.Selection.EmbeddingMode = defaults.Selection.EmbeddingMode
	}
	if cfg.Selection.WarningHistory == 0 {
		cfg.Selection.WarningHistory = defaults.Selection.WarningHistory
	}
	if cfg.Cache.PNGSizeMB == 0 {
		cfg.Cache.PNGSizeMB = defaults.Cache.PNGSizeMB
	}
	if cfg.Cache.PNGTTLMinutes == 0 {
		cfg.Cache.PNGTTLMinutes = defaults.Cache.PNGTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.PointSize == 0 {
		cfg.Render.PointSize = defaults.Render.PointSize
	}
	if cfg.Render.HeatmapColormap == "" {
		cfg.Render.HeatmapColormap = defaults.Render.HeatmapColormap
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
}
