// Package config handles configuration loading for the heatmap tile server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Cache    CacheConfig    `yaml:"cache"`
	Render   RenderConfig   `yaml:"render"`
	Viewport ViewportConfig `yaml:"viewport"`
	State    StateConfig    `yaml:"state"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DatasetConfig locates the files of one dataset.
type DatasetConfig struct {
	PayloadPath    string `yaml:"payload_path"`
	ClusteringPath string `yaml:"clustering_path"`
}

// DataConfig contains data source settings. In YAML it is either a single
// dataset (payload_path, clustering_path) or a map of dataset id to dataset;
// map order is kept and the first dataset is the default.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig
	order          []string
}

// DatasetIDs returns dataset ids in configuration order.
func (d DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

// UnmarshalYAML decodes both the legacy and the multi-dataset layouts.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got %v", node.Tag)
	}
	d.Datasets = make(map[string]DatasetConfig)
	d.order = nil

	var legacy DatasetConfig
	isLegacy := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "payload_path", "clustering_path":
			isLegacy = true
			continue
		}
		if value.Kind != yaml.MappingNode {
			return fmt.Errorf("data.%s: expected a mapping", key)
		}
		var ds DatasetConfig
		if err := value.Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", key, err)
		}
		d.add(key, ds)
	}
	if isLegacy {
		if err := node.Decode(&legacy); err != nil {
			return err
		}
		d.add("default", legacy)
	}
	return nil
}

func (d *DataConfig) add(id string, ds DatasetConfig) {
	if _, dup := d.Datasets[id]; !dup {
		d.order = append(d.order, id)
	}
	d.Datasets[id] = ds
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int `yaml:"tile_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// RenderConfig contains rendering and engine settings.
type RenderConfig struct {
	TileSize        int    `yaml:"tile_size"`
	BlockSize       int    `yaml:"block_size"`
	ChunkSize       int    `yaml:"chunk_size"`
	DefaultColormap string `yaml:"default_colormap"`
	MissingColor    string `yaml:"missing_color"`
	Background      string `yaml:"background"`
}

// ViewportConfig contains zoom limits and animation timing.
type ViewportConfig struct {
	MinTickSize    float64 `yaml:"min_tick_size"`
	MaxTickSize    float64 `yaml:"max_tick_size"`
	MinFootprintPx float64 `yaml:"min_footprint_px"`
	AnimationMs    int     `yaml:"animation_ms"`
	FrameMs        int     `yaml:"frame_ms"`
}

// Animation returns the animation duration.
func (v ViewportConfig) Animation() time.Duration {
	return time.Duration(v.AnimationMs) * time.Millisecond
}

// Frame returns the frame loop interval.
func (v ViewportConfig) Frame() time.Duration {
	return time.Duration(v.FrameMs) * time.Millisecond
}

// StateConfig contains view state persistence settings.
type StateConfig struct {
	SQLitePath       string `yaml:"sqlite_path"`
	HistoryRetention int    `yaml:"history_retention_days"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
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
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Heatmap",
		},
		Cache: CacheConfig{
			TileSizeMB:     512,
			TileTTLMinutes: 10,
			QueryCacheSize: 1000,
		},
		Render: RenderConfig{
			TileSize:        256,
			BlockSize:       512,
			ChunkSize:       10000,
			DefaultColormap: "viridis",
			MissingColor:    "#ffffff",
			Background:      "#ffffff",
		},
		Viewport: ViewportConfig{
			MinTickSize:    1e-6,
			MaxTickSize:    1000,
			MinFootprintPx: 0,
			AnimationMs:    250,
			FrameMs:        16,
		},
		State: StateConfig{
			SQLitePath:       "./data/state.db",
			HistoryRetention: 30,
		},
		Log: LogConfig{Level: "info"},
	}
	cfg.Data.add("default", DatasetConfig{PayloadPath: "./data/heatmap.json"})
	return cfg
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
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.BlockSize == 0 {
		cfg.Render.BlockSize = defaults.Render.BlockSize
	}
	if cfg.Render.ChunkSize == 0 {
		cfg.Render.ChunkSize = defaults.Render.ChunkSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.MissingColor == "" {
		cfg.Render.MissingColor = defaults.Render.MissingColor
	}
	if cfg.Render.Background == "" {
		cfg.Render.Background = defaults.Render.Background
	}
	if cfg.Viewport.MinTickSize == 0 {
		cfg.Viewport.MinTickSize = defaults.Viewport.MinTickSize
	}
	if cfg.Viewport.MaxTickSize == 0 {
		cfg.Viewport.MaxTickSize = defaults.Viewport.MaxTickSize
	}
	if cfg.Viewport.AnimationMs == 0 {
		cfg.Viewport.AnimationMs = defaults.Viewport.AnimationMs
	}
	if cfg.Viewport.FrameMs == 0 {
		cfg.Viewport.FrameMs = defaults.Viewport.FrameMs
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = defaults.State.SQLitePath
	}
	if cfg.State.HistoryRetention == 0 {
		cfg.State.HistoryRetention = defaults.State.HistoryRetention
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}
