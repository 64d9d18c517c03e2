package main

import (
	"fmt"

	"github.com/heatmap-tiles/server/internal/config"
	"github.com/heatmap-tiles/server/internal/heatmap"
	"github.com/heatmap-tiles/server/internal/render"
	"github.com/heatmap-tiles/server/internal/viewport"
	"github.com/heatmap-tiles/server/pkg/colormap"
)

// engineConfigs derives the per-dataset engine, renderer and viewport
// settings from the server configuration.
func engineConfigs(cfg *config.Config) (heatmap.Config, render.Config, viewport.Config, error) {
	missing, err := colormap.ParseHex(cfg.Render.MissingColor)
	if err != nil {
		return heatmap.Config{}, render.Config{}, viewport.Config{}, fmt.Errorf("render.missing_color: %w", err)
	}
	background, err := colormap.ParseHex(cfg.Render.Background)
	if err != nil {
		return heatmap.Config{}, render.Config{}, viewport.Config{}, fmt.Errorf("render.background: %w", err)
	}
	if _, ok := colormap.Named(cfg.Render.DefaultColormap); !ok {
		return heatmap.Config{}, render.Config{}, viewport.Config{}, fmt.Errorf("render.default_colormap: unknown colormap %q", cfg.Render.DefaultColormap)
	}

	ds := heatmap.Config{
		BlockSize:       cfg.Render.BlockSize,
		ChunkSize:       cfg.Render.ChunkSize,
		DefaultColormap: cfg.Render.DefaultColormap,
		Missing:         missing,
	}
	rc := render.Config{
		TileSize:   cfg.Render.TileSize,
		Background: background,
	}
	vc := viewport.Config{
		Animation:    cfg.Viewport.Animation(),
		MinTickSize:  cfg.Viewport.MinTickSize,
		MaxTickSize:  cfg.Viewport.MaxTickSize,
		MinFootprint: cfg.Viewport.MinFootprintPx,
	}
	return ds, rc, vc, nil
}
