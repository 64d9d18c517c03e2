package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/heatmap-tiles/server/internal/config"
	"github.com/heatmap-tiles/server/internal/data/payload"
	"github.com/heatmap-tiles/server/internal/heatmap"
	"github.com/heatmap-tiles/server/internal/render"
	"github.com/heatmap-tiles/server/internal/scheduler"
	"github.com/heatmap-tiles/server/internal/service"
)

type renderOptions struct {
	configPath     string
	payloadPath    string
	clusteringPath string
	state          string
	stateFile      string
	out            string
	width, height  int
	window         []float64
	dendrogram     bool
}

func newRenderCmd() *cobra.Command {
	opts := renderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a heatmap payload to a PNG file",
		Example: `  heatmap-server render --payload data/heatmap.json --out heatmap.png
  heatmap-server render --payload data/heatmap.json --clustering data/tree.json \
      --window 0,100,0,50 --width 800 --height 400 --out zoomed.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration file for engine and render settings")
	cmd.Flags().StringVar(&opts.payloadPath, "payload", "", "payload JSON file (may be zstd compressed)")
	cmd.Flags().StringVar(&opts.clusteringPath, "clustering", "", "clustering JSON file")
	cmd.Flags().StringVar(&opts.state, "state", "", "serialized view state to apply before rendering")
	cmd.Flags().StringVar(&opts.stateFile, "state-file", "", "file containing a serialized view state")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "heatmap.png", "output PNG path")
	cmd.Flags().IntVar(&opts.width, "width", 1024, "image width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", 1024, "image height in pixels")
	cmd.Flags().Float64SliceVar(&opts.window, "window", nil, "data window c1,c2,r1,r2; the whole matrix when omitted")
	cmd.Flags().BoolVar(&opts.dendrogram, "dendrogram", false, "also write column and row dendrogram PNGs next to the output")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func runRender(ctx context.Context, cmd *cobra.Command, opts renderOptions) error {
	logger := loggerFrom(cmd)

	if opts.window != nil && len(opts.window) != 4 {
		return fmt.Errorf("--window needs four values c1,c2,r1,r2, got %d", len(opts.window))
	}
	if opts.state != "" && opts.stateFile != "" {
		return fmt.Errorf("--state and --state-file are mutually exclusive")
	}

	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	dsCfg, renderCfg, vpCfg, err := engineConfigs(cfg)
	if err != nil {
		return err
	}

	reader, err := payload.NewReader()
	if err != nil {
		return err
	}
	defer reader.Close()

	loop := scheduler.NewLoop(cfg.Viewport.Frame())
	loop.Start(ctx)
	defer loop.Stop()

	svc := service.NewHeatmapService(service.HeatmapServiceConfig{
		PayloadPath:    opts.payloadPath,
		ClusteringPath: opts.clusteringPath,
		Reader:         reader,
		Runner:         loop,
		Renderer:       render.NewTileRenderer(renderCfg),
		Dataset:        dsCfg,
		Viewport:       vpCfg,
		Logger:         logger,
	})
	report, err := svc.Load(ctx)
	if err != nil {
		return err
	}
	if !report.Completed {
		return fmt.Errorf("ingestion of %s did not complete", opts.payloadPath)
	}

	state := opts.state
	if opts.stateFile != "" {
		raw, err := os.ReadFile(opts.stateFile)
		if err != nil {
			return fmt.Errorf("failed to read state file: %w", err)
		}
		state = strings.TrimSpace(string(raw))
	}
	if state != "" {
		if _, err := svc.SetState(ctx, state); err != nil {
			return fmt.Errorf("failed to apply state: %w", err)
		}
	}

	if opts.dendrogram {
		if err := svc.SetDendrogramEnabled(ctx, true); err != nil {
			return err
		}
	}

	req := service.ViewRequest{Width: opts.width, Height: opts.height}
	if len(opts.window) == 4 {
		req.C1, req.C2, req.R1, req.R2 = opts.window[0], opts.window[1], opts.window[2], opts.window[3]
	}
	data, err := svc.View(ctx, req)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.out, err)
	}
	logger.Info("wrote view", "path", opts.out, "width", opts.width, "height", opts.height, "bytes", len(data))

	if opts.dendrogram {
		if err := writeDendrograms(ctx, svc, opts, logger); err != nil {
			return err
		}
	}
	return nil
}

// writeDendrograms writes <out>.columns.png and <out>.rows.png for the axes
// that carry a hierarchy.
func writeDendrograms(ctx context.Context, svc *service.HeatmapService, opts renderOptions, logger *log.Logger) error {
	base := strings.TrimSuffix(opts.out, filepath.Ext(opts.out))
	for _, axis := range []heatmap.Axis{heatmap.AxisColumns, heatmap.AxisRows} {
		if _, ok, err := svc.Dendrogram(ctx, axis); err != nil {
			return err
		} else if !ok {
			logger.Debug("no dendrogram", "axis", axis)
			continue
		}
		length := opts.width
		if axis == heatmap.AxisRows {
			length = opts.height
		}
		data, err := svc.DendrogramPNG(ctx, axis, length, 120)
		if err != nil {
			return err
		}
		path := fmt.Sprintf("%s.%s.png", base, axis)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		logger.Info("wrote dendrogram", "path", path, "axis", axis)
	}
	return nil
}
