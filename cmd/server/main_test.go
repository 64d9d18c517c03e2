package main

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/heatmap-tiles/server/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    log.Level
		wantErr bool
	}{
		{"", log.InfoLevel, false},
		{"DEBUG", log.DebugLevel, false},
		{" warn ", log.WarnLevel, false},
		{"loud", log.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEngineConfigs(t *testing.T) {
	cfg := config.DefaultConfig()
	ds, rc, vc, err := engineConfigs(cfg)
	if err != nil {
		t.Fatalf("engineConfigs: %v", err)
	}
	if ds.Missing != 0xffffff || rc.Background != 0xffffff {
		t.Errorf("unexpected colors: missing=%v background=%v", ds.Missing, rc.Background)
	}
	if rc.TileSize != 256 || ds.ChunkSize != 10000 {
		t.Errorf("unexpected sizes: %+v %+v", rc, ds)
	}
	if vc.Animation != cfg.Viewport.Animation() {
		t.Errorf("animation = %v", vc.Animation)
	}

	cfg.Render.MissingColor = "not-a-color"
	if _, _, _, err := engineConfigs(cfg); err == nil {
		t.Error("expected error for invalid missing color")
	}

	cfg = config.DefaultConfig()
	cfg.Render.DefaultColormap = "rainbow-unicorn"
	if _, _, _, err := engineConfigs(cfg); err == nil {
		t.Error("expected error for unknown colormap")
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	payloadPath := filepath.Join(dir, "heatmap.json")
	out := filepath.Join(dir, "view.png")
	data := `{"columnLabels":["a","b"],"rowLabels":["x","y"],"cellValues":[1,2,3,4]}`
	if err := os.WriteFile(payloadPath, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"render", "--payload", payloadPath, "--out", out, "--width", "64", "--height", "32"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("render: %v", err)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("image bounds = %v", b)
	}
}

func TestRenderCommandRejectsBadWindow(t *testing.T) {
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"render", "--payload", "missing.json", "--window", "1,2"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for a two-value window")
	}
}
