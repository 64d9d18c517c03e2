package cache

import (
	"strings"
	"testing"
	"time"
)

func TestTileKey(t *testing.T) {
	base := TileKey("default", 0, 1, 2, "")

	t.Run("emptyVersion", func(t *testing.T) {
		want := "tile:default:0/1/2:0"
		if base != want {
			t.Fatalf("expected %q, got %q", want, base)
		}
	})

	t.Run("stableVersion", func(t *testing.T) {
		key1 := TileKey("default", 0, 1, 2, "number,continuous|1")
		key2 := TileKey("default", 0, 1, 2, "number,continuous|1")
		if key1 != key2 {
			t.Fatalf("expected stable key, got %q vs %q", key1, key2)
		}
		if key1 == base {
			t.Fatalf("expected versioned key to differ from base, got %q", key1)
		}
	})

	t.Run("datasetScoped", func(t *testing.T) {
		if TileKey("a", 0, 0, 0, "v") == TileKey("b", 0, 0, 0, "v") {
			t.Fatalf("keys of different datasets collide")
		}
	})
}

func TestViewAndQueryKeys(t *testing.T) {
	view := ViewKey("d", 0, 10.5, 2, 4, 800, 600, "v")
	if !strings.HasPrefix(view, "view:d:0,10.5,2,4:800x600:") {
		t.Fatalf("unexpected view key %q", view)
	}
	if QueryKey("d", "metadata", "", "v") == QueryKey("d", "dendrogram", "rows", "v") {
		t.Fatalf("query kinds collide")
	}
	if got := QueryKey("d", "dendrogram", "rows", ""); got != "q:d:dendrogram:rows:0" {
		t.Fatalf("unexpected query key %q", got)
	}
}

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 4})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if err := m.SetTile("k", []byte("png")); err != nil {
		t.Fatalf("SetTile: %v", err)
	}
	if got, ok := m.GetTile("k"); !ok || string(got) != "png" {
		t.Fatalf("GetTile = %q, %v", got, ok)
	}
	m.SetQuery("q", []byte("{}"))
	if _, ok := m.GetQuery("q"); !ok {
		t.Fatalf("query entry missing")
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok := m.GetTile("k"); ok {
		t.Fatalf("tile survived Reset")
	}
	if _, ok := m.GetQuery("q"); ok {
		t.Fatalf("query survived Reset")
	}
}
