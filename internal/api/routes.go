// Package api provides HTTP handlers for the heatmap tile server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/heatmap-tiles/server/internal/heatmap"
	"github.com/heatmap-tiles/server/internal/matrix"
	"github.com/heatmap-tiles/server/internal/scheduler"
	"github.com/heatmap-tiles/server/internal/service"
	"github.com/heatmap-tiles/server/pkg/colormap"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

const (
	defaultHoverRadius = 2.0
	defaultHoverLimit  = 16
	maxStateBytes      = 1 << 20
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	// Quiet disables request logging.
	Quiet bool
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	if !cfg.Quiet {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		// Image endpoints
		r.Get("/tiles/{z}/{x}/{y}.png", tileHandler)
		r.Get("/view.png", viewHandler)
		r.Get("/dendrogram/{axis}.png", dendrogramImageHandler)

		// API endpoints
		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", metadataHandler)
			r.Get("/cells/{column}/{row}", cellHandler)
			r.Put("/cells/{column}/{row}", setCellHandler)
			r.Get("/hover", hoverHandler)
			r.Get("/dendrogram/{axis}", dendrogramHandler)
			r.Put("/dendrogram", setDendrogramHandler)
			r.Get("/state", stateHandler)
			r.Put("/state", setStateHandler)
			r.Get("/color", colorHandler)
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the heatmap
// service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.HeatmapService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.HeatmapService); ok {
		return svc
	}
	return nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrDatasetNotReady):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, colormap.ErrMalformedState):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, scheduler.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writePNG writes an image tagged with the dataset version so clients can
// revalidate after the data or scheme changed.
func writePNG(w http.ResponseWriter, r *http.Request, svc *service.HeatmapService, data []byte) {
	etag := `"` + svc.DatasetID() + "-" + svc.Version() + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

func intParams(r *http.Request, names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		v, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			return nil, errors.New("invalid " + name)
		}
		out[i] = v
	}
	return out, nil
}

// floatQuery reads a finite float query parameter, returning def when absent.
func floatQuery(q url.Values, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

func intQuery(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

func tileHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	p, err := intParams(r, "z", "x", "y")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := svc.Tile(r.Context(), p[0], p[1], p[2])
	if err != nil {
		writeError(w, err)
		return
	}
	writePNG(w, r, svc, data)
}

func viewHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	q := r.URL.Query()
	var req service.ViewRequest
	var err error
	for _, f := range []struct {
		name string
		dst  *float64
	}{{"c1", &req.C1}, {"c2", &req.C2}, {"r1", &req.R1}, {"r2", &req.R2}} {
		if *f.dst, err = floatQuery(q, f.name, 0); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Width, err = intQuery(q, "w", 512); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Height, err = intQuery(q, "h", 512); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := svc.View(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writePNG(w, r, svc, data)
}

func axisParam(w http.ResponseWriter, r *http.Request) (heatmap.Axis, bool) {
	axis, ok := heatmap.ParseAxis(chi.URLParam(r, "axis"))
	if !ok {
		http.Error(w, "invalid axis: "+chi.URLParam(r, "axis"), http.StatusBadRequest)
	}
	return axis, ok
}

func dendrogramImageHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	axis, ok := axisParam(w, r)
	if !ok {
		return
	}
	length, err := intQuery(r.URL.Query(), "length", 512)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	thickness, err := intQuery(r.URL.Query(), "thickness", 128)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := svc.DendrogramPNG(r.Context(), axis, length, thickness)
	if err != nil {
		writeError(w, err)
		return
	}
	writePNG(w, r, svc, data)
}

func metadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	data, err := svc.MetadataJSON(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, data)
}

func cellHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	p, err := intParams(r, "column", "row")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, ok, err := svc.Cell(r.Context(), p[0], p[1])
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "cell not found", http.StatusNotFound)
		return
	}
	writeJSON(w, c)
}

type setCellRequest struct {
	Value      datatype.Value `json:"value"`
	Annotation string         `json:"annotation"`
}

// setCellHandler writes one cell addressed by original column and row and
// returns the display rectangle that needs redrawing.
func setCellHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	p, err := intParams(r, "column", "row")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req setCellRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxStateBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Value.IsZero() {
		http.Error(w, "missing value", http.StatusBadRequest)
		return
	}
	rect, ok, err := svc.SetCell(r.Context(), matrix.Cell{Column: p[0], Row: p[1], Value: req.Value, Annotation: req.Annotation})
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "cell out of range", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"column": rect.Column,
		"row":    rect.Row,
		"width":  rect.Width,
		"height": rect.Height,
		"value":  rect.Value,
	})
}

func hoverHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	q := r.URL.Query()
	column, err := floatQuery(q, "column", math.NaN())
	if err != nil || math.IsNaN(column) {
		http.Error(w, "invalid column", http.StatusBadRequest)
		return
	}
	row, err := floatQuery(q, "row", math.NaN())
	if err != nil || math.IsNaN(row) {
		http.Error(w, "invalid row", http.StatusBadRequest)
		return
	}
	radius, err := floatQuery(q, "radius", defaultHoverRadius)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intQuery(q, "limit", defaultHoverLimit)
	if err != nil || limit <= 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	cells, err := svc.Hover(r.Context(), matrix.Point{Column: column, Row: row}, radius, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if cells == nil {
		cells = []matrix.Cell{}
	}
	writeJSON(w, map[string]any{"cells": cells})
}

func dendrogramHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	axis, ok := axisParam(w, r)
	if !ok {
		return
	}
	data, err := svc.DendrogramJSON(r.Context(), axis)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, data)
}

func setDendrogramHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxStateBytes)).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, "body must be {\"enabled\": bool}", http.StatusBadRequest)
		return
	}
	if err := svc.SetDendrogramEnabled(r.Context(), *req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"enabled": *req.Enabled})
}

func stateHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	state, err := svc.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"state": state})
}

// setStateHandler accepts {"state": "..."} or the raw state string.
func setStateHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStateBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	state := strings.TrimSpace(string(body))
	if strings.HasPrefix(state, "{") {
		var req struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		state = req.State
	}
	rec, err := svc.SetState(r.Context(), state)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

func colorHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	raw, present := r.URL.Query()["value"]
	if !present || len(raw) == 0 {
		http.Error(w, "missing required query param: value", http.StatusBadRequest)
		return
	}
	c, ok, err := svc.ColorFor(r.Context(), raw[0])
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"value": raw[0], "visible": ok}
	if ok {
		resp["color"] = c.Hex()
	}
	writeJSON(w, resp)
}
