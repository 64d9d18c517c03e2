// Package payload reads heatmap payloads and clustering files from disk.
//
// A payload is the JSON document produced by the upstream matrix API:
// labels, the cell value type, the value range and a row-major cellValues
// array. Files ending in ".zst" are zstd-compressed.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedFormat is returned for files that are neither JSON nor
// zstd-compressed JSON.
var ErrUnsupportedFormat = errors.New("payload: unsupported format")

// Payload is a serialized heatmap.
type Payload struct {
	RowLabels     []string `json:"rowLabels"`
	ColumnLabels  []string `json:"columnLabels"`
	CellValueType string   `json:"cellValueType"`
	MinCellValue  *float64 `json:"minCellValue,omitempty"`
	MaxCellValue  *float64 `json:"maxCellValue,omitempty"`
	// CellValues is row-major: either flat with len(RowLabels)*len(ColumnLabels)
	// entries or one nested array per row. null marks an empty cell.
	CellValues []any `json:"cellValues"`
	// Cells holds raw rows, each [column, row, value, annotation?] or an
	// object with the same keys.
	Cells []any `json:"cells,omitempty"`
}

// Clustering holds the row and column hierarchies as decoded JSON.
type Clustering struct {
	Columns any `json:"columns"`
	Rows    any `json:"rows"`
}

// Reader decodes payload files. It is safe for concurrent use.
type Reader struct {
	mu      sync.Mutex
	decoder *zstd.Decoder
}

// NewReader creates a reader with its own zstd decoder.
func NewReader() (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Reader{decoder: decoder}, nil
}

// Close releases the decoder.
func (r *Reader) Close() {
	r.decoder.Close()
}

// readFile returns the uncompressed bytes of path.
func (r *Reader) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return r.Decode(filepath.Base(path), data)
}

// Decode uncompresses data according to name's extension.
func (r *Reader) Decode(name string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".zst"):
		r.mu.Lock()
		out, err := r.decoder.DecodeAll(data, nil)
		r.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("zstd decompress failed: %w", err)
		}
		return out, nil
	case strings.HasSuffix(name, ".json"):
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// Load reads a payload file.
func (r *Reader) Load(path string) (*Payload, error) {
	data, err := r.readFile(path)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := decodeJSON(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse payload %s: %w", path, err)
	}
	return &p, nil
}

// LoadClustering reads a clustering file.
func (r *Reader) LoadClustering(path string) (*Clustering, error) {
	data, err := r.readFile(path)
	if err != nil {
		return nil, err
	}
	var c Clustering
	if err := decodeJSON(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse clustering %s: %w", path, err)
	}
	return &c, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}
