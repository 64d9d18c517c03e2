package heatmap

import (
	"github.com/heatmap-tiles/server/internal/hierarchy"
	"github.com/heatmap-tiles/server/internal/matrix"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

// Axis names a heatmap dimension.
type Axis string

const (
	AxisColumns Axis = "columns"
	AxisRows    Axis = "rows"
)

// ParseAxis accepts "columns"/"column" and "rows"/"row".
func ParseAxis(s string) (Axis, bool) {
	switch s {
	case "columns", "column":
		return AxisColumns, true
	case "rows", "row":
		return AxisRows, true
	}
	return "", false
}

// DendrogramNode is one node of a dendrogram layout. Left and Right index
// into the node list, -1 when absent.
type DendrogramNode struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Center float64 `json:"center"`
	Depth  int     `json:"depth"`
	Leaf   string  `json:"leaf,omitempty"`
	Left   int     `json:"left"`
	Right  int     `json:"right"`
}

// Dendrogram is a flattened hierarchy; Nodes[0] is the root.
type Dendrogram struct {
	Depth int              `json:"depth"`
	Nodes []DendrogramNode `json:"nodes"`
}

// Metadata describes a dataset for renderers and clients.
type Metadata struct {
	Columns             int               `json:"columns"`
	Rows                int               `json:"rows"`
	Count               int               `json:"count"`
	ColumnLabels        []string          `json:"columnLabels"`
	RowLabels           []string          `json:"rowLabels"`
	DataType            datatype.DataType `json:"dataType"`
	Minimum             float64           `json:"minimum"`
	Maximum             float64           `json:"maximum"`
	Ready               bool              `json:"ready"`
	DendrogramEnabled   bool              `json:"dendrogramEnabled"`
	DendrogramAvailable bool              `json:"dendrogramAvailable"`
	SchemeValid         bool              `json:"schemeValid"`
	SchemeError         string            `json:"schemeError,omitempty"`
}

// Metadata returns labels in display order along with the value range.
func (d *Dataset) Metadata() Metadata {
	return Metadata{
		Columns:             len(d.columnLabels),
		Rows:                len(d.rowLabels),
		Count:               d.store.Count(),
		ColumnLabels:        displayLabels(d.columnLabels, d.columnOrder),
		RowLabels:           displayLabels(d.rowLabels, d.rowOrder),
		DataType:            d.dataType,
		Minimum:             d.minimum,
		Maximum:             d.maximum,
		Ready:               d.lifecycle.Ready(),
		DendrogramEnabled:   d.dendrogram,
		DendrogramAvailable: d.DendrogramAvailable(),
		SchemeValid:         d.scheme.Valid(),
		SchemeError:         d.scheme.Error(),
	}
}

func displayLabels(labels []string, p *matrix.Permutation) []string {
	out := make([]string, len(labels))
	for original, label := range labels {
		if pos := p.Display(original); pos >= 0 && pos < len(out) {
			out[pos] = label
		}
	}
	return out
}

// Dendrogram returns the layout of one axis; ok is false when that axis has
// no usable hierarchy or the dendrogram is disabled.
func (d *Dataset) Dendrogram(axis Axis) (Dendrogram, bool) {
	t := d.rowTree
	if axis == AxisColumns {
		t = d.columnTree
	}
	if t == nil || !d.dendrogram {
		return Dendrogram{}, false
	}
	return flatten(t), true
}

func flatten(t *hierarchy.Tree) Dendrogram {
	index := make(map[*hierarchy.Node]int)
	var nodes []DendrogramNode
	t.Walk(func(n *hierarchy.Node) bool {
		index[n] = len(nodes)
		dn := DendrogramNode{
			Start:  n.Range.Start,
			End:    n.Range.End,
			Center: n.Range.Center,
			Depth:  n.Depth,
			Left:   -1,
			Right:  -1,
		}
		if n.IsLeaf() {
			dn.Leaf = n.Leaf.Name
		}
		nodes = append(nodes, dn)
		return true
	})
	// Walk is parent-first, so children are indexed once the walk is done.
	t.Walk(func(n *hierarchy.Node) bool {
		i := index[n]
		if n.Left != nil {
			nodes[i].Left = index[n.Left]
		}
		if n.Right != nil {
			nodes[i].Right = index[n.Right]
		}
		return true
	})
	return Dendrogram{Depth: t.Depth(), Nodes: nodes}
}
