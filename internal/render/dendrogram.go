package render

import (
	"image/color"

	"github.com/fogleman/gg"

	"github.com/heatmap-tiles/server/internal/heatmap"
)

// RenderDendrogram draws dg as elbow connectors. For the column axis leaves
// run left to right and the root sits at the top; for rows leaves run top to
// bottom and the root is on the left. length is the pixel extent along the
// leaves, thickness the extent along depth.
func (r *TileRenderer) RenderDendrogram(dg heatmap.Dendrogram, axis heatmap.Axis, length, thickness int) ([]byte, error) {
	width, height := length, thickness
	if axis == heatmap.AxisRows {
		width, height = thickness, length
	}
	if width <= 0 || height <= 0 {
		return r.CreateEmptyTile()
	}
	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	if len(dg.Nodes) == 0 {
		return r.encodeContext(dc)
	}

	leaves := dg.Nodes[0].End - dg.Nodes[0].Start + 1
	step := float64(length) / float64(max(leaves, 1))
	levels := float64(max(dg.Depth, 1))

	// along maps a center index to pixels, across maps a depth to pixels
	// measured from the leaves.
	along := func(center float64) float64 { return (center + 0.5) * step }
	across := func(depth int) float64 {
		return float64(thickness) * (1 - float64(depth)/levels)
	}
	line := func(a1, d1, a2, d2 float64) {
		if axis == heatmap.AxisRows {
			dc.DrawLine(d1, a1, d2, a2)
			return
		}
		dc.DrawLine(a1, d1, a2, d2)
	}

	dc.SetColor(color.Black)
	dc.SetLineWidth(2)
	for _, n := range dg.Nodes {
		if n.Left < 0 || n.Right < 0 {
			continue
		}
		l, rt := dg.Nodes[n.Left], dg.Nodes[n.Right]
		top := across(n.Depth)
		line(along(l.Center), across(l.Depth), along(l.Center), top)
		line(along(rt.Center), across(rt.Depth), along(rt.Center), top)
		line(along(l.Center), top, along(rt.Center), top)
	}
	dc.Stroke()
	return r.encodeContext(dc)
}
