package colormap

import (
	"math"

	"github.com/heatmap-tiles/server/pkg/datatype"
)

// GradientKind classifies a Gradient.
type GradientKind uint8

const (
	// GradientSingle matches exactly one value.
	GradientSingle GradientKind = iota
	// GradientRange interpolates over a closed numeric interval.
	GradientRange
	// GradientInfinite matches every value.
	GradientInfinite
)

// Stop is a color at a numeric position.
type Stop struct {
	Position float64
	Color    Color
}

// Gradient is a pair of stops, or a single matched value.
type Gradient struct {
	kind  GradientKind
	from  Stop
	to    Stop
	value datatype.Value
}

// SingleValueGradient matches v only.
func SingleValueGradient(v datatype.Value, c Color) Gradient {
	return Gradient{kind: GradientSingle, value: v, from: Stop{Color: c}, to: Stop{Color: c}}
}

// RangeGradient interpolates between from and to. Stops are swapped if out
// of order.
func RangeGradient(from, to Stop) Gradient {
	if to.Position < from.Position {
		from, to = to, from
	}
	return Gradient{kind: GradientRange, from: from, to: to}
}

// InfiniteGradient matches anything with one color.
func InfiniteGradient(c Color) Gradient {
	return Gradient{kind: GradientInfinite, from: Stop{Color: c}, to: Stop{Color: c}}
}

// Kind returns the gradient classification.
func (g Gradient) Kind() GradientKind { return g.kind }

// Contains reports whether v falls in g.
func (g Gradient) Contains(v datatype.Value) bool {
	switch g.kind {
	case GradientInfinite:
		return !v.IsZero()
	case GradientSingle:
		return g.value.Equal(v)
	}
	f, ok := v.Float()
	if !ok || math.IsNaN(f) {
		return false
	}
	return f >= g.from.Position && f <= g.to.Position
}

// ColorFor returns the interpolated color of v; ok is false when v is not in g.
func (g Gradient) ColorFor(v datatype.Value) (Color, bool) {
	if !g.Contains(v) {
		return 0, false
	}
	if g.kind != GradientRange {
		return g.from.Color, true
	}
	f, _ := v.Float()
	span := g.to.Position - g.from.Position
	if span <= 0 || math.IsInf(span, 0) {
		return g.from.Color, true
	}
	return g.from.Color.Lerp(g.to.Color, (f-g.from.Position)/span), true
}

// GradientCollection is queried first match first.
type GradientCollection []Gradient

// ColorFor returns the color of the first gradient containing v.
func (gc GradientCollection) ColorFor(v datatype.Value) (Color, bool) {
	for _, g := range gc {
		if c, ok := g.ColorFor(v); ok {
			return c, true
		}
	}
	return 0, false
}
