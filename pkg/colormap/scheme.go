package colormap

import (
	"fmt"
	"math"

	"github.com/heatmap-tiles/server/pkg/datatype"
)

// Mode selects how a Scheme maps values.
type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeDiscrete   Mode = "discrete"
)

// ParseMode accepts "continuous" and "discrete".
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeContinuous, ModeDiscrete:
		return Mode(s), true
	}
	return "", false
}

// ColorConfiguration is one discrete bucket: a single value when SingleValue
// is set, otherwise the closed numeric range [From, To].
type ColorConfiguration struct {
	From        float64           `json:"from"`
	To          float64           `json:"to"`
	Color       Color             `json:"color"`
	DataType    datatype.DataType `json:"dataType"`
	SingleValue datatype.Value    `json:"-"`

	// Error is set by validation; an erroneous bucket makes its scheme invalid.
	Error string `json:"error,omitempty"`
}

// Range returns a numeric range bucket.
func Range(from, to float64, c Color) ColorConfiguration {
	return ColorConfiguration{From: from, To: to, Color: c, DataType: datatype.DataTypeNumber}
}

// Single returns a bucket matching exactly v.
func Single(v datatype.Value, c Color) ColorConfiguration {
	dt := datatype.DataTypeString
	if v.IsNumber() {
		dt = datatype.DataTypeNumber
	}
	return ColorConfiguration{SingleValue: v, Color: c, DataType: dt}
}

// IsSingle reports whether the bucket matches one value.
func (c ColorConfiguration) IsSingle() bool { return !c.SingleValue.IsZero() }

// Test reports whether v falls in the bucket.
func (c ColorConfiguration) Test(v datatype.Value) bool {
	return c.gradient().Contains(v)
}

func (c ColorConfiguration) gradient() Gradient {
	if c.IsSingle() {
		return SingleValueGradient(c.SingleValue, c.Color)
	}
	return Gradient{kind: GradientRange, from: Stop{Position: c.From, Color: c.Color}, to: Stop{Position: c.To, Color: c.Color}}
}

func (c ColorConfiguration) validate() string {
	if c.IsSingle() {
		return ""
	}
	if math.IsNaN(c.From) || math.IsNaN(c.To) {
		return "range bound is not a number"
	}
	if c.From > c.To {
		return fmt.Sprintf("from %g is greater than to %g", c.From, c.To)
	}
	return ""
}

// overlaps uses strict intersection for ranges so touching ranges are valid.
func overlaps(a, b ColorConfiguration) bool {
	switch {
	case a.IsSingle() && b.IsSingle():
		return a.SingleValue.Equal(b.SingleValue)
	case a.IsSingle():
		return b.Test(a.SingleValue)
	case b.IsSingle():
		return a.Test(b.SingleValue)
	}
	return a.From < b.To && b.From < a.To
}

// Scheme maps values to colors. After changing exported fields call Update.
// A scheme is not safe for concurrent mutation.
type Scheme struct {
	DataType datatype.DataType
	Mode     Mode

	High   Color
	Medium Color
	Low    Color
	// Minimum and Maximum are the dataset range used by continuous mode.
	Minimum float64
	Maximum float64

	Buckets []ColorConfiguration

	Missing Color
	// ExplicitMissing makes ColorForValue report unmatched values as not ok
	// instead of returning Missing.
	ExplicitMissing bool

	gradients GradientCollection
	err       string
}

// NewContinuous returns a continuous scheme over [minimum, maximum].
func NewContinuous(low, medium, high Color, minimum, maximum float64, missing Color) *Scheme {
	s := &Scheme{
		DataType: datatype.DataTypeNumber,
		Mode:     ModeContinuous,
		Low:      low,
		Medium:   medium,
		High:     high,
		Minimum:  minimum,
		Maximum:  maximum,
		Missing:  missing,
	}
	s.Update()
	return s
}

// NewDiscrete returns a discrete scheme over buckets.
func NewDiscrete(dt datatype.DataType, buckets []ColorConfiguration, missing Color) *Scheme {
	s := &Scheme{
		DataType: dt,
		Mode:     ModeDiscrete,
		Buckets:  buckets,
		Missing:  missing,
		Low:      Viridis.Sample(0),
		Medium:   Viridis.Sample(0.5),
		High:     Viridis.Sample(1),
	}
	s.Update()
	return s
}

// Preset returns a continuous scheme sampled from a named palette at 0, 0.5
// and 1.
func Preset(name string, minimum, maximum float64, missing Color) (*Scheme, bool) {
	cm, ok := Named(name)
	if !ok {
		return nil, false
	}
	return NewContinuous(cm.Sample(0), cm.Sample(0.5), cm.Sample(1), minimum, maximum, missing), true
}

// DefaultCategorical returns a discrete scheme with one bucket per value,
// colored from the Categorical palette.
func DefaultCategorical(values []string, missing Color) *Scheme {
	buckets := make([]ColorConfiguration, 0, len(values))
	for i, v := range values {
		buckets = append(buckets, Single(datatype.Category(v), FromRGBA(Categorical.colors[mod(i, Categorical.Len())])))
	}
	return NewDiscrete(datatype.DataTypeString, buckets, missing)
}

// SetRange changes the continuous range and rebuilds the gradients.
func (s *Scheme) SetRange(minimum, maximum float64) {
	s.Minimum, s.Maximum = minimum, maximum
	s.Update()
}

// Update validates the buckets and rebuilds the gradients. Validation
// problems are recorded on the buckets and surfaced by Valid and Error.
func (s *Scheme) Update() {
	s.err = ""
	s.gradients = s.gradients[:0]
	switch s.Mode {
	case ModeDiscrete:
		s.updateDiscrete()
	case ModeContinuous:
		s.updateContinuous()
	default:
		s.err = fmt.Sprintf("unknown mode %q", s.Mode)
	}
}

func (s *Scheme) updateContinuous() {
	lo, hi := s.Minimum, s.Maximum
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		s.err = "range is not finite"
		return
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	mid := lo + (hi-lo)/2
	s.gradients = append(s.gradients,
		RangeGradient(Stop{Position: lo, Color: s.Low}, Stop{Position: mid, Color: s.Medium}),
		RangeGradient(Stop{Position: mid, Color: s.Medium}, Stop{Position: hi, Color: s.High}),
	)
}

func (s *Scheme) updateDiscrete() {
	for i := range s.Buckets {
		s.Buckets[i].Error = s.Buckets[i].validate()
	}
	for i := range s.Buckets {
		for j := i + 1; j < len(s.Buckets); j++ {
			a, b := &s.Buckets[i], &s.Buckets[j]
			if a.Error != "" || b.Error != "" || !overlaps(*a, *b) {
				continue
			}
			a.Error = fmt.Sprintf("overlaps bucket %d", j)
			b.Error = fmt.Sprintf("overlaps bucket %d", i)
		}
	}
	for i, b := range s.Buckets {
		if b.Error != "" && s.err == "" {
			s.err = fmt.Sprintf("bucket %d: %s", i, b.Error)
		}
		s.gradients = append(s.gradients, b.gradient())
	}
}

// Valid reports whether the scheme has no validation error.
func (s *Scheme) Valid() bool { return s.err == "" }

// Error returns the first validation error, or "".
func (s *Scheme) Error() string { return s.err }

// ColorForValue returns the color of v. Values no gradient contains get the
// missing color, or ok=false when ExplicitMissing is set.
func (s *Scheme) ColorForValue(v datatype.Value) (Color, bool) {
	if c, ok := s.gradients.ColorFor(v); ok {
		return c, true
	}
	if s.ExplicitMissing {
		return 0, false
	}
	return s.Missing, true
}

// Clone returns a deep copy.
func (s *Scheme) Clone() *Scheme {
	c := *s
	c.Buckets = append([]ColorConfiguration(nil), s.Buckets...)
	c.gradients = append(GradientCollection(nil), s.gradients...)
	return &c
}
