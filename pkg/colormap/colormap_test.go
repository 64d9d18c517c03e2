package colormap

import (
	"errors"
	"image/color"
	"testing"

	"github.com/heatmap-tiles/server/pkg/datatype"
)

func TestSeuratColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Seurat.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 211, G: 211, B: 211, A: 255}) {
		t.Fatalf("unexpected Seurat.At(0): %#v", c0)
	}

	c1, ok := Seurat.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 0, B: 0, A: 255}) {
		t.Fatalf("unexpected Seurat.At(1): %#v", c1)
	}
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"#ff0000", "00ff00", "#123456", "#fff"} {
		c, err := ParseHex(in)
		if err != nil {
			t.Fatalf("ParseHex(%q): %v", in, err)
		}
		back, err := ParseHex(c.Hex())
		if err != nil || back != c {
			t.Fatalf("round trip %q: got %v, %v", in, back, err)
		}
	}
	if c, _ := ParseHex("#fff"); c != 0xffffff {
		t.Fatalf("short hex: got %06x", uint32(c))
	}
	if _, err := ParseHex("#zzzzzz"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
}

func TestContinuousInterpolation(t *testing.T) {
	t.Parallel()

	s := NewContinuous(RGB(0, 0, 0), RGB(100, 100, 100), RGB(200, 0, 0), 0, 10, 0xffffff)
	if !s.Valid() {
		t.Fatalf("unexpected error: %s", s.Error())
	}
	cases := []struct {
		v    datatype.Value
		want Color
	}{
		{datatype.Number(0), RGB(0, 0, 0)},
		{datatype.Number(2.5), RGB(50, 50, 50)},
		{datatype.Number(5), RGB(100, 100, 100)},
		{datatype.Number(10), RGB(200, 0, 0)},
		{datatype.Number(11), 0xffffff},
		{datatype.Category("x"), 0xffffff},
	}
	for _, tc := range cases {
		got, ok := s.ColorForValue(tc.v)
		if !ok || got != tc.want {
			t.Errorf("ColorForValue(%v) = %v, %v; want %v", tc.v, got, ok, tc.want)
		}
	}

	s.ExplicitMissing = true
	if _, ok := s.ColorForValue(datatype.Number(-1)); ok {
		t.Errorf("expected explicit missing for out of range value")
	}
}

func TestDiscreteValidation(t *testing.T) {
	t.Parallel()

	touching := NewDiscrete(datatype.DataTypeNumber, []ColorConfiguration{
		Range(0, 10, 0xff0000),
		Range(10, 20, 0x00ff00),
	}, 0xffffff)
	if !touching.Valid() {
		t.Fatalf("touching ranges should be valid: %s", touching.Error())
	}
	if c, _ := touching.ColorForValue(datatype.Number(10)); c != 0xff0000 {
		t.Errorf("boundary resolves first match, got %v", c)
	}

	overlapping := NewDiscrete(datatype.DataTypeNumber, []ColorConfiguration{
		Range(0, 10, 0xff0000),
		Range(5, 20, 0x00ff00),
		Range(30, 40, 0x0000ff),
	}, 0xffffff)
	if overlapping.Valid() {
		t.Fatalf("expected overlap to invalidate the scheme")
	}
	if overlapping.Buckets[0].Error == "" || overlapping.Buckets[1].Error == "" {
		t.Errorf("both overlapping buckets should carry an error")
	}
	if overlapping.Buckets[2].Error != "" {
		t.Errorf("unexpected error on disjoint bucket: %s", overlapping.Buckets[2].Error)
	}

	reversed := NewDiscrete(datatype.DataTypeNumber, []ColorConfiguration{Range(10, 0, 0xff0000)}, 0)
	if reversed.Valid() {
		t.Errorf("from > to should be invalid")
	}

	dup := NewDiscrete(datatype.DataTypeString, []ColorConfiguration{
		Single(datatype.Category("a"), 0xff0000),
		Single(datatype.Category("a"), 0x00ff00),
	}, 0)
	if dup.Valid() {
		t.Errorf("identical single values should be invalid")
	}
}

func TestSchemeRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewDiscrete(datatype.DataTypeNumber, []ColorConfiguration{
		Range(0, 10, 0xff0000),
		Range(10, 20, 0x00ff00),
	}, 0xffffff)

	parsed, err := Parse(s.Serialize())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, tc := range []struct {
		v    float64
		want Color
	}{{5, 0xff0000}, {15, 0x00ff00}, {25, 0xffffff}} {
		got, _ := parsed.ColorForValue(datatype.Number(tc.v))
		if got != tc.want {
			t.Errorf("ColorForValue(%v) = %06x, want %06x", tc.v, uint32(got), uint32(tc.want))
		}
	}
	if parsed.Serialize() != s.Serialize() {
		t.Errorf("serialization not stable:\n%s\n%s", parsed.Serialize(), s.Serialize())
	}
}

func TestCategoricalRoundTripEscapes(t *testing.T) {
	t.Parallel()

	s := DefaultCategorical([]string{"a,b", "c:d", "e;f|g", "100%"}, 0x000000)
	s.ExplicitMissing = true
	parsed, err := Parse(s.Serialize())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.ExplicitMissing {
		t.Errorf("explicit missing flag lost")
	}
	for i, name := range []string{"a,b", "c:d", "e;f|g", "100%"} {
		want := FromRGBA(Categorical.colors[i])
		got, ok := parsed.ColorForValue(datatype.Category(name))
		if !ok || got != want {
			t.Errorf("ColorForValue(%q) = %v, %v; want %v", name, got, ok, want)
		}
	}
}

func TestMixedSinglesKeepTheirKind(t *testing.T) {
	t.Parallel()

	s := NewDiscrete(datatype.DataTypeString, []ColorConfiguration{
		Single(datatype.Category("a"), 0x0000ff),
		Single(datatype.Number(5), 0xff0000),
		Single(datatype.Category("=5"), 0x00ff00),
	}, 0xffffff)
	parsed, err := Parse(s.Serialize())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, tc := range []struct {
		v    datatype.Value
		want Color
	}{
		{datatype.Category("a"), 0x0000ff},
		{datatype.Number(5), 0xff0000},
		{datatype.Category("=5"), 0x00ff00},
		{datatype.Category("5"), 0xffffff},
	} {
		if got, _ := parsed.ColorForValue(tc.v); got != tc.want {
			t.Errorf("ColorForValue(%v) = %06x, want %06x", tc.v, uint32(got), uint32(tc.want))
		}
	}

	n := NewDiscrete(datatype.DataTypeNumber, []ColorConfiguration{
		Single(datatype.Number(1), 0xff0000),
		Single(datatype.Category("n/a"), 0x00ff00),
	}, 0xffffff)
	parsed, err = Parse(n.Serialize())
	if err != nil {
		t.Fatalf("Parse number scheme: %v", err)
	}
	if got, _ := parsed.ColorForValue(datatype.Category("n/a")); got != 0x00ff00 {
		t.Errorf("category single in number scheme = %06x", uint32(got))
	}
	if parsed.Serialize() != n.Serialize() {
		t.Errorf("serialization not stable:\n%s\n%s", parsed.Serialize(), n.Serialize())
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"number,continuous,#fff,#fff,#fff,,",
		"bogus,continuous,#fff,#fff,#fff,,#000",
		"number,sideways,#fff,#fff,#fff,,#000",
		"number,discrete,#fff,#fff,#fff,1:2:3:4,#000",
		"number,discrete,#fff,#fff,#fff,x:#ff0000,#000",
	} {
		if _, err := Parse(in); !errors.Is(err, ErrMalformedState) {
			t.Errorf("Parse(%q) = %v, want ErrMalformedState", in, err)
		}
	}
}

func TestPreset(t *testing.T) {
	t.Parallel()

	s, ok := Preset("Viridis", 0, 1, 0)
	if !ok {
		t.Fatalf("viridis preset missing")
	}
	if c, _ := s.ColorForValue(datatype.Number(0)); c != RGB(68, 1, 84) {
		t.Errorf("low stop = %v", c)
	}
	if _, ok := Preset("nope", 0, 1, 0); ok {
		t.Errorf("unexpected preset")
	}
}
