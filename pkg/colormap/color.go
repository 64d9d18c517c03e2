package colormap

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is an opaque 0xRRGGBB color.
type Color uint32

// RGB packs three channels.
func RGB(r, g, b uint8) Color {
	return Color(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// FromRGBA drops alpha.
func FromRGBA(c color.RGBA) Color { return RGB(c.R, c.G, c.B) }

// ParseHex parses "#rrggbb", "#rgb" or the same without "#".
func ParseHex(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return RGB(r, g, b), nil
}

// Channels returns the red, green and blue channels.
func (c Color) Channels() (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// RGBA converts to an opaque color.RGBA.
func (c Color) RGBA() color.RGBA {
	r, g, b := c.Channels()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Hex formats c as "#rrggbb".
func (c Color) Hex() string {
	cf, _ := colorful.MakeColor(c.RGBA())
	return cf.Hex()
}

// String implements fmt.Stringer.
func (c Color) String() string { return c.Hex() }

// MarshalText encodes c as hex.
func (c Color) MarshalText() ([]byte, error) { return []byte(c.Hex()), nil }

// UnmarshalText decodes a hex color.
func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseHex(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Lerp interpolates each RGB channel linearly; t is clamped to [0, 1].
func (c Color) Lerp(o Color, t float64) Color {
	if math.IsNaN(t) || t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	r1, g1, b1 := c.Channels()
	r2, g2, b2 := o.Channels()
	return RGB(lerp8(r1, r2, t), lerp8(g1, g2, t), lerp8(b1, b2, t))
}

func lerp8(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}
