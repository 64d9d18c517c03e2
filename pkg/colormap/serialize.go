package colormap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/heatmap-tiles/server/pkg/datatype"
)

// ErrMalformedState is wrapped by Parse errors.
var ErrMalformedState = errors.New("colormap: malformed state")

var (
	escaper   = strings.NewReplacer("%", "%25", ",", "%2C", ";", "%3B", ":", "%3A", "|", "%7C", "=", "%3D", "~", "%7E")
	unescaper = strings.NewReplacer("%25", "%", "%2C", ",", "%3B", ";", "%3A", ":", "%7C", "|", "%3D", "=", "%7E", "~")
)

// Single values whose kind differs from the scheme data type carry a marker:
// "=" for a number in a string scheme, "~" for a category in a number scheme.
const (
	numberMarker   = "="
	categoryMarker = "~"
)

func formatSingle(dt datatype.DataType, v datatype.Value) string {
	if f, ok := v.Float(); ok {
		if dt == datatype.DataTypeNumber {
			return formatNumber(f)
		}
		return numberMarker + formatNumber(f)
	}
	text := escaper.Replace(v.String())
	if dt == datatype.DataTypeNumber {
		return categoryMarker + text
	}
	return text
}

func parseSingle(dt datatype.DataType, raw string) (datatype.Value, error) {
	switch {
	case strings.HasPrefix(raw, numberMarker):
		f, err := strconv.ParseFloat(raw[len(numberMarker):], 64)
		if err != nil {
			return datatype.Value{}, fmt.Errorf("%w: %w", ErrMalformedState, err)
		}
		return datatype.Number(f), nil
	case strings.HasPrefix(raw, categoryMarker):
		return datatype.Category(unescaper.Replace(raw[len(categoryMarker):])), nil
	case dt == datatype.DataTypeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return datatype.Value{}, fmt.Errorf("%w: %w", ErrMalformedState, err)
		}
		return datatype.Number(f), nil
	}
	return datatype.Category(unescaper.Replace(raw)), nil
}

func formatNumber(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// Serialize encodes the scheme as
//
//	dataType,mode,high,medium,low,buckets,missing
//
// where buckets is ";"-joined "from:to:color" ranges or "value:color"
// singles. Category values are percent-escaped, and a single value whose
// kind differs from dataType is marked. The continuous range is not
// part of the state; it comes from the dataset.
func (s *Scheme) Serialize() string {
	buckets := make([]string, 0, len(s.Buckets))
	for _, b := range s.Buckets {
		if b.IsSingle() {
			buckets = append(buckets, formatSingle(s.DataType, b.SingleValue)+":"+b.Color.Hex())
			continue
		}
		buckets = append(buckets, formatNumber(b.From)+":"+formatNumber(b.To)+":"+b.Color.Hex())
	}
	explicit := ""
	if s.ExplicitMissing {
		explicit = "!"
	}
	return strings.Join([]string{
		string(s.DataType),
		string(s.Mode),
		s.High.Hex(),
		s.Medium.Hex(),
		s.Low.Hex(),
		strings.Join(buckets, ";"),
		explicit + s.Missing.Hex(),
	}, ",")
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedState, fmt.Sprintf(format, args...))
}

// Parse decodes a string produced by Serialize. The returned scheme has an
// empty continuous range; call SetRange with the dataset bounds.
func Parse(state string) (*Scheme, error) {
	fields := strings.Split(state, ",")
	if len(fields) != 7 {
		return nil, malformed("want 7 fields, got %d", len(fields))
	}
	dt, ok := datatype.ParseDataType(fields[0])
	if !ok {
		return nil, malformed("data type %q", fields[0])
	}
	mode, ok := ParseMode(fields[1])
	if !ok {
		return nil, malformed("mode %q", fields[1])
	}
	s := &Scheme{DataType: dt, Mode: mode}

	var err error
	for i, dst := range []*Color{&s.High, &s.Medium, &s.Low} {
		if *dst, err = ParseHex(fields[2+i]); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedState, err)
		}
	}
	missing := fields[6]
	if strings.HasPrefix(missing, "!") {
		s.ExplicitMissing = true
		missing = missing[1:]
	}
	if s.Missing, err = ParseHex(missing); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedState, err)
	}

	if fields[5] != "" {
		for i, raw := range strings.Split(fields[5], ";") {
			b, err := parseBucket(dt, raw)
			if err != nil {
				return nil, fmt.Errorf("bucket %d: %w", i, err)
			}
			s.Buckets = append(s.Buckets, b)
		}
	}
	s.Update()
	return s, nil
}

func parseBucket(dt datatype.DataType, raw string) (ColorConfiguration, error) {
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 3:
		from, err1 := strconv.ParseFloat(parts[0], 64)
		to, err2 := strconv.ParseFloat(parts[1], 64)
		if err := errors.Join(err1, err2); err != nil {
			return ColorConfiguration{}, fmt.Errorf("%w: %w", ErrMalformedState, err)
		}
		c, err := ParseHex(parts[2])
		if err != nil {
			return ColorConfiguration{}, fmt.Errorf("%w: %w", ErrMalformedState, err)
		}
		return Range(from, to, c), nil
	case 2:
		c, err := ParseHex(parts[1])
		if err != nil {
			return ColorConfiguration{}, fmt.Errorf("%w: %w", ErrMalformedState, err)
		}
		v, err := parseSingle(dt, parts[0])
		if err != nil {
			return ColorConfiguration{}, err
		}
		return Single(v, c), nil
	}
	return ColorConfiguration{}, malformed("bucket %q", raw)
}
