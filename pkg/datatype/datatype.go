// Package datatype defines the cell value model shared by the store, the
// run-merge tree and the color mapper.
package datatype

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind distinguishes numeric from categorical values.
type Kind uint8

const (
	KindNone Kind = iota
	KindNumber
	KindCategory
)

// Value is an immutable cell value: either a number or a category string.
// The zero Value is "no value". Values are comparable with ==.
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Number returns a numeric value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Category returns a categorical value.
func Category(s string) Value {
	return Value{kind: KindCategory, str: s}
}

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v holds no value.
func (v Value) IsZero() bool { return v.kind == KindNone }

// IsNumber reports whether v is a finite or infinite number (NaN included).
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// Float returns the numeric value and whether v is numeric.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// String formats the value the way it is serialized.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindCategory:
		return v.str
	default:
		return ""
	}
}

// Equal compares two values. Unlike ==, NaN numbers compare equal to each other.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindNumber && math.IsNaN(v.num) && math.IsNaN(o.num) {
		return true
	}
	return v == o
}

// MarshalJSON encodes numbers as JSON numbers and categories as strings.
// Non-finite numbers and the zero Value encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return []byte(strconv.FormatFloat(v.num, 'g', -1, 64)), nil
	case KindCategory:
		return json.Marshal(v.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts the forms FromAny accepts.
func (v *Value) UnmarshalJSON(data []byte) error {
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	if x == nil {
		*v = Value{}
		return nil
	}
	parsed, ok := FromAny(x)
	if !ok {
		return fmt.Errorf("datatype: unsupported value %s", data)
	}
	*v = parsed
	return nil
}

// Parse reads s as a number when it parses as one and as a category
// otherwise.
func Parse(s string) Value {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return Number(f)
	}
	return Category(s)
}

// FromAny converts a decoded JSON scalar into a Value.
// Unsupported inputs return the zero Value and false.
func FromAny(x any) (Value, bool) {
	switch t := x.(type) {
	case float64:
		return Number(t), true
	case float32:
		return Number(float64(t)), true
	case int:
		return Number(float64(t)), true
	case int64:
		return Number(float64(t)), true
	case string:
		return Category(t), true
	case bool:
		if t {
			return Number(1), true
		}
		return Number(0), true
	case Value:
		return t, !t.IsZero()
	default:
		return Value{}, false
	}
}

// DataType classifies a whole dataset.
type DataType string

const (
	DataTypeNumber DataType = "number"
	DataTypeString DataType = "string"
)

// ParseDataType accepts the spellings used by upstream payloads.
func ParseDataType(s string) (DataType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "numeric", "float", "int", "integer", "double":
		return DataTypeNumber, true
	case "string", "category", "categorical", "text":
		return DataTypeString, true
	default:
		return "", false
	}
}

// Classifier accumulates values and reports the dataset data type along with
// the numeric range seen so far.
type Classifier struct {
	numbers    int
	categories int
	min        float64
	max        float64
}

// Add records one value.
func (c *Classifier) Add(v Value) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) {
			return
		}
		if c.numbers == 0 || v.num < c.min {
			c.min = v.num
		}
		if c.numbers == 0 || v.num > c.max {
			c.max = v.num
		}
		c.numbers++
	case KindCategory:
		c.categories++
	}
}

// DataType returns DataTypeString as soon as a single category was seen.
func (c *Classifier) DataType() DataType {
	if c.categories > 0 {
		return DataTypeString
	}
	return DataTypeNumber
}

// Range returns the numeric minimum and maximum; ok is false when no number was added.
func (c *Classifier) Range() (minimum, maximum float64, ok bool) {
	return c.min, c.max, c.numbers > 0
}
