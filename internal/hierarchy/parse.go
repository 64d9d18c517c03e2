package hierarchy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Parse builds a tree from decoded clustering output. Accepted shapes:
//
//	"name"                         leaf
//	["name", 1.5, "info", ...]     leaf with weight and annotation
//	{"name": "x", ...}             leaf
//	{"children": [a, b]}           internal node
//	[a, b]                         internal node
//
// A node with one child collapses to it; more than two children are folded
// left into binary nodes. Unrecognized shapes become invalid nodes and are
// dropped from their parent.
func Parse(v any) *Tree {
	return New(parseNode(v))
}

// ParseJSON decodes data and parses it.
func ParseJSON(data []byte) (*Tree, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode clustering: %w", err)
	}
	return Parse(v), nil
}

func parseNode(v any) *Node {
	switch x := v.(type) {
	case string:
		return &Node{Leaf: &Leaf{Name: x}}
	case float64:
		return &Node{Leaf: &Leaf{Name: strconv.FormatFloat(x, 'f', -1, 64)}}
	case json.Number:
		return &Node{Leaf: &Leaf{Name: x.String()}}
	case []any:
		if leaf, ok := leafTuple(x); ok {
			return &Node{Leaf: leaf}
		}
		return joinChildren(x)
	case map[string]any:
		if children, ok := x["children"].([]any); ok {
			return joinChildren(children)
		}
		if name, ok := x["name"]; ok {
			leaf := &Leaf{Name: stringOf(name)}
			if a, ok := x["annotation"].(string); ok {
				leaf.Annotation = a
			}
			for _, k := range []string{"weight", "value"} {
				if w, ok := numberOf(x[k]); ok {
					leaf.Weight = &w
					break
				}
			}
			return &Node{Leaf: leaf}
		}
	}
	return &Node{}
}

// leafTuple recognizes [name, number, info...].
func leafTuple(x []any) (*Leaf, bool) {
	if len(x) < 2 {
		return nil, false
	}
	name, ok := x[0].(string)
	if !ok {
		return nil, false
	}
	w, ok := numberOf(x[1])
	if !ok {
		return nil, false
	}
	leaf := &Leaf{Name: name, Weight: &w}
	if len(x) > 2 {
		info := make([]string, 0, len(x)-2)
		for _, e := range x[2:] {
			info = append(info, stringOf(e))
		}
		leaf.Annotation = strings.Join(info, ", ")
	}
	return leaf, true
}

func joinChildren(items []any) *Node {
	var acc *Node
	for _, item := range items {
		child := parseNode(item)
		if child.invalid() {
			continue
		}
		if acc == nil {
			acc = child
			continue
		}
		acc = &Node{Left: acc, Right: child}
	}
	if acc == nil {
		return &Node{}
	}
	return acc
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	}
	return 0, false
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
