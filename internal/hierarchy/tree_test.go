package hierarchy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatmap-tiles/server/internal/scheduler"
)

func TestBuildOrders(t *testing.T) {
	tree, err := ParseJSON([]byte(`[["A","B"],["C","D"]]`))
	require.NoError(t, err)
	tree.BuildOrders()

	for i, name := range []string{"A", "B", "C", "D"} {
		o, ok := tree.OrderOf(name)
		require.True(t, ok)
		assert.Equal(t, i, o)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, tree.Names())

	root := tree.Root()
	assert.Equal(t, IndexRange{Start: 0, End: 3, Center: 1.5}, root.Range)
	assert.Equal(t, IndexRange{Start: 0, End: 1, Center: 0.5}, root.Left.Range)
	assert.Equal(t, IndexRange{Start: 2, End: 3, Center: 2.5}, root.Right.Range)
}

func TestGetItemsOrderInfo(t *testing.T) {
	tree := Parse([]any{[]any{"A", "B"}, []any{"C", "D"}})
	tree.BuildOrders()

	got := GetItemsOrderInfo(tree, []string{"D", "A"}, func(s string) string { return s })
	assert.Equal(t, []OrderInfo[string]{
		{Item: "A", OriginalOrder: 1, Order: 0},
		{Item: "D", OriginalOrder: 0, Order: 3},
	}, got)

	// Unknown keys land at order 0 and keep their relative input order.
	got = GetItemsOrderInfo(tree, []string{"C", "zz", "A"}, func(s string) string { return s })
	assert.Equal(t, []string{"zz", "A", "C"}, []string{got[0].Item, got[1].Item, got[2].Item})
}

func TestSetDepth(t *testing.T) {
	tree := Parse([]any{[]any{"A", []any{"B", "C"}}, "D"})
	tree.SetDepth()
	assert.Equal(t, 3, tree.Depth())
	assert.Equal(t, 0, tree.Root().Right.Depth)
	assert.Equal(t, 2, tree.Root().Left.Depth)
}

func TestParseShapes(t *testing.T) {
	t.Run("single child collapses", func(t *testing.T) {
		tree := Parse(map[string]any{"children": []any{[]any{"A"}}})
		require.False(t, tree.Invalid())
		assert.True(t, tree.Root().IsLeaf())
		tree.SetDepth()
		assert.Equal(t, 0, tree.Depth())
	})

	t.Run("leaf tuple", func(t *testing.T) {
		tree := Parse([]any{[]any{"A", 0.5, "x", "y"}, map[string]any{"name": "B", "weight": 2.0}})
		tree.BuildOrders()
		leaves := tree.Leaves()
		require.Len(t, leaves, 2)
		require.NotNil(t, leaves[0].Leaf.Weight)
		assert.Equal(t, 0.5, *leaves[0].Leaf.Weight)
		assert.Equal(t, "x, y", leaves[0].Leaf.Annotation)
		assert.Equal(t, 2.0, *leaves[1].Leaf.Weight)
	})

	t.Run("pair of names is a node", func(t *testing.T) {
		tree := Parse([]any{"A", "B"})
		tree.BuildOrders()
		assert.Equal(t, 2, tree.Len())
	})

	t.Run("more than two children fold left", func(t *testing.T) {
		tree := Parse([]any{"A", "B", "C"})
		tree.BuildOrders()
		assert.Equal(t, []string{"A", "B", "C"}, tree.Names())
		assert.False(t, tree.Root().Left.IsLeaf())
	})

	t.Run("invalid", func(t *testing.T) {
		for _, v := range []any{nil, []any{}, map[string]any{"foo": 1.0}, true} {
			tree := Parse(v)
			assert.True(t, tree.Invalid())
			tree.BuildOrders()
			tree.SetDepth()
			assert.Equal(t, 0, tree.Len())
		}
	})

	t.Run("bad json", func(t *testing.T) {
		_, err := ParseJSON([]byte(`[`))
		assert.Error(t, err)
	})
}

func TestWalkParentFirst(t *testing.T) {
	tree := Parse([]any{[]any{"A", "B"}, "C"})
	var names []string
	tree.Walk(func(n *Node) bool {
		if n.IsLeaf() {
			names = append(names, n.Leaf.Name)
		}
		return true
	})
	assert.Equal(t, []string{"A", "B", "C"}, names)
}

func TestBuildOrdersChunked(t *testing.T) {
	items := make([]any, 0, 50)
	for i := 0; i < 50; i++ {
		items = append(items, string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	tree := Parse(items)
	m := scheduler.NewManual(time.Unix(0, 0), time.Millisecond)

	var completed bool
	tree.BuildOrdersChunked(m, scheduler.NewToken(), 10, func(ok bool) { completed = ok })
	m.Step()
	assert.Equal(t, 10, tree.Len())
	assert.False(t, tree.Ordered())
	m.Drain(10)
	assert.True(t, completed)
	assert.True(t, tree.Ordered())
	assert.Equal(t, 50, tree.Len())
	assert.Equal(t, 49, tree.Root().Range.End)
}
