package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("classify")
	require.Len(t, g.nodes, 1)
	n := g.nodes["classify"]
	assert.Equal(t, "classify", n.id)
	assert.NotNil(t, n.deps)
	assert.NotNil(t, n.dependents)

	// Adding the same ID twice is a no-op.
	g.AddNode("classify")
	assert.Len(t, g.nodes, 1)
}

func TestAddEdge(t *testing.T) {
	t.Run("links both directions", func(t *testing.T) {
		g := New()
		g.AddNode("convert")
		g.AddNode("classify")

		require.NoError(t, g.AddEdge("convert", "classify"))
		assert.Contains(t, g.nodes["convert"].dependents, "classify")
		assert.Contains(t, g.nodes["classify"].deps, "convert")
	})

	t.Run("rejects bad endpoints", func(t *testing.T) {
		g := New()
		g.AddNode("a")

		assert.ErrorContains(t, g.AddEdge("missing", "a"), "source node not found")
		assert.ErrorContains(t, g.AddEdge("a", "missing"), "destination node not found")
		assert.ErrorContains(t, g.AddEdge("a", "a"), "self-referential edge")
	})
}

func TestDetectCycles(t *testing.T) {
	t.Run("valid dag passes", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "c", "d"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("a", "c"))
		require.NoError(t, g.AddEdge("c", "d"))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("cycle is reported", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "c"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("c", "a"))
		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})
}

func TestTopoSort(t *testing.T) {
	t.Run("respects dependencies and is deterministic", func(t *testing.T) {
		g := New()
		for _, id := range []string{"surface", "volume", "classify", "convert"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("convert", "classify"))
		require.NoError(t, g.AddEdge("classify", "volume"))
		require.NoError(t, g.AddEdge("volume", "surface"))

		first, err := g.TopoSort()
		require.NoError(t, err)
		assert.Equal(t, []string{"convert", "classify", "volume", "surface"}, first)

		for i := 0; i < 5; i++ {
			again, err := g.TopoSort()
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("cycle fails", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))

		_, err := g.TopoSort()
		assert.ErrorContains(t, err, "cycle")
	})
}
