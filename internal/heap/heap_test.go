package heap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type testItem struct {
	at  float64
	idx int
}

func (t *testItem) Less(other Item) bool { return t.at < other.(*testItem).at }
func (t *testItem) Index() int           { return t.idx }
func (t *testItem) SetIndex(i int)       { t.idx = i }

func TestHeapOrdersByKey(t *testing.T) {
	var h Heap
	vals := []float64{5, 3, 8, 1, 9, 2, 7, 4, 6, 0}
	items := make([]*testItem, len(vals))
	for i, v := range vals {
		items[i] = &testItem{at: v}
		h.Push(items[i])
	}

	var out []float64
	for h.Len() > 0 {
		out = append(out, h.Pop().(*testItem).at)
	}
	for i := 1; i < len(out); i++ {
		require.LessOrEqual(t, out[i-1], out[i])
	}
	require.Len(t, out, len(vals))
}

func TestHeapIndexInvariant(t *testing.T) {
	var h Heap
	items := make([]*testItem, 50)
	r := rand.New(rand.NewSource(1))
	for i := range items {
		items[i] = &testItem{at: r.Float64() * 1000}
		h.Push(items[i])
	}
	for i, it := range items {
		require.Same(t, it, h.items[it.Index()-1], "item %d", i)
		require.GreaterOrEqual(t, it.idx, 1)
	}
}

func TestHeapRemoveArbitrary(t *testing.T) {
	var h Heap
	items := make([]*testItem, 10)
	for i := range items {
		items[i] = &testItem{at: float64(i)}
		h.Push(items[i])
	}

	h.Remove(items[3])
	require.Equal(t, 0, items[3].Index())
	require.Equal(t, 9, h.Len())

	var out []float64
	for h.Len() > 0 {
		out = append(out, h.Pop().(*testItem).at)
	}
	for _, v := range out {
		require.NotEqual(t, float64(3), v)
	}
	for i := 1; i < len(out); i++ {
		require.LessOrEqual(t, out[i-1], out[i])
	}
}

func TestAdjustIndexAfterKeyIncrease(t *testing.T) {
	var h Heap
	items := make([]*testItem, 6)
	for i := range items {
		items[i] = &testItem{at: float64(i)}
		h.Push(items[i])
	}
	// root is items[0] with at=0; bump it past everything and re-adjust.
	items[0].at = 100
	h.AdjustIndex(items[0])
	require.Equal(t, float64(1), h.Peek().(*testItem).at)
}

func TestHeapify(t *testing.T) {
	var h Heap
	items := make([]*testItem, 8)
	for i := range items {
		items[i] = &testItem{at: float64(i)}
		h.Push(items[i])
	}
	// scramble keys directly (bypassing heap ops), then rebuild.
	for i, v := range []float64{7, 6, 5, 4, 3, 2, 1, 0} {
		items[i].at = v
	}
	h.Heapify()
	require.Equal(t, float64(0), h.Peek().(*testItem).at)
}
