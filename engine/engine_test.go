package engine_test

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/galileo/engine"
	"github.com/gomlx/galileo/engine/enginetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ringSize = 6

func TestBuild(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	assert.Equal(t, ringSize, g.NumVertices(nil))
	assert.Equal(t, ringSize, g.NumVertices([]uint8{0}))
	assert.Equal(t, 0, g.NumVertices([]uint8{1}))
	assert.Equal(t, 2*ringSize, g.NumEdges(nil))

	el := g.Edges[0]
	assert.EqualValues(t, []int32{0, 2, 4, 6, 8, 10, 12}, el.Starts)
	// Targets of vertex 0 are sorted: 1 and 5.
	assert.EqualValues(t, []int32{1, 5}, el.Targets[0:2])
	assert.Contains(t, g.String(), "6 vertices")
}

func TestBuilderErrors(t *testing.T) {
	b, err := engine.NewBuilder(enginetest.RingSchema(2))
	require.NoError(t, err)
	require.NoError(t, b.AddVertex(engine.Vertex{Type: 0, ID: 1, Weight: 1}))
	require.Error(t, b.AddVertex(engine.Vertex{Type: 0, ID: 1}), "duplicate id")
	require.Error(t, b.AddVertex(engine.Vertex{Type: 7, ID: 2}), "unknown type")
	require.Error(t, b.AddVertex(engine.Vertex{Type: 0, ID: 3,
		Dense: map[string][]float32{enginetest.FeatureName: {1, 2, 3}}}), "wrong feature width")
	require.Error(t, b.AddEdge(engine.Edge{Type: 3, Src: 1, Dst: 1}), "unknown edge type")
	// Edge to unknown vertex is dropped at Build time.
	require.NoError(t, b.AddEdge(engine.Edge{Type: 0, Src: 1, Dst: 99}))
	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 0, g.NumEdges(nil))
	_, err = b.Build()
	require.Error(t, err)
}

func TestSchemaValidate(t *testing.T) {
	s := enginetest.RingSchema(4)
	require.NoError(t, s.Validate())

	bad := enginetest.RingSchema(4)
	bad.Vertices[0].Attrs[0].Dim = 0
	require.Error(t, bad.Validate())

	bad = enginetest.RingSchema(4)
	bad.Edges = append(bad.Edges, bad.Edges[0])
	require.Error(t, bad.Validate())

	bad = enginetest.RingSchema(4)
	bad.Vertices[0].Entity = engine.DTFloat
	require.Error(t, bad.Validate())

	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, s.Save(path))
	loaded, err := engine.LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestSampleVertices(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	ids, err := g.SampleVertices([]uint8{0}, 100)
	require.NoError(t, err)
	require.Len(t, ids, 100)
	for _, id := range ids {
		assert.True(t, id >= 0 && id < ringSize)
	}
	_, err = g.SampleVertices([]uint8{0}, 0)
	require.Error(t, err)
	_, err = g.SampleVertices(nil, 3)
	require.Error(t, err)
	_, err = g.SampleVertices([]uint8{5}, 3)
	require.Error(t, err)
}

func TestSampleVerticesWeighted(t *testing.T) {
	schema := enginetest.RingSchema(1)
	b, err := engine.NewBuilder(schema)
	require.NoError(t, err)
	require.NoError(t, b.AddVertex(engine.Vertex{ID: 10, Weight: 1}))
	require.NoError(t, b.AddVertex(engine.Vertex{ID: 20, Weight: 9}))
	require.NoError(t, b.AddVertex(engine.Vertex{ID: 30, Weight: 0}))
	g, err := b.Build()
	require.NoError(t, err)

	const n = 20000
	ids, err := g.SampleVertices([]uint8{0}, n)
	require.NoError(t, err)
	counts := make(map[int64]int)
	for _, id := range ids {
		counts[id]++
	}
	assert.Zero(t, counts[30])
	assert.InDelta(t, 0.9, float64(counts[20])/n, 0.02)
}

func TestSampleNeighbors(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	neighbors, weights, err := g.SampleNeighbors([]int64{0, 3, 99}, []uint8{0}, 4, true)
	require.NoError(t, err)
	require.Len(t, neighbors, 12)
	require.Len(t, weights, 12)
	for ii, n := range neighbors[:8] {
		src := []int64{0, 3}[ii/4]
		assert.True(t, enginetest.IsRingNeighbor(src, n, ringSize), "%d is not a neighbor of %d", n, src)
		assert.Equal(t, float32(1), weights[ii])
	}
	// Unknown vertex is padded with itself.
	assert.Equal(t, []int64{99, 99, 99, 99}, neighbors[8:])
	assert.Equal(t, []float32{0, 0, 0, 0}, weights[8:])

	_, weights, err = g.SampleNeighbors([]int64{1}, []uint8{0}, 1, false)
	require.NoError(t, err)
	assert.Nil(t, weights)

	_, _, err = g.SampleNeighbors([]int64{1}, []uint8{9}, 1, false)
	require.Error(t, err)
	_, _, err = g.SampleNeighbors([]int64{1}, []uint8{0}, 0, false)
	require.Error(t, err)
}

func TestSampleNeighborsWeighted(t *testing.T) {
	b, err := engine.NewBuilder(enginetest.RingSchema(1))
	require.NoError(t, err)
	for id := range int64(3) {
		require.NoError(t, b.AddVertex(engine.Vertex{ID: id, Weight: 1}))
	}
	require.NoError(t, b.AddEdge(engine.Edge{Src: 0, Dst: 1, Weight: 1}))
	require.NoError(t, b.AddEdge(engine.Edge{Src: 0, Dst: 2, Weight: 3}))
	g, err := b.Build()
	require.NoError(t, err)

	const n = 20000
	neighbors, _, err := g.SampleNeighbors([]int64{0}, []uint8{0}, n, false)
	require.NoError(t, err)
	var count2 int
	for _, id := range neighbors {
		if id == 2 {
			count2++
		}
	}
	assert.InDelta(t, 0.75, float64(count2)/n, 0.02)
}

func TestSampleMultiHop(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	ids, weights, err := g.SampleMultiHop([]int64{0, 2}, [][]uint8{{0}, {0}}, []int{2, 3}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 9}, ids.Dims())
	assert.Equal(t, []int{2, 9}, weights.Dims())
	for row := range 2 {
		hops := ids.Row(row)
		assert.Equal(t, int64(row*2), hops[0])
		assert.Equal(t, float32(1), weights.Row(row)[0])
		for ii := 1; ii < 3; ii++ {
			assert.True(t, enginetest.IsRingNeighbor(hops[0], hops[ii], ringSize))
		}
		// Hop 2: 3 neighbors for each of the 2 hop-1 vertices, parent-major.
		for ii := 3; ii < 9; ii++ {
			parent := hops[1+(ii-3)/3]
			assert.True(t, enginetest.IsRingNeighbor(parent, hops[ii], ringSize))
		}
	}

	_, weights, err = g.SampleMultiHop([]int64{0}, [][]uint8{{0}}, []int{2}, false)
	require.NoError(t, err)
	assert.Nil(t, weights)

	_, _, err = g.SampleMultiHop([]int64{0}, [][]uint8{{0}}, []int{2, 2}, false)
	require.Error(t, err)
}

func TestRandomWalk(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	walks, err := g.RandomWalk([]int64{0, 1, 2}, [][]uint8{{0}, {0}, {0}}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, walks.Dims())
	for row := range 3 {
		walk := walks.Row(row)
		assert.Equal(t, int64(row), walk[0])
		for ii := 1; ii < len(walk); ii++ {
			assert.True(t, enginetest.IsRingNeighbor(walk[ii-1], walk[ii], ringSize))
		}
	}

	// With a very small p the walk almost always returns to the previous vertex.
	const numWalks = 500
	ids := make([]int64, numWalks)
	walks, err = g.RandomWalk(ids, [][]uint8{{0}, {0}}, 0.001, 1)
	require.NoError(t, err)
	var returned int
	for row := range numWalks {
		if walks.At(row, 2) == 0 {
			returned++
		}
	}
	assert.Greater(t, returned, numWalks*9/10)

	// Isolated vertex repeats itself.
	walks, err = g.RandomWalk([]int64{42}, [][]uint8{{0}, {0}}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 42, 42}, walks.Data())

	_, err = g.RandomWalk([]int64{0}, nil, 1, 1)
	require.Error(t, err)
	_, err = g.RandomWalk([]int64{0}, [][]uint8{{0}}, 0, 1)
	require.Error(t, err)
}

func TestSamplePairsByRandomWalk(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	assert.Equal(t, 10, engine.NumPairsPerWalk(3, 2))
	metapath := [][]uint8{{0}, {0}, {0}}
	pairs, err := g.SamplePairsByRandomWalk([]int64{2, 4, 5}, metapath, 1, 2, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{30, 2}, pairs.Dims())
	// The first pair of each walk has the walk root as target.
	assert.Equal(t, int64(2), pairs.At(0, 0))
	assert.Equal(t, int64(4), pairs.At(10, 0))
	assert.Equal(t, int64(5), pairs.At(20, 0))

	pairs, err = g.SamplePairsByRandomWalk([]int64{2, 4, 5}, metapath, 5, 2, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{150, 2}, pairs.Dims())

	_, err = g.SamplePairsByRandomWalk([]int64{2}, metapath, 0, 2, 1, 1)
	require.Error(t, err)
}

func TestCollectEntity(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	entities, err := g.CollectEntity(engine.VertexCategory, []uint8{0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, entities.IDs)

	entities, err = g.CollectEntity(engine.VertexCategory, []uint8{0, 1}, 100)
	require.NoError(t, err)
	assert.Equal(t, ringSize, entities.Len())

	entities, err = g.CollectEntity(engine.EdgeCategory, []uint8{0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 1}, entities.Src)
	assert.Equal(t, []int64{1, 5, 0}, entities.Dst)
	assert.Equal(t, []uint8{0, 0, 0}, entities.Types)

	_, err = g.CollectEntity("node", []uint8{0}, 3)
	require.Error(t, err)
	_, err = g.CollectEntity(engine.VertexCategory, nil, 3)
	require.Error(t, err)
	_, err = g.CollectEntity(engine.VertexCategory, []uint8{0}, 0)
	require.Error(t, err)
}

func TestFeatures(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	dense, err := g.GetDenseFeature([]int64{2, 99}, []string{enginetest.FeatureName, enginetest.LabelName}, []int{2, 3})
	require.NoError(t, err)
	require.Len(t, dense, 2)
	assert.Equal(t, []float32{2, 2, 0, 0}, dense[0].Data())
	assert.Equal(t, []float32{0, 0, 1, 0, 0, 0}, dense[1].Data())

	sparse, err := g.GetSparseFeature([]int64{4, 5}, []string{enginetest.CategoryName}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, sparse[0].Data())

	_, err = g.GetDenseFeature([]int64{1}, []string{"unknown"}, []int{2})
	require.Error(t, err)
	_, err = g.GetDenseFeature([]int64{1}, []string{enginetest.FeatureName}, []int{5})
	require.Error(t, err)
	_, err = g.GetSparseFeature([]int64{1}, []string{enginetest.CategoryName}, []int{1, 2})
	require.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	g := enginetest.Ring(ringSize, 2)
	path := filepath.Join(t.TempDir(), "graph.bin")
	require.NoError(t, g.Save(path))
	loaded, err := engine.Load(path)
	require.NoError(t, err)
	assert.Equal(t, g.String(), loaded.String())
	neighbors, _, err := loaded.SampleNeighbors([]int64{3}, []uint8{0}, 5, false)
	require.NoError(t, err)
	for _, n := range neighbors {
		assert.True(t, enginetest.IsRingNeighbor(3, n, ringSize))
	}
	dense, err := loaded.GetDenseFeature([]int64{4}, []string{enginetest.FeatureName}, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 4}, dense[0].Data())
}

func TestInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := engine.NewMetrics(reg)
	c := engine.Instrument(enginetest.Ring(ringSize, 2), m)
	_, err := c.SampleVertices([]uint8{0}, 7)
	require.NoError(t, err)
	_, err = c.SampleVertices([]uint8{0}, 0)
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("sample_vertices")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("sample_vertices")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.SampledTotal.WithLabelValues("sample_vertices")))
	assert.Equal(t, float64(ringSize), testutil.ToFloat64(m.Vertices))
	assert.Equal(t, ringSize, c.NumVertices(nil))
}
