package transforms

import (
	"testing"

	"github.com/gomlx/galileo/engine/enginetest"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ringSize   = 20
	featureDim = 4
)

var ring = [][]uint8{{0}, {0}}

func TestFanouts(t *testing.T) {
	assert.Equal(t, []int{1, 2, 6}, FanoutsList([]int{2, 3}))
	assert.Equal(t, 9, FanoutsDim([]int{2, 3}))
	assert.Equal(t, [][2]int{{0, 1}, {0, 2}, {1, 3}, {1, 4}, {1, 5}, {2, 6}, {2, 7}, {2, 8}},
		FanoutsIndices([]int{2, 3}))
	assert.Equal(t, 31, FanoutsDim([]int{5, 5}))
}

func TestRandomWalkNeg(t *testing.T) {
	g := enginetest.Ring(ringSize, featureDim)
	_, err := NewRandomWalkNeg(g, RandomWalkNegConfig{VertexTypes: []uint8{0}, EdgeTypes: []uint8{0}, NegativeNum: 3, ContextSize: 2})
	require.Error(t, err, "walk length or metapath required")

	rw, err := NewRandomWalkNeg(g, RandomWalkNegConfig{
		VertexTypes: []uint8{0},
		EdgeTypes:   []uint8{0},
		NegativeNum: 3,
		ContextSize: 2,
		WalkLength:  3,
	})
	require.NoError(t, err)
	assert.Len(t, rw.Config().Metapath, 3)
	assert.Equal(t, 1, rw.Config().Repetition)
	assert.Equal(t, float32(1), rw.Config().P)
	assert.Equal(t, 30, rw.NumPairs(3))

	batch, err := rw.Transform(tensors.FromFlat([]int64{2, 4, 6}))
	require.NoError(t, err)
	assert.Equal(t, []int{30, 1}, batch.Int(TargetKey).Dims())
	assert.Equal(t, []int{30, 1}, batch.Int(ContextKey).Dims())
	assert.Equal(t, []int{30, 3}, batch.Int(NegativeKey).Dims())
	for _, id := range batch.Int(NegativeKey).Data() {
		assert.True(t, id >= 0 && id < ringSize)
	}
	// Every vertex is at most 2 steps (the context size) away from its context.
	for ii, target := range batch.Int(TargetKey).Data() {
		context := batch.Int(ContextKey).Data()[ii]
		dist := (target - context + ringSize) % ringSize
		assert.True(t, dist <= 2 || dist >= ringSize-2, "pair (%d, %d)", target, context)
	}

	rw, err = NewRandomWalkNeg(g, RandomWalkNegConfig{
		VertexTypes: []uint8{0},
		Metapath:    [][]uint8{{0}, {0}},
		NegativeNum: 2,
		ContextSize: 1,
		Repetition:  2,
	})
	require.NoError(t, err)
	batch, err = rw.Transform(tensors.FromFlat([]int64{1}))
	require.NoError(t, err)
	assert.Equal(t, []int{rw.NumPairs(1), 2}, batch.Int(NegativeKey).Dims())
}

func TestNeighborNeg(t *testing.T) {
	g := enginetest.Ring(ringSize, featureDim)
	_, err := NewNeighborNeg(g, NeighborNegConfig{VertexTypes: []uint8{0}, NegativeNum: 2})
	require.Error(t, err)

	nn, err := NewNeighborNeg(g, NeighborNegConfig{VertexTypes: []uint8{0}, EdgeTypes: []uint8{0}, NegativeNum: 5})
	require.NoError(t, err)
	ids := []int64{0, 7, 19}
	batch, err := nn.Transform(tensors.FromFlat(ids))
	require.NoError(t, err)
	assert.Equal(t, ids, batch.Int(TargetKey).Data())
	assert.Equal(t, []int{3, 1}, batch.Int(TargetKey).Dims())
	assert.Equal(t, []int{3, 5}, batch.Int(NegativeKey).Dims())
	for ii, context := range batch.Int(ContextKey).Data() {
		assert.True(t, enginetest.IsRingNeighbor(ids[ii], context, ringSize))
	}
}

func TestMultiHopFeature(t *testing.T) {
	g := enginetest.Ring(ringSize, featureDim)
	_, err := NewMultiHopFeature(g, MultiHopFeatureConfig{
		MultiHopNeighborConfig: MultiHopNeighborConfig{Metapath: ring, Fanouts: []int{2, 3}},
	})
	require.Error(t, err, "at least one feature required")
	_, err = NewMultiHopFeature(g, MultiHopFeatureConfig{
		MultiHopNeighborConfig: MultiHopNeighborConfig{Metapath: ring, Fanouts: []int{2, 3}},
		SparseFeatureNames:     []string{enginetest.CategoryName},
		SparseFeatureDims:      []int{2},
	})
	require.Error(t, err, "sparse dims must be 1")
	_, err = NewMultiHopFeature(g, MultiHopFeatureConfig{
		MultiHopNeighborConfig: MultiHopNeighborConfig{Metapath: ring[:1], Fanouts: []int{2, 3}},
		DenseFeatureNames:      []string{enginetest.FeatureName},
		DenseFeatureDims:       []int{featureDim},
	})
	require.Error(t, err, "metapath and fanouts length mismatch")

	mhf, err := NewMultiHopFeature(g, MultiHopFeatureConfig{
		MultiHopNeighborConfig: MultiHopNeighborConfig{Metapath: ring, Fanouts: []int{2, 3}, EdgeWeight: true},
		DenseFeatureNames:      []string{enginetest.FeatureName, enginetest.LabelName},
		DenseFeatureDims:       []int{featureDim, enginetest.NumClasses},
		SparseFeatureNames:     []string{enginetest.CategoryName},
	})
	require.NoError(t, err)
	assert.Equal(t, featureDim+enginetest.NumClasses, mhf.Config().DenseDim())
	assert.Equal(t, []int{1}, mhf.Config().SparseFeatureDims)

	batch, err := mhf.Transform(tensors.FromFlat([]int64{3, 8, 15, 3, 11}))
	require.NoError(t, err)
	ids := batch.Int(IDsKey)
	require.Equal(t, []int{5, 9}, ids.Dims())
	dense := batch.Float(DenseKey)
	require.Equal(t, []int{5, 9, featureDim + enginetest.NumClasses}, dense.Dims())
	sparse := batch.Int(SparseKey)
	require.Equal(t, []int{5, 9, 1}, sparse.Dims())
	weights := batch.Float(EdgeWeightKey)
	require.Equal(t, []int{5, 9}, weights.Dims())

	edges := FanoutsIndices([]int{2, 3})
	for b := range 5 {
		row := ids.Row(b)
		for w, id := range row {
			assert.Equal(t, float32(id), dense.At(b, w, 0))
			assert.Equal(t, float32(1), dense.At(b, w, featureDim+int(id%enginetest.NumClasses)))
			assert.Equal(t, id%3, sparse.At(b, w, 0))
		}
		assert.Equal(t, float32(1), weights.At(b, 0))
		for _, edge := range edges {
			assert.True(t, enginetest.IsRingNeighbor(row[edge[0]], row[edge[1]], ringSize))
			assert.Equal(t, float32(1), weights.At(b, edge[1]))
		}
	}

	dense2, sparse2, err := mhf.Features([]int64{4, 100})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 4, 4, 4, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}, dense2.Data())
	assert.Equal(t, []int64{1, 0}, sparse2.Data())
}

func TestMultiHopFeatureLabel(t *testing.T) {
	g := enginetest.Ring(ringSize, featureDim)
	_, err := NewMultiHopFeatureLabel(g, MultiHopFeatureLabelConfig{
		MultiHopFeatureConfig: MultiHopFeatureConfig{
			MultiHopNeighborConfig: MultiHopNeighborConfig{Metapath: ring, Fanouts: []int{2, 2}},
			DenseFeatureNames:      []string{enginetest.FeatureName},
			DenseFeatureDims:       []int{featureDim},
		},
	})
	require.Error(t, err, "label name required")

	mhfl, err := NewMultiHopFeatureLabel(g, MultiHopFeatureLabelConfig{
		MultiHopFeatureConfig: MultiHopFeatureConfig{
			MultiHopNeighborConfig: MultiHopNeighborConfig{Metapath: ring, Fanouts: []int{2, 2}},
			DenseFeatureNames:      []string{enginetest.FeatureName},
			DenseFeatureDims:       []int{featureDim},
		},
		LabelName: enginetest.LabelName,
		LabelDim:  enginetest.NumClasses,
	})
	require.NoError(t, err)
	batch, err := mhfl.Transform(tensors.FromFlat([]int64{0, 1, 5}))
	require.NoError(t, err)
	assert.False(t, batch.Has(EdgeWeightKey))
	assert.False(t, batch.Has(SparseKey))
	assert.Equal(t, []int{3, 7, featureDim}, batch.Float(DenseKey).Dims())
	assert.Equal(t, []int{0, 1, 2}, tensors.ArgMax(batch.Float(LabelKey)))
}

func TestMultiHopFeatureNegSparse(t *testing.T) {
	g := enginetest.Ring(ringSize, featureDim)
	mhs, err := NewMultiHopFeatureNegSparse(g, MultiHopFeatureNegSparseConfig{
		MultiHopFeatureConfig: MultiHopFeatureConfig{
			MultiHopNeighborConfig: MultiHopNeighborConfig{Metapath: ring, Fanouts: []int{2, 2}, EdgeWeight: true},
			DenseFeatureNames:      []string{enginetest.FeatureName},
			DenseFeatureDims:       []int{featureDim},
		},
		VertexTypes: []uint8{0},
		EdgeTypes:   []uint8{0},
		NegativeNum: 3,
	})
	require.NoError(t, err)

	ids := []int64{2, 9, 13, 17}
	batch, err := mhs.Transform(tensors.FromFlat(ids))
	require.NoError(t, err)
	numRoots := map[string]int{TargetKey: 4, ContextKey: 4, NegativeKey: 12}
	for _, role := range Roles {
		rb := RoleBatch(batch, role)
		indices := rb.Int(IndicesKey)
		require.NotNil(t, indices, "role %s", role)
		assert.Equal(t, []int{numRoots[role], 7}, indices.Dims())
		unique := rb.Int(IDsKey)
		dense := rb.Float(DenseKey)
		assert.Equal(t, []int{unique.Size(), featureDim}, dense.Dims())
		assert.Equal(t, []int{numRoots[role], 7}, rb.Float(EdgeWeightKey).Dims())
		for ii, idx := range indices.Data() {
			require.True(t, idx >= 0 && int(idx) < unique.Size())
			if ii%7 == 0 {
				assert.Equal(t, batch.Int(role).Data()[ii/7], unique.Data()[idx])
			}
		}
		for u, id := range unique.Data() {
			assert.Equal(t, float32(id), dense.At(u, 0))
		}
	}
	assert.Equal(t, ids, batch.Int(TargetKey).Data())

	targets, err := mhs.TransformTargets(tensors.FromFlat([]int64{5, 6}))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 7}, targets.Int(RoleKey(TargetKey, IndicesKey)).Dims())
	assert.False(t, targets.Has(ContextKey))
}

func TestRelation(t *testing.T) {
	_, err := NewRelation(nil, false)
	require.Error(t, err)

	r, err := NewRelation([]int{2}, false)
	require.NoError(t, err)
	indices := tensors.FromFlat([]int64{0, 1, 2, 3, 4, 5}, 2, 3)
	weights := tensors.FromFlat([]float32{1, 0.1, 0.2, 1, 0.3, 0.4}, 2, 3)
	graph, err := r.Graph(indices, weights)
	require.NoError(t, err)
	assert.Equal(t, 4, graph.NumEdges())
	assert.Equal(t, []int64{0, 0, 3, 3}, graph.Parents())
	assert.Equal(t, []int64{1, 2, 4, 5}, graph.Children())
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, graph.Weight.Data())
	assert.Equal(t, []int{4, 1}, graph.Weight.Dims())
	assert.Equal(t, []int64{0, 3}, graph.Targets.Data())

	_, err = r.Graph(tensors.FromFlat([]int64{0, 1, 2, 3}, 2, 2), nil)
	require.Error(t, err)

	sorted, err := NewRelation([]int{2}, true)
	require.NoError(t, err)
	graph, err = sorted.Graph(tensors.FromFlat([]int64{5, 1, 2, 0, 4, 5}, 2, 3), weights)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 5, 5}, graph.Parents())
	assert.Equal(t, []int64{4, 5, 1, 2}, graph.Children())
	assert.Equal(t, []float32{0.3, 0.4, 0.1, 0.2}, graph.Weight.Data())

	// Shapes of the batch form, for fanouts [2, 3] and a batch of 5.
	r, err = NewRelation([]int{2, 3}, false)
	require.NoError(t, err)
	batch := tensors.NewBatch().
		SetInt(IndicesKey, tensors.Iota[int64](0, 45, 1).Reshape(5, 9)).
		SetFloat(EdgeWeightKey, tensors.Full[float32](1, 5, 9))
	out, err := r.Transform(batch)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 40}, out.Int(RelationIndicesKey).Dims())
	assert.Equal(t, []int{40, 1}, out.Float(RelationWeightKey).Dims())
	assert.Equal(t, []int64{0, 9, 18, 27, 36}, out.Int(TargetIndicesKey).Data())
	// Batch-major: the 8 edges of the first neighborhood, then the 8 of the second.
	relation := out.Int(RelationIndicesKey)
	assert.Equal(t, []int64{0, 0, 1, 1, 1, 2, 2, 2, 9, 9, 10, 10, 10, 11, 11, 11}, relation.Row(0)[:16])
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13, 14, 15, 16, 17}, relation.Row(1)[:16])
}

func TestBipartite(t *testing.T) {
	bp, err := NewBipartite([]int{2, 2})
	require.NoError(t, err)
	// Batch 2, width 7, feature dim 1, feature value is 10*batch + position.
	values := make([]float32, 14)
	for b := range 2 {
		for w := range 7 {
			values[b*7+w] = float32(10*b + w)
		}
	}
	blocks := bp.Split(tensors.FromFlat(values, 2, 7, 1))
	require.Len(t, blocks, 3)
	assert.Equal(t, []float32{0, 10}, blocks[0].Data())
	assert.Equal(t, []float32{1, 2, 11, 12}, blocks[1].Data())
	assert.Equal(t, []float32{3, 4, 5, 6, 13, 14, 15, 16}, blocks[2].Data())
	assert.Panics(t, func() { bp.Split(tensors.FromFlat(values, 2, 7)) })

	merged := bp.Merge(blocks)
	assert.Equal(t, []int{2, 7, 1}, merged.Dims())
	assert.Equal(t, values, merged.Data())
	assert.Panics(t, func() { bp.Merge(blocks[:2]) })
}
