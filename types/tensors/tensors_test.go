package tensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReshape(t *testing.T) {
	x := FromFlat([]int64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []int{2, 3}, x.Dims())
	assert.Equal(t, int64(6), x.At(1, 2))

	y := x.Reshape(-1, 2)
	assert.Equal(t, []int{3, 2}, y.Dims())
	y.Set(100, 0, 0)
	assert.Equal(t, int64(100), x.At(0, 0), "Reshape should share data")

	require.Panics(t, func() { x.Reshape(4, -1) })
	require.Panics(t, func() { FromFlat([]float32{1, 2, 3}, 2, 2) })
}

func TestGatherConcatSplit(t *testing.T) {
	src := FromRows([][]float32{{0, 1}, {10, 11}, {20, 21}})
	got := Gather(src, []int64{2, 0, 2})
	assert.Equal(t, []float32{20, 21, 0, 1, 20, 21}, got.Data())
	assert.Equal(t, []int{3, 2}, got.Dims())

	a := FromFlat([]float32{1, 2, 3, 4}, 2, 1, 2)
	b := FromFlat([]float32{5, 6}, 2, 1, 1)
	c := ConcatLast(a, b)
	assert.Equal(t, []int{2, 1, 3}, c.Dims())
	assert.Equal(t, []float32{1, 2, 5, 3, 4, 6}, c.Data())

	parts := SplitLast(c, 2, 1)
	assert.True(t, parts[0].Equal(a))
	assert.True(t, parts[1].Equal(b))

	mid := SliceLast(FromFlat([]int64{0, 1, 2, 3, 4, 5}, 2, 3), 1, 3)
	assert.Equal(t, []int64{1, 2, 4, 5}, mid.Data())
}

func TestUnique(t *testing.T) {
	ids := FromFlat([]int64{7, 3, 7, 9, 3, 3}, 2, 3)
	values, indices := Unique(ids)
	assert.Equal(t, []int64{7, 3, 9}, values.Data())
	assert.Equal(t, []int{2, 3}, indices.Dims())
	assert.Equal(t, []int64{0, 1, 0, 2, 1, 1}, indices.Data())

	// Gathering back reproduces the original.
	restored := Gather(values.Reshape(-1, 1), indices.Data())
	assert.Equal(t, ids.Data(), restored.Data())
}

func TestMisc(t *testing.T) {
	assert.Equal(t, []int64{2, 4, 6}, Iota[int64](2, 8, 2).Data())
	assert.Equal(t, []int64{5, 4}, Iota[int64](5, 3, -1).Data())
	tr := Transpose(FromRows([][]int64{{1, 2, 3}, {4, 5, 6}}))
	assert.Equal(t, []int64{1, 4, 2, 5, 3, 6}, tr.Data())
	assert.Equal(t, []int{2, 0}, ArgMax(FromRows([][]float32{{0, 1, 5}, {3, 1, 2}})))
	assert.Equal(t, []float32{1, 2}, Convert[float32](FromFlat([]int64{1, 2})).Data())
}

func TestBatch(t *testing.T) {
	b := NewBatch().
		SetInt("ids", FromFlat([]int64{1, 2})).
		SetFloat("weights", Full[float32](1, 2))
	assert.Equal(t, []string{"ids", "weights"}, b.Keys())
	assert.NotNil(t, b.Int("ids"))
	assert.Nil(t, b.Float("ids"))
	_, err := b.RequireFloat("labels")
	require.Error(t, err)

	// Replacing a key with a different kind removes the old one.
	b.SetFloat("ids", Zeros[float32](2))
	assert.Nil(t, b.Int("ids"))
	assert.True(t, b.Has("ids"))

	merged := NewBatch().Merge("target_", b)
	assert.Equal(t, []string{"target_ids", "target_weights"}, merged.Keys())
}
