package neo4jsource

import (
	"context"
	"testing"

	"github.com/gomlx/galileo/engine"
	"github.com/gomlx/galileo/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVertexFromRecord(t *testing.T) {
	schema := enginetest.RingSchema(2)
	v, err := VertexFromRecord(schema, map[string]any{
		"id":                     int64(7),
		"vtype":                  int64(0),
		enginetest.FeatureName:   []any{1.5, int64(2)},
		enginetest.CategoryName:  int64(4),
		enginetest.LabelName:     nil,
		"some_unrelated_columns": "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.ID)
	assert.Equal(t, uint8(0), v.Type)
	assert.Equal(t, float32(1), v.Weight)
	assert.Equal(t, []float32{1.5, 2}, v.Dense[enginetest.FeatureName])
	assert.NotContains(t, v.Dense, enginetest.LabelName)
	assert.Equal(t, []int64{4}, v.Sparse[enginetest.CategoryName])

	_, err = VertexFromRecord(schema, map[string]any{"vtype": int64(0)})
	assert.Error(t, err, "missing id")
	_, err = VertexFromRecord(schema, map[string]any{"id": int64(1), "vtype": int64(3)})
	assert.Error(t, err, "unknown vertex type")
	_, err = VertexFromRecord(schema, map[string]any{"id": 1.5})
	assert.Error(t, err, "fractional id")
	_, err = VertexFromRecord(schema, map[string]any{"id": int64(1), enginetest.FeatureName: []any{"a", "b"}})
	assert.Error(t, err, "non numeric feature")
}

func TestEdgeFromRecord(t *testing.T) {
	e, err := EdgeFromRecord(map[string]any{"src": int64(1), "dst": int64(2), "weight": 0.5})
	require.NoError(t, err)
	assert.Equal(t, engine.Edge{Type: 0, Src: 1, Dst: 2, Weight: 0.5}, e)

	_, err = EdgeFromRecord(map[string]any{"src": int64(1)})
	assert.Error(t, err)
	_, err = EdgeFromRecord(map[string]any{"src": int64(1), "dst": int64(2), "weight": "heavy"})
	assert.Error(t, err)
}

func TestLoadOptions(t *testing.T) {
	_, err := Load(context.Background(), Options{})
	assert.Error(t, err)
	_, err = Load(context.Background(), Options{URI: "bolt://localhost:7687"})
	assert.Error(t, err, "missing schema")
}
