package convertor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/galileo/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *engine.Schema {
	return &engine.Schema{
		Vertices: []engine.VertexSchema{{
			VType:  0,
			Entity: engine.DTInt64,
			Weight: engine.DTFloat,
			Attrs: []engine.Attr{
				{Name: "feature", DType: engine.DTArrayFloat, Dim: 2},
				{Name: "category", DType: engine.DTInt64},
			},
		}},
		Edges: []engine.EdgeSchema{{EType: 0, Entity1: engine.DTInt64, Entity2: engine.DTInt64, Weight: engine.DTFloat}},
	}
}

func TestSliceID(t *testing.T) {
	slice, err := SliceID("7", engine.DTInt64, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, slice)
	slice, err = SliceID("-7", engine.DTInt64, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, slice)

	a, err := SliceID("alice", engine.DTString, 8)
	require.NoError(t, err)
	b, err := SliceID("alice", engine.DTString, 8)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, a >= 0 && a < 8)

	_, err = SliceID("x", engine.DTInt64, 4)
	require.Error(t, err)
	_, err = SliceID("1", engine.DTInt64, 0)
	require.Error(t, err)
}

func TestParseRecords(t *testing.T) {
	schema := testSchema()
	v, slice, err := ParseVertex(schema, "0\t5\t2.5\t1.5,2\t9\n", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, slice)
	assert.Equal(t, int64(5), v.ID)
	assert.Equal(t, float32(2.5), v.Weight)
	assert.Equal(t, []float32{1.5, 2}, v.Dense["feature"])
	assert.Equal(t, []int64{9}, v.Sparse["category"])

	for _, bad := range []string{
		"0\t5\t1\t1,2",      // Missing field.
		"3\t5\t1\t1,2\t9",   // Unknown type.
		"0\t5\t1\t1,2,3\t9", // Wrong array width.
		"0\tx\t1\t1,2\t9",   // Invalid entity.
	} {
		_, _, err = ParseVertex(schema, bad, 2)
		assert.Error(t, err, "record %q should fail", bad)
	}

	e, slice, err := ParseEdge(schema, "0\t3\t4\t0.5", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, slice)
	assert.Equal(t, engine.Edge{Type: 0, Src: 3, Dst: 4, Weight: 0.5}, e)
	_, _, err = ParseEdge(schema, "0\t3\t4", 2)
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	inDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "graph")
	const numVertices = 6
	var vertexLines, edgeLines []string
	for id := range numVertices {
		vertexLines = append(vertexLines, fmt.Sprintf("0\t%d\t1\t%d,%d\t%d", id, id, id, id%3))
		edgeLines = append(edgeLines, fmt.Sprintf("0\t%d\t%d\t1", id, (id+2)%numVertices))
	}
	vertexLines = append(vertexLines, "this is not a record")
	vertexPath := filepath.Join(inDir, "vertex.txt")
	edgePath := filepath.Join(inDir, "edge.txt")
	require.NoError(t, os.WriteFile(vertexPath, []byte(strings.Join(vertexLines, "\n")), 0644))
	require.NoError(t, os.WriteFile(edgePath, []byte(strings.Join(edgeLines, "\n")), 0644))

	c, err := New(testSchema(), 2)
	require.NoError(t, err)
	c.Workers = 2
	m, err := c.Run(context.Background(), []string{vertexPath}, []string{edgePath}, outDir)
	require.NoError(t, err)
	assert.Equal(t, int64(numVertices), m.NumVertices)
	assert.Equal(t, int64(numVertices), m.NumEdges)
	assert.Equal(t, int64(1), m.NumInvalid)
	assert.NotEmpty(t, m.JobID)

	g, err := engine.LoadDir(outDir)
	require.NoError(t, err)
	assert.Equal(t, numVertices, g.NumVertices(nil))
	assert.Equal(t, numVertices, g.NumEdges(nil))
	dense, err := g.GetDenseFeature([]int64{4}, []string{"feature"}, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 4}, dense[0].Data())

	// Slice 1 holds the odd vertices, and the edges between them (id -> id+2).
	g, err = engine.LoadDir(outDir, 1)
	require.NoError(t, err)
	assert.Equal(t, numVertices/2, g.NumVertices(nil))
	assert.Equal(t, numVertices/2, g.NumEdges(nil))
	entities, err := g.CollectEntity(engine.VertexCategory, []uint8{0}, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3, 5}, entities.IDs)

	_, err = engine.LoadDir(outDir, 2)
	require.Error(t, err)
}

func TestRunFailureLeavesNoPartitions(t *testing.T) {
	inDir := t.TempDir()
	edgePath := filepath.Join(inDir, "edge.txt")
	require.NoError(t, os.WriteFile(edgePath, []byte("0\t1\t2\t1\n0\t2\t3\t1\n"), 0644))
	vertexPath := filepath.Join(inDir, "vertex.txt")
	require.NoError(t, os.WriteFile(vertexPath, []byte("0\t1\t1\t1,1\t0\n"), 0644))

	checkEmpty := func(outDir string) {
		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.Fail(t, "unexpected file after failed conversion", entry.Name())
		}
	}

	c, err := New(testSchema(), 2)
	require.NoError(t, err)
	c.Workers = 1

	// Missing input file: the edges already converted are removed.
	outDir := filepath.Join(t.TempDir(), "graph")
	_, err = c.Run(context.Background(), []string{filepath.Join(inDir, "missing.txt")}, []string{edgePath}, outDir)
	require.Error(t, err)
	checkEmpty(outDir)

	// Cancelled context.
	outDir = filepath.Join(t.TempDir(), "graph")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Run(ctx, []string{vertexPath}, []string{edgePath}, outDir)
	require.ErrorIs(t, err, context.Canceled)
	checkEmpty(outDir)
}
