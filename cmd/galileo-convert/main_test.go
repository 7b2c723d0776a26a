package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"vertex_0.txt", "vertex_1.txt", "edge_0.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	files, err := expandFiles(filepath.Join(dir, "vertex_*.txt") + ", " + filepath.Join(dir, "vertex_1.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "vertex_0.txt"), filepath.Join(dir, "vertex_1.txt")}, files)

	files, err = expandFiles("")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = expandFiles(filepath.Join(dir, "missing_*.txt"))
	assert.Error(t, err)
}
