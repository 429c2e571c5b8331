package renderer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInvokesExecutableAndReturnsSubmissionOrder(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(2, dir)

	tasks := []Task{
		{ID: 1, TypeRef: "figure", RawContent: "diagram a", Descriptor: Descriptor{Executable: "tee", Args: []string{"{{output}}"}, Version: "v1"}, Timeout: 2 * time.Second},
		{ID: 2, TypeRef: "figure", RawContent: "diagram b", Descriptor: Descriptor{Executable: "tee", Args: []string{"{{output}}"}, Version: "v1"}, Timeout: 2 * time.Second},
	}

	results := pool.Run(context.Background(), tasks)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].Task.ID)
	assert.Equal(t, int64(2), results[1].Task.ID)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.FileExists(t, r.OutputPath)
	}
}

func TestRunCachesByContentHash(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(1, dir)

	task := Task{ID: 1, TypeRef: "figure", RawContent: "same content", Descriptor: Descriptor{Executable: "tee", Args: []string{"{{output}}"}, Version: "v1"}, Timeout: 2 * time.Second}

	first := pool.Run(context.Background(), []Task{task})
	require.NoError(t, first[0].Err)

	stale := filepath.Join(dir, "stale-marker")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	second := pool.Run(context.Background(), []Task{task})
	require.NoError(t, second[0].Err)
	assert.Equal(t, first[0].OutputPath, second[0].OutputPath)
	assert.FileExists(t, stale)
}

func TestRunReportsNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(1, dir)

	task := Task{ID: 1, TypeRef: "figure", RawContent: "x", Descriptor: Descriptor{Executable: "false", Version: "v1"}, Timeout: 2 * time.Second}
	results := pool.Run(context.Background(), []Task{task})
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}
