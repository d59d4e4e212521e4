package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntries() []Entry {
	return []Entry{
		{Chunk: &model.Chunk{ID: 0, Text: "Flaring is limited to 24 hours.", Source: "reg1.pdf", Page: 1}, Vector: []float32{1, 0, 0}},
		{Chunk: &model.Chunk{ID: 1, Text: "Venting requires a permit.", Source: "reg1.pdf", Page: 2}, Vector: []float32{0, 1, 0}},
		{Chunk: &model.Chunk{ID: 2, Text: "Leak surveys are quarterly.", Source: "reg2.txt"}, Vector: []float32{0.7, 0.7, 0}},
	}
}

func testMeta(buildID string) ArtifactMeta {
	return ArtifactMeta{
		BuildID:        buildID,
		EmbeddingModel: "llama3",
		Dimension:      3,
		ChunkCount:     3,
		DocumentCount:  2,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestLocalStore_NotReadyWhenAbsent(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "vector_store"))

	assert.False(t, s.Ready(context.Background()))
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestLocalStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(filepath.Join(t.TempDir(), "vector_store"))

	require.NoError(t, s.Save(ctx, testMeta("01A"), testEntries()))
	require.True(t, s.Ready(ctx))

	// 目录下恰好两个文件
	files, err := os.ReadDir(s.Path())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, PayloadFile, files[0].Name())
	assert.Equal(t, VectorFile, files[1].Name())

	idx, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "01A", idx.Meta().BuildID)
	assert.Equal(t, BackendLocal, idx.Meta().Backend)

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Flaring is limited to 24 hours.", results[0].Text)
	assert.Equal(t, 1, results[0].Page)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, int64(2), results[1].ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestLocalStore_ReplaceLeavesNoTempDirs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewLocalStore(filepath.Join(root, "vector_store"))

	require.NoError(t, s.Save(ctx, testMeta("01A"), testEntries()))
	entries := testEntries()[:1]
	meta := testMeta("01B")
	meta.ChunkCount = 1
	require.NoError(t, s.Save(ctx, meta, entries))

	idx, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "01B", idx.Meta().BuildID)

	results, err := idx.Search(ctx, []float32{0, 1, 0}, 4)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	dirs, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, dirs, 1, "only the artifact directory should remain")
}

func TestLocalStore_EmptyVectorFileIsNotReady(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vector_store")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, VectorFile), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PayloadFile), []byte("{}"), 0o644))

	s := NewLocalStore(dir)
	assert.False(t, s.Ready(context.Background()))
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestLocalStore_IncompleteFilesAreNotReady(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		corrupt func(data []byte) []byte
		ready   bool
	}{
		{
			name:    "truncated vectors",
			file:    VectorFile,
			corrupt: func(data []byte) []byte { return data[:len(data)/2] },
			ready:   true,
		},
		{
			name:    "truncated payload",
			file:    PayloadFile,
			corrupt: func(data []byte) []byte { return data[:len(data)/2] },
			ready:   true,
		},
		{
			name:    "empty payload",
			file:    PayloadFile,
			corrupt: func([]byte) []byte { return nil },
			ready:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewLocalStore(filepath.Join(t.TempDir(), "vector_store"))
			require.NoError(t, s.Save(ctx, testMeta("01A"), testEntries()))

			path := filepath.Join(s.Path(), tt.file)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tt.corrupt(data), 0o644))

			assert.Equal(t, tt.ready, s.Ready(ctx))
			_, err = s.Load(ctx)
			assert.ErrorIs(t, err, ErrNotReady)
			assert.NotErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestLocalStore_TornReadIsNotReady(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a := NewLocalStore(filepath.Join(root, "a"))
	b := NewLocalStore(filepath.Join(root, "b"))
	require.NoError(t, a.Save(ctx, testMeta("01A"), testEntries()))
	require.NoError(t, b.Save(ctx, testMeta("01B"), testEntries()))

	// 用另一次构建的 payload 模拟读取期间被替换
	data, err := os.ReadFile(filepath.Join(b.Path(), PayloadFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(a.Path(), PayloadFile), data, 0o644))

	_, err = a.Load(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestLocalStore_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(filepath.Join(t.TempDir(), "vector_store"))
	require.NoError(t, s.Save(ctx, testMeta("01A"), testEntries()))
	require.NoError(t, os.WriteFile(filepath.Join(s.Path(), PayloadFile), []byte("not json"), 0o644))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLocalStore_DimensionChecks(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(filepath.Join(t.TempDir(), "vector_store"))

	meta := testMeta("01A")
	meta.Dimension = 4
	assert.ErrorIs(t, s.Save(ctx, meta, testEntries()), ErrDimensionMismatch)
	assert.False(t, s.Ready(ctx))

	require.NoError(t, s.Save(ctx, testMeta("01B"), testEntries()))
	idx, err := s.Load(ctx)
	require.NoError(t, err)
	_, err = idx.Search(ctx, []float32{1, 0}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryIndex_TiesKeepInsertionOrder(t *testing.T) {
	meta := ArtifactMeta{Dimension: 2}
	chunks := []*model.Chunk{{ID: 0, Text: "a"}, {ID: 1, Text: "b"}, {ID: 2, Text: "c"}}
	vectors := [][]float32{{1, 0}, {1, 0}, {1, 0}}

	idx, err := newMemoryIndex(meta, chunks, vectors)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int64{0, 1, 2}, []int64{results[0].ID, results[1].ID, results[2].ID})

	_, err = newMemoryIndex(meta, chunks, vectors[:2])
	assert.ErrorIs(t, err, ErrCorrupt)
}
