package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/textutil"
)

// memoryIndex 在内存中做暴力余弦检索。
type memoryIndex struct {
	meta    ArtifactMeta
	chunks  []*model.Chunk
	vectors [][]float32
}

func newMemoryIndex(meta ArtifactMeta, chunks []*model.Chunk, vectors [][]float32) (*memoryIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", ErrCorrupt, len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != meta.Dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrCorrupt, i, len(v), meta.Dimension)
		}
	}
	return &memoryIndex{meta: meta, chunks: chunks, vectors: vectors}, nil
}

func (m *memoryIndex) Meta() ArtifactMeta {
	return m.meta
}

func (m *memoryIndex) Search(ctx context.Context, vector []float32, topK int) ([]*model.ScoredChunk, error) {
	if len(vector) != m.meta.Dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), m.meta.Dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*model.ScoredChunk, len(m.chunks))
	for i, c := range m.chunks {
		results[i] = &model.ScoredChunk{
			Chunk: c,
			Score: float32(textutil.CosineSimilarity(vector, m.vectors[i])),
		}
	}

	// 分数相同时按插入顺序排列，保证结果确定
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

var _ Index = (*memoryIndex)(nil)
