package biz

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/loader"
	"github.com/kart-io/compliance-rag/internal/rag/store"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
)

// blockingLoader 在 Load 中阻塞，直到测试放行。
type blockingLoader struct {
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLoader) Load(ctx context.Context) (*loader.Result, error) {
	close(l.entered)
	select {
	case <-l.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &loader.Result{}, nil
}

func TestIndexManager_EmptyCorpus(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"空目录", nil},
		{"只有空白文件", map[string]string{"blank.txt": "  \n\n  "}},
		{"只有不支持的扩展名", map[string]string{"notes.docx": "flaring"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.files)
			_, err := env.manager.Build(context.Background())
			assert.ErrorIs(t, err, errors.ErrRAGEmptyCorpus)
			assert.False(t, env.manager.Ready(context.Background()))
		})
	}
}

func TestIndexManager_ExactChunkTextRanksFirst(t *testing.T) {
	ctx := context.Background()
	docs := map[string]string{
		"reg1.pdf":       "Routine gas flaring at a production site is limited to 24 hours per calendar month.",
		"reg2.txt":       "Operators must submit annual inventory reports to the agency by March 31.",
		"sub/reg3.txt":   "Storage tank vapors must be routed to a control device with 95 percent efficiency.",
		"sub/notice.txt": "Leak detection surveys are required quarterly for compressor stations.",
	}
	env := newTestEnv(t, docs)
	_, err := env.manager.Build(ctx)
	require.NoError(t, err)

	for source, text := range docs {
		results, err := env.manager.Query(ctx, text)
		require.NoError(t, err, source)
		require.NotEmpty(t, results, source)
		assert.Equal(t, source, results[0].Source)
		assert.Equal(t, text, results[0].Text)
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	}
}

func TestIndexManager_BuildAndQuery(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, complianceDocs)

	report, err := env.manager.Build(ctx)
	require.NoError(t, err)
	assert.Len(t, report.BuildID, 26)
	assert.Equal(t, store.BackendLocal, report.Backend)
	assert.Equal(t, "hash", report.EmbeddingModel)
	assert.Equal(t, testDim, report.Dimension)
	assert.Equal(t, 2, report.ChunkCount)
	assert.True(t, env.manager.Ready(ctx))

	results, err := env.manager.Query(ctx, "gas flaring limited hours per month")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "reg1.pdf", results[0].Source)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	// 块 ID 按插入顺序从 0 开始
	ids := []int64{results[0].ID, results[1].ID}
	assert.ElementsMatch(t, []int64{0, 1}, ids)
}

func TestIndexManager_ChunksLongDocuments(t *testing.T) {
	ctx := context.Background()
	long := ""
	for i := 0; i < 40; i++ {
		long += fmt.Sprintf("Section %d sets venting limits for compressor station %d. ", i, i)
	}
	env := newTestEnv(t, map[string]string{"long.txt": long})

	report, err := env.manager.Build(ctx)
	require.NoError(t, err)
	assert.Greater(t, report.ChunkCount, 1)
	assert.Equal(t, 1, report.DocumentCount)

	r, err := env.manager.Retriever(ctx)
	require.NoError(t, err)
	results, err := r.Search(ctx, "venting limits")
	require.NoError(t, err)
	assert.Len(t, results, 4)
	for _, res := range results {
		assert.LessOrEqual(t, len([]rune(res.Text)), 200)
	}
}

func TestIndexManager_DimensionMismatch(t *testing.T) {
	env := newTestEnv(t, complianceDocs)
	env.manager.cfg.EmbeddingDim = 32

	_, err := env.manager.Build(context.Background())
	assert.ErrorIs(t, err, errors.ErrRAGConfig)
	assert.False(t, env.manager.Ready(context.Background()))
}

func TestIndexManager_LoadRejectsOtherModel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, complianceDocs)
	_, err := env.manager.Build(ctx)
	require.NoError(t, err)

	other := newHashEmbedder()
	other.name = "other-hash"
	m := NewIndexManager(IndexConfig{TopK: 4}, newDocLoader(env.docsDir), other, env.store)

	_, err = m.Load(ctx)
	assert.ErrorIs(t, err, errors.ErrRAGConfig)

	// 配置的维度与索引不一致
	m = NewIndexManager(IndexConfig{TopK: 4, EmbeddingDim: 128}, newDocLoader(env.docsDir), env.embedder, env.store)
	_, err = m.Load(ctx)
	assert.ErrorIs(t, err, errors.ErrRAGConfig)
}

func TestIndexManager_LoadNotReady(t *testing.T) {
	env := newTestEnv(t, complianceDocs)

	_, err := env.manager.Load(context.Background())
	assert.ErrorIs(t, err, errors.ErrRAGIndexNotReady)
	_, err = env.manager.Query(context.Background(), "flaring")
	assert.ErrorIs(t, err, errors.ErrRAGIndexNotReady)
}

func TestIndexManager_RetrieverCachedUntilBuild(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, complianceDocs)
	_, err := env.manager.Build(ctx)
	require.NoError(t, err)

	r1, err := env.manager.Retriever(ctx)
	require.NoError(t, err)
	r2, err := env.manager.Retriever(ctx)
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	report, err := env.manager.Build(ctx)
	require.NoError(t, err)
	r3, err := env.manager.Retriever(ctx)
	require.NoError(t, err)
	assert.NotSame(t, r1, r3)
	assert.Equal(t, report.BuildID, r3.Meta().BuildID)
}

func TestIndexManager_EmbeddingFailure(t *testing.T) {
	env := newTestEnv(t, complianceDocs)
	env.embedder.fail = fmt.Errorf("connection refused")

	_, err := env.manager.Build(context.Background())
	assert.ErrorIs(t, err, errors.ErrRAGModelCall)
	assert.False(t, env.manager.Ready(context.Background()))
}

func TestIndexManager_BuildInProgress(t *testing.T) {
	bl := &blockingLoader{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewIndexManager(DefaultIndexConfig(), bl, newHashEmbedder(),
		store.NewLocalStore(filepath.Join(t.TempDir(), "vs")))

	done := make(chan error, 1)
	go func() {
		_, err := m.Build(context.Background())
		done <- err
	}()
	<-bl.entered

	_, err := m.Build(context.Background())
	assert.ErrorIs(t, err, errors.ErrRAGBuildInProgress)

	close(bl.release)
	// 放行后的构建因为没有文档而失败
	assert.ErrorIs(t, <-done, errors.ErrRAGEmptyCorpus)
}

func TestIndexManager_LedgerRecordsBuilds(t *testing.T) {
	ctx := context.Background()
	ledger, err := store.OpenLedger(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	env := newTestEnv(t, complianceDocs)
	WithLedger(ledger)(env.manager)

	report, err := env.manager.Build(ctx)
	require.NoError(t, err)

	env.embedder.fail = fmt.Errorf("boom")
	_, err = env.manager.Build(ctx)
	require.Error(t, err)

	rec, err := ledger.Get(ctx, report.BuildID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildStatusSucceeded, rec.Status)
	assert.Equal(t, 2, rec.ChunkCount)

	env.embedder.fail = nil
	stats, err := env.manager.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.RecentBuilds, 2)
	assert.Equal(t, model.BuildStatusFailed, stats.RecentBuilds[0].Status)
	assert.Contains(t, stats.RecentBuilds[0].Error, "boom")
	// 失败的构建不影响已有索引
	require.NotNil(t, stats.Meta)
	assert.Equal(t, report.BuildID, stats.Meta.BuildID)
}
