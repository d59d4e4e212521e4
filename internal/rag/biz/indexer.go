package biz

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/loader"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/compliance-rag/internal/rag/metrics"
	"github.com/kart-io/compliance-rag/internal/rag/store"
	"github.com/kart-io/compliance-rag/pkg/llm"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
	"github.com/kart-io/logger"
)

// DocumentLoader 加载待索引的文档。
type DocumentLoader interface {
	Load(ctx context.Context) (*loader.Result, error)
}

// IndexConfig 索引构建与检索配置。
type IndexConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	// EmbeddingDim 期望的向量维度，0 表示不校验。
	EmbeddingDim   int
	EmbedBatchSize int
	// EmbeddingModel 写入索引元数据的嵌入模型标识，加载时必须一致。
	EmbeddingModel string
}

// DefaultIndexConfig 返回默认索引配置。
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		ChunkSize:      1000,
		ChunkOverlap:   200,
		TopK:           4,
		EmbedBatchSize: 32,
	}
}

// IndexStats 索引状态。
type IndexStats struct {
	Ready        bool                 `json:"ready"`
	Backend      string               `json:"backend"`
	Meta         *store.ArtifactMeta  `json:"meta,omitempty"`
	RecentBuilds []*model.BuildRecord `json:"recent_builds,omitempty"`
}

// IndexManager 负责构建、持久化和加载检索索引。
// 同一时刻只允许一次构建；检索器在首次使用时加载并缓存，构建成功后失效。
type IndexManager struct {
	cfg      IndexConfig
	loader   DocumentLoader
	splitter *textutil.Splitter
	embedder llm.EmbeddingProvider
	store    store.ArtifactStore
	ledger   *store.Ledger
	metrics  *metrics.RAGMetrics

	buildMu sync.Mutex

	mu         sync.RWMutex
	retriever  *Retriever
	generation atomic.Uint64
}

// IndexOption IndexManager 可选项。
type IndexOption func(*IndexManager)

// WithLedger 记录每次构建的历史。
func WithLedger(l *store.Ledger) IndexOption {
	return func(m *IndexManager) { m.ledger = l }
}

// WithIndexMetrics 设置指标收集器。
func WithIndexMetrics(mt *metrics.RAGMetrics) IndexOption {
	return func(m *IndexManager) { m.metrics = mt }
}

// NewIndexManager 创建索引管理器。
func NewIndexManager(
	cfg IndexConfig,
	docs DocumentLoader,
	embedder llm.EmbeddingProvider,
	artifacts store.ArtifactStore,
	opts ...IndexOption,
) *IndexManager {
	def := DefaultIndexConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = def.EmbedBatchSize
	}
	if cfg.EmbeddingModel == "" && embedder != nil {
		cfg.EmbeddingModel = embedder.Name()
	}

	m := &IndexManager{
		cfg:      cfg,
		loader:   docs,
		splitter: textutil.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder: embedder,
		store:    artifacts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Build 从文档目录重新构建整个索引并原子替换旧索引。
// 已有构建进行中时返回 ErrRAGBuildInProgress。
func (m *IndexManager) Build(ctx context.Context) (*model.BuildReport, error) {
	if !m.buildMu.TryLock() {
		return nil, errors.ErrRAGBuildInProgress
	}
	defer m.buildMu.Unlock()

	start := time.Now()
	report := &model.BuildReport{
		BuildID:        ulid.Make().String(),
		Backend:        m.store.Backend(),
		EmbeddingModel: m.cfg.EmbeddingModel,
	}
	logger.Infow("index build started", "build_id", report.BuildID, "backend", report.Backend)

	if m.ledger != nil {
		if err := m.ledger.Start(ctx, report.BuildID, report.Backend, report.EmbeddingModel); err != nil {
			logger.Warnw("failed to record build start", "build_id", report.BuildID, "error", err.Error())
		}
	}

	err := m.build(ctx, report)
	report.Duration = time.Since(start)

	if m.ledger != nil {
		// 构建被取消时仍然记录结果
		if ferr := m.ledger.Finish(context.WithoutCancel(ctx), report, err); ferr != nil {
			logger.Warnw("failed to record build result", "build_id", report.BuildID, "error", ferr.Error())
		}
	}
	if m.metrics != nil {
		m.metrics.RecordIndexing(report.DocumentCount, report.ChunkCount, err)
	}
	if err != nil {
		logger.Errorw("index build failed", "build_id", report.BuildID, "error", err.Error())
		return nil, err
	}

	logger.Infow("index build finished",
		"build_id", report.BuildID,
		"documents", report.DocumentCount,
		"chunks", report.ChunkCount,
		"dimension", report.Dimension,
		"skipped", len(report.SkippedFiles),
		"duration", report.Duration.String(),
	)
	return report, nil
}

func (m *IndexManager) build(ctx context.Context, report *model.BuildReport) error {
	loaded, err := m.loader.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.ErrRAGConfig.WithMessage("failed to read documents directory").WithCause(err)
	}
	report.SkippedFiles = loaded.Skipped
	if len(loaded.Documents) == 0 {
		return errors.ErrRAGEmptyCorpus
	}

	chunks := m.split(loaded.Documents)
	if len(chunks) == 0 {
		return errors.ErrRAGEmptyCorpus
	}
	report.DocumentCount = countSources(loaded.Documents)
	report.ChunkCount = len(chunks)

	vectors, err := m.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	dim, err := m.checkDimension(vectors)
	if err != nil {
		return err
	}
	report.Dimension = dim

	entries := make([]store.Entry, len(chunks))
	for i := range chunks {
		entries[i] = store.Entry{Chunk: chunks[i], Vector: vectors[i]}
	}
	meta := store.ArtifactMeta{
		BuildID:        report.BuildID,
		Backend:        report.Backend,
		EmbeddingModel: report.EmbeddingModel,
		Dimension:      dim,
		ChunkCount:     report.ChunkCount,
		DocumentCount:  report.DocumentCount,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.Save(ctx, meta, entries); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stderrors.Is(err, store.ErrDimensionMismatch) {
			return errors.ErrRAGConfig.WithMessage("embedding dimension mismatch").WithCause(err)
		}
		return errors.ErrRAGArtifact.WithCause(err)
	}

	m.invalidate()
	return nil
}

// split 切分文档，块 ID 按插入顺序从 0 开始。
func (m *IndexManager) split(docs []*model.Document) []*model.Chunk {
	var chunks []*model.Chunk
	for _, doc := range docs {
		for _, text := range m.splitter.Split(doc.Content) {
			chunks = append(chunks, &model.Chunk{
				ID:     int64(len(chunks)),
				Text:   text,
				Source: doc.Source,
				Page:   doc.Page,
			})
		}
	}
	return chunks
}

func (m *IndexManager) embedChunks(ctx context.Context, chunks []*model.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += m.cfg.EmbedBatchSize {
		end := min(start+m.cfg.EmbedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		batch, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.ErrRAGModelCall.WithMessagef("embedding via %s failed", m.embedder.Name()).WithCause(err)
		}
		if len(batch) != len(texts) {
			return nil, errors.ErrRAGModelCall.WithMessagef("embedding returned %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
		logger.Debugw("embedded chunk batch", "done", end, "total", len(chunks))
	}
	return vectors, nil
}

func (m *IndexManager) checkDimension(vectors [][]float32) (int, error) {
	dim := len(vectors[0])
	if dim == 0 {
		return 0, errors.ErrRAGConfig.WithMessage("embedding provider returned empty vectors")
	}
	if m.cfg.EmbeddingDim > 0 && dim != m.cfg.EmbeddingDim {
		return 0, errors.ErrRAGConfig.WithMessagef("embedding dimension %d does not match configured %d", dim, m.cfg.EmbeddingDim)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, errors.ErrRAGConfig.WithMessagef("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return dim, nil
}

func countSources(docs []*model.Document) int {
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		seen[d.Source] = struct{}{}
	}
	return len(seen)
}

func (m *IndexManager) invalidate() {
	m.mu.Lock()
	m.retriever = nil
	m.generation.Add(1)
	m.mu.Unlock()
}

// Load 从存储加载索引并校验维度与嵌入模型。
func (m *IndexManager) Load(ctx context.Context) (*Retriever, error) {
	idx, err := m.store.Load(ctx)
	if err != nil {
		if stderrors.Is(err, store.ErrNotReady) {
			return nil, errors.ErrRAGIndexNotReady.WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrRAGArtifact.WithCause(err)
	}

	meta := idx.Meta()
	if m.cfg.EmbeddingModel != "" && meta.EmbeddingModel != "" && meta.EmbeddingModel != m.cfg.EmbeddingModel {
		return nil, errors.ErrRAGConfig.WithMessagef(
			"index was built with embedding model %q, configured %q; rebuild the index", meta.EmbeddingModel, m.cfg.EmbeddingModel)
	}
	if m.cfg.EmbeddingDim > 0 && meta.Dimension != m.cfg.EmbeddingDim {
		return nil, errors.ErrRAGConfig.WithMessagef(
			"index dimension %d does not match configured %d; rebuild the index", meta.Dimension, m.cfg.EmbeddingDim)
	}

	logger.Infow("index loaded",
		"build_id", meta.BuildID,
		"backend", meta.Backend,
		"chunks", meta.ChunkCount,
		"dimension", meta.Dimension,
	)
	return &Retriever{index: idx, embedder: m.embedder, topK: m.cfg.TopK}, nil
}

// Retriever 返回缓存的检索器，首次调用或重建后重新加载。
func (m *IndexManager) Retriever(ctx context.Context) (*Retriever, error) {
	m.mu.RLock()
	r := m.retriever
	m.mu.RUnlock()
	if r != nil {
		return r, nil
	}

	gen := m.generation.Load()
	r, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// 加载期间发生重建时不缓存旧索引
	if m.generation.Load() == gen && m.retriever == nil {
		m.retriever = r
	}
	return r, nil
}

// Query 检索与问题最相似的文档块。
func (m *IndexManager) Query(ctx context.Context, question string) ([]*model.ScoredChunk, error) {
	r, err := m.Retriever(ctx)
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, question)
}

// Ready 报告索引产物是否存在且完整。
func (m *IndexManager) Ready(ctx context.Context) bool {
	return m.store.Ready(ctx)
}

// Stats 返回索引状态与最近的构建历史。
func (m *IndexManager) Stats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{
		Ready:   m.store.Ready(ctx),
		Backend: m.store.Backend(),
	}
	if stats.Ready {
		r, err := m.Retriever(ctx)
		if err != nil {
			return nil, err
		}
		meta := r.Meta()
		stats.Meta = &meta
	}
	if m.ledger != nil {
		recs, err := m.ledger.Recent(ctx, 5)
		if err != nil {
			logger.Warnw("failed to read build history", "error", err.Error())
		} else {
			stats.RecentBuilds = recs
		}
	}
	return stats, nil
}

// Retriever 绑定到一个已加载索引快照的检索器。
type Retriever struct {
	index    store.Index
	embedder llm.EmbeddingProvider
	topK     int
}

// Search 使用与构建时相同的嵌入模型检索 topK 个文档块。
func (r *Retriever) Search(ctx context.Context, question string) ([]*model.ScoredChunk, error) {
	vec, err := r.embedder.EmbedSingle(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrRAGModelCall.WithMessagef("embedding via %s failed", r.embedder.Name()).WithCause(err)
	}

	results, err := r.index.Search(ctx, vec, r.topK)
	if err != nil {
		if stderrors.Is(err, store.ErrDimensionMismatch) {
			return nil, errors.ErrRAGConfig.WithMessage("query embedding dimension differs from the index").WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrRAGArtifact.WithCause(err)
	}
	return results, nil
}

// Meta 返回检索器绑定的索引元数据。
func (r *Retriever) Meta() store.ArtifactMeta {
	return r.index.Meta()
}

var _ Searcher = (*Retriever)(nil)
