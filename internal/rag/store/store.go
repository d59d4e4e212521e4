package store

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/compliance-rag/internal/model"
)

// 存储后端名称。
const (
	BackendLocal  = "local"
	BackendMilvus = "milvus"
)

var (
	// ErrNotReady 索引产物不存在、不完整或正在被替换。
	ErrNotReady = errors.New("index artifact not ready")
	// ErrDimensionMismatch 向量维度与索引不一致。
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrCorrupt 索引产物内容不一致。
	ErrCorrupt = errors.New("index artifact corrupt")
)

// ArtifactMeta 索引产物元数据，每次构建生成一个新的 BuildID。
type ArtifactMeta struct {
	BuildID        string    `json:"build_id"`
	Backend        string    `json:"backend"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	ChunkCount     int       `json:"chunk_count"`
	DocumentCount  int       `json:"document_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Entry 待写入的文档块及其向量。
type Entry struct {
	Chunk  *model.Chunk
	Vector []float32
}

// Index 已加载、只读的可检索索引快照。
type Index interface {
	// Meta 返回索引元数据。
	Meta() ArtifactMeta

	// Search 返回与向量最相似的至多 topK 个文档块，按相似度降序排列。
	Search(ctx context.Context, vector []float32, topK int) ([]*model.ScoredChunk, error)
}

// ArtifactStore 定义索引产物存储接口。
type ArtifactStore interface {
	// Backend 返回后端名称。
	Backend() string

	// Save 以原子方式整体替换索引产物。
	Save(ctx context.Context, meta ArtifactMeta, entries []Entry) error

	// Load 加载当前索引产物。产物缺失或不完整时返回 ErrNotReady。
	Load(ctx context.Context) (Index, error)

	// Ready 报告索引产物是否存在且完整。
	Ready(ctx context.Context) bool

	// Close 释放资源。
	Close(ctx context.Context) error
}
