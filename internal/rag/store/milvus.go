package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/pkg/component/milvus"
	"github.com/kart-io/compliance-rag/pkg/utils/json"
	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
)

// Milvus 集合字段。
const (
	fieldText   = "text"
	fieldSource = "source"
	fieldPage   = "page"

	milvusInsertBatch = 1000
)

// milvusAPI MilvusStore 依赖的客户端能力，由 *milvus.Client 实现。
type milvusAPI interface {
	CreateCollection(ctx context.Context, schema *milvus.CollectionSchema) error
	Insert(ctx context.Context, collectionName string, columns ...column.Column) error
	Search(ctx context.Context, collectionName string, vector []float32, topK int, outputFields []string) ([]milvus.SearchResult, error)
	DescribeCollection(ctx context.Context, collectionName string) (string, error)
	ListCollections(ctx context.Context) ([]string, error)
	ResolveAlias(ctx context.Context, alias string) (string, error)
	PointAlias(ctx context.Context, alias, collectionName string) error
	DropCollection(ctx context.Context, collectionName string) error
	Close(ctx context.Context) error
}

// MilvusStore 实现基于 Milvus 的索引产物存储。
//
// 每次构建写入一个新集合 <alias>_<build id>，写完后把别名切换到新集合，
// 因此读者看到的要么是旧索引，要么是完整的新索引。
// 保留上一代集合供仍在使用的读者继续检索，更早的集合会被删除。
type MilvusStore struct {
	client milvusAPI
	alias  string
}

// NewMilvusStore 创建 Milvus 存储实例。alias 为检索使用的集合别名。
func NewMilvusStore(client *milvus.Client, alias string) *MilvusStore {
	return newMilvusStore(client, alias)
}

func newMilvusStore(client milvusAPI, alias string) *MilvusStore {
	return &MilvusStore{client: client, alias: alias}
}

// Backend 返回后端名称。
func (s *MilvusStore) Backend() string {
	return BackendMilvus
}

func (s *MilvusStore) generation(buildID string) string {
	return s.alias + "_" + strings.ToLower(buildID)
}

// Save 写入新一代集合并切换别名。
func (s *MilvusStore) Save(ctx context.Context, meta ArtifactMeta, entries []Entry) error {
	meta.Backend = BackendMilvus
	for i, e := range entries {
		if len(e.Vector) != meta.Dimension {
			return fmt.Errorf("%w: entry %d has dimension %d, expected %d", ErrDimensionMismatch, i, len(e.Vector), meta.Dimension)
		}
	}

	desc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("序列化元数据失败: %w", err)
	}

	coll := s.generation(meta.BuildID)
	schema := &milvus.CollectionSchema{
		Name:        coll,
		Description: string(desc),
		Dimension:   meta.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: fieldText, DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: fieldSource, DataType: entity.FieldTypeVarChar, MaxLen: 4096},
			{Name: fieldPage, DataType: entity.FieldTypeInt64},
		},
	}
	if err := s.client.CreateCollection(ctx, schema); err != nil {
		return err
	}

	if err := s.insert(ctx, coll, meta.Dimension, entries); err != nil {
		if dropErr := s.client.DropCollection(context.WithoutCancel(ctx), coll); dropErr != nil {
			logger.Warnw("failed to drop incomplete collection", "collection", coll, "error", dropErr.Error())
		}
		return err
	}

	previous, _ := s.client.ResolveAlias(ctx, s.alias)
	if err := s.client.PointAlias(ctx, s.alias, coll); err != nil {
		return err
	}
	logger.Infow("milvus alias switched",
		"alias", s.alias,
		"collection", coll,
		"previous", previous,
		"chunks", len(entries),
	)

	s.prune(ctx, coll, previous)
	return nil
}

func (s *MilvusStore) insert(ctx context.Context, coll string, dim int, entries []Entry) error {
	for start := 0; start < len(entries); start += milvusInsertBatch {
		end := min(start+milvusInsertBatch, len(entries))
		batch := entries[start:end]

		ids := make([]int64, len(batch))
		vectors := make([][]float32, len(batch))
		texts := make([]string, len(batch))
		sources := make([]string, len(batch))
		pages := make([]int64, len(batch))
		for i, e := range batch {
			ids[i] = e.Chunk.ID
			vectors[i] = e.Vector
			texts[i] = e.Chunk.Text
			sources[i] = e.Chunk.Source
			pages[i] = int64(e.Chunk.Page)
		}

		if err := s.client.Insert(ctx, coll,
			column.NewColumnInt64(milvus.FieldID, ids),
			column.NewColumnFloatVector(milvus.FieldEmbedding, dim, vectors),
			column.NewColumnVarChar(fieldText, texts),
			column.NewColumnVarChar(fieldSource, sources),
			column.NewColumnInt64(fieldPage, pages),
		); err != nil {
			return err
		}
	}
	return nil
}

// prune 删除除当前与上一代之外的历史集合。
func (s *MilvusStore) prune(ctx context.Context, current, previous string) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		logger.Warnw("failed to list collections for pruning", "error", err.Error())
		return
	}
	prefix := s.alias + "_"
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) || name == current || name == previous {
			continue
		}
		if err := s.client.DropCollection(ctx, name); err != nil {
			logger.Warnw("failed to drop stale collection", "collection", name, "error", err.Error())
			continue
		}
		logger.Debugw("stale collection dropped", "collection", name)
	}
}

// Ready 别名存在即视为就绪。
func (s *MilvusStore) Ready(ctx context.Context) bool {
	_, err := s.client.ResolveAlias(ctx, s.alias)
	return err == nil
}

// Load 解析别名并读取集合描述中的元数据。
// 返回的索引绑定具体集合而非别名，后续重建不会影响已加载的快照。
func (s *MilvusStore) Load(ctx context.Context) (Index, error) {
	coll, err := s.client.ResolveAlias(ctx, s.alias)
	if err != nil {
		if errors.Is(err, milvus.ErrAliasNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		return nil, err
	}

	desc, err := s.client.DescribeCollection(ctx, coll)
	if err != nil {
		return nil, err
	}

	var meta ArtifactMeta
	if err := json.Unmarshal([]byte(desc), &meta); err != nil {
		return nil, fmt.Errorf("%w: collection %s has no metadata: %v", ErrCorrupt, coll, err)
	}

	return &milvusIndex{client: s.client, collection: coll, meta: meta}, nil
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// milvusIndex 绑定到某一代集合的索引快照。
type milvusIndex struct {
	client     milvusAPI
	collection string
	meta       ArtifactMeta
}

func (m *milvusIndex) Meta() ArtifactMeta {
	return m.meta
}

func (m *milvusIndex) Search(ctx context.Context, vector []float32, topK int) ([]*model.ScoredChunk, error) {
	if len(vector) != m.meta.Dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), m.meta.Dimension)
	}

	results, err := m.client.Search(ctx, m.collection, vector, topK, []string{fieldText, fieldSource, fieldPage})
	if err != nil {
		return nil, err
	}

	out := make([]*model.ScoredChunk, 0, len(results))
	for _, r := range results {
		c := &model.Chunk{ID: r.ID}
		c.Text, _ = r.Metadata[fieldText].(string)
		c.Source, _ = r.Metadata[fieldSource].(string)
		if p, ok := r.Metadata[fieldPage].(int64); ok {
			c.Page = int(p)
		}
		out = append(out, &model.ScoredChunk{Chunk: c, Score: r.Score})
	}
	return out, nil
}

var (
	_ ArtifactStore = (*MilvusStore)(nil)
	_ Index         = (*milvusIndex)(nil)
	_ milvusAPI     = (*milvus.Client)(nil)
)
