package biz

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/rag/metrics"
	"github.com/kart-io/compliance-rag/pkg/infra/pool"
	"github.com/kart-io/compliance-rag/pkg/llm"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
	"github.com/kart-io/logger"
)

// MaxQuestionLength 问题的最大字符数。
const MaxQuestionLength = 4000

// Service 对外暴露的 RAG 服务接口。
type Service interface {
	// BuildIndex 重新构建索引，成功后下一次查询使用新索引。
	BuildIndex(ctx context.Context) (*model.BuildReport, error)

	// Query 回答问题。索引未构建时返回 ErrRAGIndexNotReady。
	Query(ctx context.Context, question string) (*model.QueryResult, error)

	// Ready 报告索引是否可用。
	Ready(ctx context.Context) bool

	// Stats 返回索引状态。
	Stats(ctx context.Context) (*IndexStats, error)
}

// Lifecycle 服务生命周期状态。
type Lifecycle int

const (
	LifecycleUninitialized Lifecycle = iota
	LifecycleReady
)

func (l Lifecycle) String() string {
	if l == LifecycleReady {
		return "ready"
	}
	return "uninitialized"
}

// RAGService 组合索引管理器与查询图。
// 首次查询时加载检索器并编译查询图；重建索引后回到 Uninitialized，下一次查询重新加载。
type RAGService struct {
	index     *IndexManager
	chat      llm.ChatProvider
	gradePool *pool.Pool
	metrics   *metrics.RAGMetrics

	mu    sync.Mutex
	state Lifecycle
	graph *Graph
}

// ServiceOption RAGService 可选项。
type ServiceOption func(*RAGService)

// WithGradePool 设置并发评分使用的协程池。
func WithGradePool(p *pool.Pool) ServiceOption {
	return func(s *RAGService) { s.gradePool = p }
}

// WithServiceMetrics 设置指标收集器。
func WithServiceMetrics(m *metrics.RAGMetrics) ServiceOption {
	return func(s *RAGService) { s.metrics = m }
}

// NewRAGService 创建 RAG 服务。
func NewRAGService(index *IndexManager, chat llm.ChatProvider, opts ...ServiceOption) *RAGService {
	s := &RAGService{
		index: index,
		chat:  chat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State 返回当前生命周期状态。
func (s *RAGService) State() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BuildIndex 重新构建索引。
func (s *RAGService) BuildIndex(ctx context.Context) (*model.BuildReport, error) {
	report, err := s.index.Build(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.state = LifecycleUninitialized
	s.graph = nil
	s.mu.Unlock()
	return report, nil
}

// Query 回答问题。
func (s *RAGService) Query(ctx context.Context, question string) (result *model.QueryResult, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordQuery(err)
		}
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.ErrRAGInvalidQuery.WithMessage("question must not be empty")
	}
	if n := utf8.RuneCountInString(question); n > MaxQuestionLength {
		return nil, errors.ErrRAGInvalidQuery.WithMessagef("question has %d characters, limit is %d", n, MaxQuestionLength)
	}

	graph, err := s.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	state := NewQueryState(question)
	terminal, err := graph.Run(ctx, state)
	if err != nil {
		logger.Warnw("query failed", "node", terminal.String(), "error", err.Error())
		return nil, err
	}

	result = state.Result()
	logger.Infow("query answered",
		"terminal", terminal.String(),
		"relevance", state.Relevance.String(),
		"documents", len(result.Documents),
		"duration", time.Since(start).String(),
	)
	return result, nil
}

// ensureReady 在 Uninitialized 状态下加载检索器并编译查询图。
func (s *RAGService) ensureReady(ctx context.Context) (*Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == LifecycleReady && s.graph != nil {
		return s.graph, nil
	}

	retriever, err := s.index.Retriever(ctx)
	if err != nil {
		return nil, err
	}
	graph, err := NewQueryGraph(Capabilities{
		Chat:      s.chat,
		Retriever: retriever,
		GradePool: s.gradePool,
		Metrics:   s.metrics,
	})
	if err != nil {
		return nil, err
	}

	s.graph = graph
	s.state = LifecycleReady
	logger.Debugw("rag service ready", "build_id", retriever.Meta().BuildID)
	return graph, nil
}

// Ready 报告索引是否可用。
func (s *RAGService) Ready(ctx context.Context) bool {
	return s.index.Ready(ctx)
}

// Stats 返回索引状态。
func (s *RAGService) Stats(ctx context.Context) (*IndexStats, error) {
	return s.index.Stats(ctx)
}

var _ Service = (*RAGService)(nil)
