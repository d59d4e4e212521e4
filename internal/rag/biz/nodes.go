package biz

import (
	"context"
	"time"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/compliance-rag/internal/rag/metrics"
	"github.com/kart-io/compliance-rag/pkg/infra/pool"
	"github.com/kart-io/compliance-rag/pkg/llm"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
	"github.com/kart-io/logger"
)

// Searcher 按问题检索文档块。
type Searcher interface {
	Search(ctx context.Context, question string) ([]*model.ScoredChunk, error)
}

// Capabilities 构建查询图所需的外部能力。
type Capabilities struct {
	Chat      llm.ChatProvider
	Retriever Searcher
	// GradePool 为空时顺序评分。
	GradePool *pool.Pool
	Metrics   *metrics.RAGMetrics
}

type nodes struct {
	Capabilities
}

// NewQueryGraph 构建问题路由图：
//
//	check_relevance -> retrieve -> grade_documents -> generate
//	                \-> direct_answer               \-> no_documents_fallback
func NewQueryGraph(caps Capabilities) (*Graph, error) {
	if caps.Chat == nil || caps.Retriever == nil {
		return nil, errors.ErrRAGConfig.WithMessage("query graph requires a chat provider and a retriever")
	}
	n := &nodes{Capabilities: caps}

	return NewGraphBuilder().
		SetEntry(NodeCheckRelevance).
		AddNode(NodeCheckRelevance, n.checkRelevance).
		AddNode(NodeRetrieve, n.retrieve).
		AddNode(NodeGradeDocuments, n.gradeDocuments).
		AddNode(NodeGenerate, n.generate).
		AddNode(NodeDirectAnswer, n.directAnswer).
		AddNode(NodeNoDocumentsFallback, n.noDocumentsFallback).
		AddConditionalEdge(NodeCheckRelevance, routeRelevance, NodeRetrieve, NodeDirectAnswer).
		AddEdge(NodeRetrieve, NodeGradeDocuments).
		AddConditionalEdge(NodeGradeDocuments, routeDocuments, NodeGenerate, NodeNoDocumentsFallback).
		AddEdge(NodeGenerate, NodeEnd).
		AddEdge(NodeDirectAnswer, NodeEnd).
		AddEdge(NodeNoDocumentsFallback, NodeEnd).
		WithMetrics(caps.Metrics).
		Compile()
}

func routeRelevance(s *QueryState) Node {
	switch s.Relevance {
	case RelevanceRelevant:
		return NodeRetrieve
	case RelevanceNotRelevant:
		return NodeDirectAnswer
	default:
		// 未判定时返回未声明的目标，由图报告错误
		return NodeEnd
	}
}

func routeDocuments(s *QueryState) Node {
	if len(s.Documents) > 0 {
		return NodeGenerate
	}
	return NodeNoDocumentsFallback
}

// complete 调用语言模型。调用方取消时返回 ctx 错误，其他失败包装为 ErrRAGModelCall。
func (n *nodes) complete(ctx context.Context, purpose, prompt string) (string, error) {
	start := time.Now()
	reply, err := n.Chat.Generate(ctx, prompt, "")
	if n.Metrics != nil {
		n.Metrics.RecordLLMCall(purpose, time.Since(start), err)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", errors.ErrRAGModelCall.WithMessagef("%s call to %s failed", purpose, n.Chat.Name()).WithCause(err)
	}
	return reply, nil
}

// checkRelevance 相关性判断失败时直接向上返回，不做默认猜测。
func (n *nodes) checkRelevance(ctx context.Context, s *QueryState) error {
	reply, err := n.complete(ctx, "relevance", buildRelevancePrompt(s.Question))
	if err != nil {
		return err
	}
	relevant := saysYes(reply)
	logger.Debugw("relevance checked", "relevant", relevant, "reply", textutil.TruncateString(reply, 80))
	return s.setRelevance(relevant)
}

func (n *nodes) retrieve(ctx context.Context, s *QueryState) error {
	results, err := n.Retriever.Search(ctx, s.Question)
	if err != nil {
		return err
	}
	docs := make([]*model.Chunk, len(results))
	for i, r := range results {
		docs[i] = r.Chunk
	}
	s.Documents = docs
	logger.Debugw("documents retrieved", "count", len(docs))
	return nil
}

// gradeDocuments 对每个文档块独立评分，保持原有顺序。
// 单个评分调用失败按 "no" 处理并记录日志；调用方取消则中止整个查询。
func (n *nodes) gradeDocuments(ctx context.Context, s *QueryState) error {
	docs := s.Documents
	verdicts := make([]bool, len(docs))
	grade := func(ctx context.Context, i int) error {
		reply, err := n.complete(ctx, "grade", buildGradePrompt(s.Question, docs[i].Text))
		if err != nil {
			return err
		}
		verdicts[i] = saysYes(reply)
		return nil
	}

	var errs []error
	if n.GradePool != nil {
		errs = n.GradePool.ForEach(ctx, len(docs), grade)
	} else {
		errs = make([]error, len(docs))
		for i := range docs {
			errs[i] = grade(ctx, i)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	kept := make([]*model.Chunk, 0, len(docs))
	for i, d := range docs {
		if errs[i] != nil {
			logger.Warnw("grading call failed, treating document as not relevant",
				"chunk_id", d.ID,
				"source", d.Source,
				"error", errs[i].Error(),
			)
		}
		if n.Metrics != nil {
			n.Metrics.RecordGrade(verdicts[i], errs[i])
		}
		if errs[i] == nil && verdicts[i] {
			kept = append(kept, d)
		}
	}
	logger.Debugw("documents graded", "retrieved", len(docs), "kept", len(kept))
	s.Documents = kept
	return nil
}

func (n *nodes) generate(ctx context.Context, s *QueryState) error {
	reply, err := n.complete(ctx, "generate", buildGeneratePrompt(s.Question, s.Documents))
	if err != nil {
		return err
	}
	return s.setGeneration(reply)
}

func (n *nodes) directAnswer(ctx context.Context, s *QueryState) error {
	reply, err := n.complete(ctx, "direct_answer", buildDirectAnswerPrompt(s.Question))
	if err != nil {
		return err
	}
	s.Documents = []*model.Chunk{}
	return s.setGeneration(withDisclaimer(reply))
}

func (n *nodes) noDocumentsFallback(_ context.Context, s *QueryState) error {
	s.Documents = []*model.Chunk{}
	return s.setGeneration(NoDocumentsAnswer)
}
