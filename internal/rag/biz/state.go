package biz

import (
	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
)

// Relevance 相关性判断结果（三态）。
type Relevance int

const (
	RelevanceUnset Relevance = iota
	RelevanceRelevant
	RelevanceNotRelevant
)

func (r Relevance) String() string {
	switch r {
	case RelevanceRelevant:
		return "relevant"
	case RelevanceNotRelevant:
		return "not_relevant"
	default:
		return "unset"
	}
}

// QueryState 单次查询在图中流转的状态，每个问题新建一个，查询结束后丢弃。
// Relevance 与 Generation 只能写入一次。
type QueryState struct {
	Question   string
	Relevance  Relevance
	Documents  []*model.Chunk
	Generation string

	generated bool
}

// NewQueryState 创建查询状态。
func NewQueryState(question string) *QueryState {
	return &QueryState{Question: question}
}

func (s *QueryState) setRelevance(relevant bool) error {
	if s.Relevance != RelevanceUnset {
		return errors.ErrRAGGraph.WithMessage("relevance written twice")
	}
	if relevant {
		s.Relevance = RelevanceRelevant
	} else {
		s.Relevance = RelevanceNotRelevant
	}
	return nil
}

func (s *QueryState) setGeneration(text string) error {
	if s.generated {
		return errors.ErrRAGGraph.WithMessage("generation written twice")
	}
	s.Generation = text
	s.generated = true
	return nil
}

// Result 返回查询结果，Documents 总是非 nil。
func (s *QueryState) Result() *model.QueryResult {
	docs := make([]*model.Chunk, len(s.Documents))
	copy(docs, s.Documents)
	return &model.QueryResult{
		Generation: s.Generation,
		Documents:  docs,
	}
}
