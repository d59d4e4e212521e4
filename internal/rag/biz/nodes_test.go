package biz

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/pkg/infra/pool"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
)

func testChunks(n int) []*model.Chunk {
	chunks := make([]*model.Chunk, n)
	for i := range chunks {
		chunks[i] = &model.Chunk{ID: int64(i), Text: fmt.Sprintf("chunk-%d about flaring", i), Source: "reg.txt"}
	}
	return chunks
}

func TestNewQueryGraph_RequiresCapabilities(t *testing.T) {
	_, err := NewQueryGraph(Capabilities{Retriever: &staticSearcher{}})
	assert.ErrorIs(t, err, errors.ErrRAGConfig)

	_, err = NewQueryGraph(Capabilities{Chat: newScriptedChat()})
	assert.ErrorIs(t, err, errors.ErrRAGConfig)
}

func TestQueryGraph_GradingPreservesOrder(t *testing.T) {
	p, err := pool.NewPool("grading-test", pool.GradingPool, pool.GradingPoolConfig(3))
	require.NoError(t, err)
	defer p.Release()

	chat := newScriptedChat()
	chat.grade = func(prompt string) (string, error) {
		time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
		doc := gradedDocument(prompt)
		var id int
		_, _ = fmt.Sscanf(doc, "chunk-%d", &id)
		if id%2 == 0 {
			return "Yes", nil
		}
		return "No", nil
	}

	g, err := NewQueryGraph(Capabilities{
		Chat:      chat,
		Retriever: &staticSearcher{chunks: testChunks(10)},
		GradePool: p,
	})
	require.NoError(t, err)

	s := NewQueryState("flaring limits")
	terminal, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NodeGenerate, terminal)

	ids := make([]int64, len(s.Documents))
	for i, d := range s.Documents {
		ids[i] = d.ID
	}
	assert.Equal(t, []int64{0, 2, 4, 6, 8}, ids)
	assert.Equal(t, 10, chat.count("grade"))
}

func TestQueryGraph_RetrieveErrorPropagates(t *testing.T) {
	chat := newScriptedChat()
	g, err := NewQueryGraph(Capabilities{
		Chat:      chat,
		Retriever: &staticSearcher{err: errors.ErrRAGIndexNotReady},
	})
	require.NoError(t, err)

	_, err = g.Run(context.Background(), NewQueryState("flaring limits"))
	assert.ErrorIs(t, err, errors.ErrRAGIndexNotReady)
	assert.Zero(t, chat.count("grade"))
}

func TestQueryGraph_GeneratePromptUsesContext(t *testing.T) {
	var seen string
	chat := newScriptedChat()
	chat.generate = func(prompt string) (string, error) {
		seen = prompt
		return "answer", nil
	}
	g, err := NewQueryGraph(Capabilities{Chat: chat, Retriever: &staticSearcher{chunks: testChunks(2)}})
	require.NoError(t, err)

	s := NewQueryState("flaring limits")
	_, err = g.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Contains(t, seen, "Question: flaring limits")
	assert.Contains(t, seen, "chunk-0 about flaring\n\nchunk-1 about flaring")
	assert.Equal(t, "answer", s.Generation)
}

func TestQueryGraph_GenerateFailure(t *testing.T) {
	chat := newScriptedChat()
	chat.generate = func(string) (string, error) { return "", fmt.Errorf("timeout") }
	g, err := NewQueryGraph(Capabilities{Chat: chat, Retriever: &staticSearcher{chunks: testChunks(1)}})
	require.NoError(t, err)

	_, err = g.Run(context.Background(), NewQueryState("flaring limits"))
	assert.ErrorIs(t, err, errors.ErrRAGModelCall)
}

func TestSaysYes(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"yes", true},
		{"Yes.", true},
		{"YES, it is.", true},
		{"no", false},
		{"", false},
		{"The answer is: yes", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, saysYes(tt.reply), tt.reply)
	}
}

func TestWithDisclaimer(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"模型未输出前缀", "It is sunny.", OffTopicDisclaimer + " It is sunny."},
		{"模型已输出前缀", OffTopicDisclaimer + " It is sunny.", OffTopicDisclaimer + " It is sunny."},
		{"前缀带引号", "\"" + OffTopicDisclaimer + "\" It is sunny.", OffTopicDisclaimer + " It is sunny."},
		{"空回答", "  ", OffTopicDisclaimer},
		{"前缀出现在中间", "Sure! " + OffTopicDisclaimer + " It is sunny.", OffTopicDisclaimer + " Sure! It is sunny."},
		{"只有前缀", OffTopicDisclaimer, OffTopicDisclaimer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := withDisclaimer(tt.reply)
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasPrefix(got, OffTopicDisclaimer))
			assert.Equal(t, 1, strings.Count(got, OffTopicDisclaimer))
		})
	}
}

func TestPrompts(t *testing.T) {
	assert.Contains(t, buildRelevancePrompt("Is venting allowed?"), `User question: "Is venting allowed?"`)
	assert.Contains(t, buildGradePrompt("q", "doc text"), "Retrieved document:\ndoc text")
	assert.Contains(t, buildDirectAnswerPrompt("q"), OffTopicDisclaimer)
}
