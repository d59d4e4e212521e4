package biz

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/loader"
	"github.com/kart-io/compliance-rag/internal/rag/metrics"
	"github.com/kart-io/compliance-rag/internal/rag/store"
	"github.com/kart-io/compliance-rag/pkg/llm"
)

const testDim = 64

// hashEmbedder 词袋哈希嵌入，相同文本得到相同向量，共享词越多越相似。
type hashEmbedder struct {
	dim   int
	name  string
	fail  error
	calls int
	mu    sync.Mutex
}

func newHashEmbedder() *hashEmbedder {
	return &hashEmbedder{dim: testDim, name: "hash"}
}

func (e *hashEmbedder) Name() string { return e.name }

func (e *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *hashEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *hashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(e.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

var _ llm.EmbeddingProvider = (*hashEmbedder)(nil)

// scriptedChat 根据提示词内容区分调用目的并返回预设回答。
type scriptedChat struct {
	mu    sync.Mutex
	calls map[string]int

	relevance func(question string) (string, error)
	grade     func(prompt string) (string, error)
	generate  func(prompt string) (string, error)
	direct    func(prompt string) (string, error)
}

func newScriptedChat() *scriptedChat {
	return &scriptedChat{
		calls: make(map[string]int),
		relevance: func(q string) (string, error) {
			q = strings.ToLower(q)
			if strings.Contains(q, "flaring") || strings.Contains(q, "emission") || strings.Contains(q, "venting") {
				return "Yes.", nil
			}
			return "No.", nil
		},
		grade: func(prompt string) (string, error) {
			if strings.Contains(strings.ToLower(gradedDocument(prompt)), "flaring") {
				return "yes", nil
			}
			return "no", nil
		},
		generate: func(string) (string, error) {
			return "Routine flaring is limited to 24 hours per month.", nil
		},
		direct: func(string) (string, error) {
			return "I cannot check live weather, but it is usually mild.", nil
		},
	}
}

func (c *scriptedChat) Name() string { return "scripted" }

func (c *scriptedChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages")
	}
	return c.Generate(ctx, messages[len(messages)-1].Content, "")
}

func (c *scriptedChat) Generate(ctx context.Context, prompt, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	purpose := classify(prompt)
	c.mu.Lock()
	c.calls[purpose]++
	c.mu.Unlock()

	switch purpose {
	case "relevance":
		return c.relevance(quotedQuestion(prompt))
	case "grade":
		return c.grade(prompt)
	case "generate":
		return c.generate(prompt)
	default:
		return c.direct(prompt)
	}
}

func (c *scriptedChat) count(purpose string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[purpose]
}

func (c *scriptedChat) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

var _ llm.ChatProvider = (*scriptedChat)(nil)

func classify(prompt string) string {
	switch {
	case strings.Contains(prompt, "Is this question related to emissions?"):
		return "relevance"
	case strings.Contains(prompt, "Grade (yes/no):"):
		return "grade"
	case strings.Contains(prompt, "Context:"):
		return "generate"
	default:
		return "direct"
	}
}

func quotedQuestion(prompt string) string {
	start := strings.Index(prompt, "User question: \"")
	if start < 0 {
		return ""
	}
	rest := prompt[start+len("User question: \""):]
	if end := strings.Index(rest, "\""); end >= 0 {
		return rest[:end]
	}
	return rest
}

func gradedDocument(prompt string) string {
	start := strings.Index(prompt, "Retrieved document:\n")
	end := strings.Index(prompt, "\n\nUser question:")
	if start < 0 || end < start {
		return ""
	}
	return prompt[start+len("Retrieved document:\n") : end]
}

// staticSearcher 返回固定的检索结果。
type staticSearcher struct {
	chunks []*model.Chunk
	err    error
}

func (s *staticSearcher) Search(ctx context.Context, _ string) ([]*model.ScoredChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*model.ScoredChunk, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = &model.ScoredChunk{Chunk: c, Score: 1 - float32(i)*0.1}
	}
	return out, nil
}

// writeDocs 在临时目录中写入文档。
func writeDocs(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// newDocLoader 创建加载器，.pdf 文件按单页纯文本读取。
func newDocLoader(dir string) *loader.Loader {
	l := loader.New(dir, []string{".pdf", ".txt"}, nil)
	l.RegisterReader(".pdf", func(path string) ([]*model.Document, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []*model.Document{{Content: string(data), Page: 1}}, nil
	})
	return l
}

type testEnv struct {
	docsDir  string
	embedder *hashEmbedder
	chat     *scriptedChat
	store    *store.LocalStore
	manager  *IndexManager
	service  *RAGService
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	env := &testEnv{
		docsDir:  t.TempDir(),
		embedder: newHashEmbedder(),
		chat:     newScriptedChat(),
		store:    store.NewLocalStore(filepath.Join(t.TempDir(), "vector_store")),
	}
	writeDocs(t, env.docsDir, files)

	m := metrics.NewRAGMetrics()
	env.manager = NewIndexManager(IndexConfig{
		ChunkSize:      200,
		ChunkOverlap:   20,
		TopK:           4,
		EmbeddingDim:   testDim,
		EmbedBatchSize: 2,
	}, newDocLoader(env.docsDir), env.embedder, env.store, WithIndexMetrics(m))
	env.service = NewRAGService(env.manager, env.chat, WithServiceMetrics(m))
	return env
}

var complianceDocs = map[string]string{
	"reg1.pdf": "Routine gas flaring at a production site is limited to 24 hours per calendar month.",
	"reg2.txt": "Operators must submit annual inventory reports to the agency by March 31.",
}
