package textutil_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kart-io/compliance-rag/internal/pkg/rag/textutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{
			name:     "相同向量",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{1.0, 0.0, 0.0},
			expected: 1.0,
		},
		{
			name:     "正交向量",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{0.0, 1.0, 0.0},
			expected: 0.0,
		},
		{
			name:     "相反向量",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{-1.0, 0.0, 0.0},
			expected: -1.0,
		},
		{
			name:     "空向量",
			a:        []float32{},
			b:        []float32{},
			expected: 0.0,
		},
		{
			name:     "长度不匹配",
			a:        []float32{1.0, 2.0},
			b:        []float32{1.0},
			expected: 0.0,
		},
		{
			name:     "零向量",
			a:        []float32{0, 0},
			b:        []float32{1, 1},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := textutil.CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.expected, result, 0.0001)
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"短于限制", "hello", 10, "hello"},
		{"等于限制", "hello", 5, "hello"},
		{"超过限制", "hello world", 5, "hello"},
		{"中文字符", "你好世界", 2, "你好"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, textutil.TruncateString(tt.input, tt.maxLen))
		})
	}
}

func TestSplitter_ShortText(t *testing.T) {
	s := textutil.NewSplitter(1000, 200)

	chunks := s.Split("Flaring is limited to 24 hours.")
	assert.Equal(t, []string{"Flaring is limited to 24 hours."}, chunks)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("  \n\n  "))
}

func TestSplitter_ParagraphsFirst(t *testing.T) {
	s := textutil.NewSplitter(30, 0)
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird one."

	chunks := s.Split(text)
	assert.Equal(t, []string{"First paragraph here.", "Second paragraph here.", "Third one."}, chunks)
}

func TestSplitter_RespectsChunkSize(t *testing.T) {
	s := textutil.NewSplitter(50, 10)
	text := strings.Repeat("venting and flaring rules apply to all operators. ", 40)

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
		assert.Equal(t, strings.TrimSpace(c), c)
		assert.NotEmpty(t, c)
	}
}

func TestSplitter_Overlap(t *testing.T) {
	s := textutil.NewSplitter(20, 8)
	words := "alpha beta gamma delta epsilon zeta eta theta iota kappa"

	chunks := s.Split(words)
	require.Greater(t, len(chunks), 1)
	// 相邻块之间存在重叠的单词
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		cur := strings.Fields(chunks[i])
		assert.Contains(t, prev, cur[0], "chunk %d should start inside chunk %d", i, i-1)
	}
}

func TestSplitter_CharacterFallback(t *testing.T) {
	s := textutil.NewSplitter(10, 0)
	chunks := s.Split(strings.Repeat("x", 25))

	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestSplitter_Deterministic(t *testing.T) {
	s := textutil.NewSplitter(40, 10)
	text := strings.Repeat("Methane leak detection surveys are quarterly.\n", 20)

	assert.Equal(t, s.Split(text), s.Split(text))
}

func TestNewSplitter_ClampsOverlap(t *testing.T) {
	s := textutil.NewSplitter(10, 50)
	assert.Equal(t, 9, s.ChunkOverlap)

	s = textutil.NewSplitter(10, -1)
	assert.Equal(t, 0, s.ChunkOverlap)
}
