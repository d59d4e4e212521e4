// Package textutil 提供 RAG 相关的文本处理工具函数。
package textutil

import (
	"math"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators 递归切分使用的默认分隔符，按优先级从高到低排列。
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]，1 表示完全相同，-1 表示完全相反。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// Splitter 递归字符切分器。
// 依次尝试分隔符，直到每个片段不超过 ChunkSize 个字符，再把相邻片段合并成带重叠的块。
// 长度按 Unicode 字符计算。
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewSplitter 创建切分器。overlap 会被限制在 [0, chunkSize) 范围内。
func NewSplitter(chunkSize, overlap int) *Splitter {
	if overlap < 0 {
		overlap = 0
	}
	if chunkSize > 0 && overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &Splitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: overlap,
		Separators:   DefaultSeparators,
	}
}

// Split 切分文本，丢弃空白块。
func (s *Splitter) Split(text string) []string {
	if s.ChunkSize <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	separators := s.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return s.split(text, separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepSeparator(text, sep) {
		if utf8.RuneCountInString(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if p := strings.TrimSpace(piece); p != "" {
				final = append(final, p)
			}
			continue
		}
		final = append(final, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge 将小片段合并为不超过 ChunkSize 的块，相邻块保留约 ChunkOverlap 个字符的重叠。
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		lengths []int
		total   int
	)
	flush := func() {
		if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
			chunks = append(chunks, doc)
		}
	}

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > s.ChunkSize && len(current) > 0 {
			flush()
			for total > s.ChunkOverlap || (total+n > s.ChunkSize && total > 0) {
				total -= lengths[0]
				current = current[1:]
				lengths = lengths[1:]
			}
		}
		current = append(current, piece)
		lengths = append(lengths, n)
		total += n
	}
	if len(current) > 0 {
		flush()
	}
	return chunks
}

// splitKeepSeparator 按分隔符切分，分隔符保留在后一个片段的开头。空分隔符按字符切分。
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
