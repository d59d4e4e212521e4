package loader

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/kart-io/compliance-rag/internal/model"
)

// readText 将整个文件作为一个文档读取，要求内容为合法的 UTF-8。
func readText(path string) ([]*model.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("文件不是合法的 UTF-8 文本: %s", path)
	}
	return []*model.Document{{Content: string(content)}}, nil
}
