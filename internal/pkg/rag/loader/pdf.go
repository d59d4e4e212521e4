package loader

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/logger"
	"github.com/ledongthuc/pdf"
)

// readPDF 按页读取 PDF，每页一个文档，页码从 1 开始。
// 无法解析的单页会被跳过；整个文件无法解析时返回错误。
func (l *Loader) readPDF(path string) (docs []*model.Document, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("空 PDF 文件: %s", path)
	}

	// 解析器在遇到损坏的文件时可能 panic
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("解析 PDF 失败: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("解析 PDF 失败: %w", err)
	}

	pageCount := reader.NumPage()
	docs = make([]*model.Document, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Debugw("skipping unparsable pdf page", "path", path, "page", i, "error", err.Error())
			continue
		}

		docs = append(docs, &model.Document{
			Page:    i,
			Content: strings.TrimSpace(text),
		})
	}

	return docs, nil
}
