// Package loader 从文档目录加载合规文档。
//
// 支持 PDF（按页加载）和纯文本（整文件加载），递归扫描子目录。
// 单个文件读取失败只会记录日志并跳过，不会中断整个加载过程。
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/docutil"
	"github.com/kart-io/compliance-rag/pkg/infra/pool"
	"github.com/kart-io/logger"
)

// DefaultExtensions 默认加载的文件扩展名。
var DefaultExtensions = []string{".pdf", ".txt"}

// ReadFunc 读取单个文件，返回按页排列的文档。纯文本文件只有一页。
type ReadFunc func(path string) ([]*model.Document, error)

// Result 一次加载的结果。
type Result struct {
	Documents []*model.Document
	// Files 匹配扩展名的文件数量（包括被跳过的文件）。
	Files int
	// Skipped 读取失败被跳过的文件（相对路径）。
	Skipped []string
}

// Loader 文档加载器。
type Loader struct {
	dir        string
	extensions []string
	pool       *pool.Pool
	readers    map[string]ReadFunc
}

// New 创建文档加载器。p 为 nil 时顺序读取。
func New(dir string, extensions []string, p *pool.Pool) *Loader {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	l := &Loader{
		dir:        dir,
		extensions: docutil.NormalizeExtensions(extensions),
		pool:       p,
	}
	l.readers = map[string]ReadFunc{
		".pdf": l.readPDF,
	}
	return l
}

// Dir 返回文档目录。
func (l *Loader) Dir() string {
	return l.dir
}

// Extensions 返回生效的扩展名列表。
func (l *Loader) Extensions() []string {
	return l.extensions
}

// RegisterReader 为扩展名注册自定义读取函数，未注册的扩展名按纯文本读取。
func (l *Loader) RegisterReader(ext string, fn ReadFunc) {
	exts := docutil.NormalizeExtensions([]string{ext})
	if len(exts) == 0 {
		return
	}
	l.readers[exts[0]] = fn
}

// Load 加载目录下所有匹配的文档。
// 输出顺序确定：按相对路径排序，同一文件内按页码排序。
// 目录不存在时返回空结果。
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	if !docutil.DirExists(l.dir) {
		logger.Warnw("documents directory does not exist", "dir", l.dir)
		return &Result{}, nil
	}

	files, err := docutil.FindFiles(l.dir, l.extensions)
	if err != nil {
		return nil, fmt.Errorf("扫描文档目录失败: %w", err)
	}

	perFile := make([][]*model.Document, len(files))
	read := func(_ context.Context, i int) error {
		docs, err := l.readFile(files[i])
		perFile[i] = docs
		return err
	}

	errs := make([]error, len(files))
	if l.pool != nil {
		errs = l.pool.ForEach(ctx, len(files), read)
	} else {
		for i := range files {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				continue
			}
			errs[i] = read(ctx, i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Files: len(files)}
	for i, err := range errs {
		rel := docutil.RelPath(l.dir, files[i])
		if err != nil {
			logger.Warnw("skipping unreadable document", "path", rel, "error", err.Error())
			result.Skipped = append(result.Skipped, rel)
			continue
		}
		for _, doc := range perFile[i] {
			if strings.TrimSpace(doc.Content) == "" {
				continue
			}
			doc.Source = rel
			result.Documents = append(result.Documents, doc)
		}
	}

	logger.Infow("documents loaded",
		"dir", l.dir,
		"files", result.Files,
		"documents", len(result.Documents),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

func (l *Loader) readFile(path string) ([]*model.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if fn, ok := l.readers[ext]; ok {
		return fn(path)
	}
	return readText(path)
}
