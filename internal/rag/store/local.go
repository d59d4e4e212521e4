package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/docutil"
	"github.com/kart-io/compliance-rag/pkg/utils/json"
	"github.com/kart-io/logger"
)

// 本地索引产物的文件名。
const (
	VectorFile  = "index.vec"
	PayloadFile = "index.json"
)

// vectorArtifact index.vec 的内容（gob 编码）。
type vectorArtifact struct {
	Meta    ArtifactMeta
	Vectors [][]float32
}

// payloadArtifact index.json 的内容。
type payloadArtifact struct {
	Meta   ArtifactMeta   `json:"meta"`
	Chunks []*model.Chunk `json:"chunks"`
}

// LocalStore 将索引产物保存在本地目录中。
// 目录下恰好包含 index.vec 和 index.json 两个文件，替换时先写入临时目录再整体重命名。
type LocalStore struct {
	path string
	mu   sync.Mutex
}

// NewLocalStore 创建本地产物存储。
func NewLocalStore(path string) *LocalStore {
	return &LocalStore{path: filepath.Clean(path)}
}

// Path 返回产物目录。
func (s *LocalStore) Path() string {
	return s.path
}

// Backend 返回后端名称。
func (s *LocalStore) Backend() string {
	return BackendLocal
}

// Ready 两个文件都存在且均非空时视为就绪。
func (s *LocalStore) Ready(_ context.Context) bool {
	return docutil.NonEmptyFile(filepath.Join(s.path, VectorFile)) &&
		docutil.NonEmptyFile(filepath.Join(s.path, PayloadFile))
}

// Save 写入新的索引产物并原子替换旧产物。
func (s *LocalStore) Save(ctx context.Context, meta ArtifactMeta, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta.Backend = BackendLocal
	vectors := make([][]float32, len(entries))
	chunks := make([]*model.Chunk, len(entries))
	for i, e := range entries {
		if len(e.Vector) != meta.Dimension {
			return fmt.Errorf("%w: entry %d has dimension %d, expected %d", ErrDimensionMismatch, i, len(e.Vector), meta.Dimension)
		}
		vectors[i] = e.Vector
		chunks[i] = e.Chunk
	}

	parent := filepath.Dir(s.path)
	if err := docutil.EnsureDir(parent); err != nil {
		return fmt.Errorf("创建产物目录失败: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(s.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("创建临时目录失败: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := writeGob(filepath.Join(tmp, VectorFile), &vectorArtifact{Meta: meta, Vectors: vectors}); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", VectorFile, err)
	}
	if err := writeJSON(filepath.Join(tmp, PayloadFile), &payloadArtifact{Meta: meta, Chunks: chunks}); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", PayloadFile, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 旧目录先移开，新目录再就位；读者最多看到目录短暂缺失
	old := ""
	if docutil.DirExists(s.path) {
		old = tmp + ".old"
		if err := os.Rename(s.path, old); err != nil {
			return fmt.Errorf("移开旧产物失败: %w", err)
		}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		if old != "" {
			_ = os.Rename(old, s.path)
		}
		return fmt.Errorf("替换产物失败: %w", err)
	}
	committed = true

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			logger.Warnw("failed to remove previous index artifact", "path", old, "error", err.Error())
		}
	}

	logger.Infow("index artifact saved",
		"path", s.path,
		"build_id", meta.BuildID,
		"chunks", len(entries),
		"dimension", meta.Dimension,
	)
	return nil
}

// Load 读取两个文件并校验它们属于同一次构建。
func (s *LocalStore) Load(ctx context.Context) (Index, error) {
	if !s.Ready(ctx) {
		return nil, ErrNotReady
	}

	var vec vectorArtifact
	if err := readGob(filepath.Join(s.path, VectorFile), &vec); err != nil {
		if incomplete(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotReady, VectorFile, err)
		}
		return nil, fmt.Errorf("%w: 读取 %s 失败: %v", ErrCorrupt, VectorFile, err)
	}

	var payload payloadArtifact
	if err := readJSON(filepath.Join(s.path, PayloadFile), &payload); err != nil {
		if incomplete(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotReady, PayloadFile, err)
		}
		return nil, fmt.Errorf("%w: 读取 %s 失败: %v", ErrCorrupt, PayloadFile, err)
	}

	// 两个文件来自不同构建，说明读取期间产物被替换
	if vec.Meta.BuildID != payload.Meta.BuildID {
		return nil, fmt.Errorf("%w: build id mismatch (%s != %s)", ErrNotReady, vec.Meta.BuildID, payload.Meta.BuildID)
	}

	return newMemoryIndex(vec.Meta, payload.Chunks, vec.Vectors)
}

// Close 本地存储无需释放资源。
func (s *LocalStore) Close(_ context.Context) error {
	return nil
}

func writeGob(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readGob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(v)
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return io.EOF
	}
	// 以对象开头却没有闭合，视为写入被截断
	if data[0] == '{' && data[len(data)-1] != '}' && !json.Valid(data) {
		return io.ErrUnexpectedEOF
	}
	return json.Unmarshal(data, v)
}

// incomplete 判断读取失败是否源于文件缺失或被截断。
func incomplete(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

var _ ArtifactStore = (*LocalStore)(nil)
