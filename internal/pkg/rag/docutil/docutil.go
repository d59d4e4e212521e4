// Package docutil 提供文档处理相关的工具函数。
package docutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NormalizeExtensions 将扩展名统一为小写并补齐前导点，去重后保持原顺序。
func NormalizeExtensions(extensions []string) []string {
	seen := make(map[string]bool, len(extensions))
	out := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	return out
}

// FindFiles 递归查找匹配扩展名的文件，扩展名不区分大小写。
// 返回的路径按字典序排序，保证结果确定。
func FindFiles(dir string, extensions []string) ([]string, error) {
	extMap := make(map[string]bool)
	for _, ext := range NormalizeExtensions(extensions) {
		extMap[ext] = true
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if extMap[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// RelPath 返回 path 相对于 base 的路径，使用 / 作为分隔符。无法计算时返回原路径。
func RelPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// EnsureDir 确保目录存在，如果不存在则创建。
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// FileExists 检查文件是否存在。
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NonEmptyFile 检查路径是否为大小大于 0 的普通文件。
func NonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// DirExists 检查目录是否存在。
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
