package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/internal/pkg/rag/docutil"
)

// Ledger 使用 SQLite 记录索引构建历史。
type Ledger struct {
	db *gorm.DB
}

// OpenLedger 打开（必要时创建）构建记录数据库。path 为 ":memory:" 时使用内存数据库。
func OpenLedger(path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := docutil.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("创建 ledger 目录失败: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开 ledger 失败: %w", err)
	}
	if path == ":memory:" {
		// 内存数据库按连接隔离，只能使用单个连接
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewLedger(db)
}

// NewLedger 基于已有连接创建 Ledger 并迁移表结构。
func NewLedger(db *gorm.DB) (*Ledger, error) {
	if err := db.AutoMigrate(&model.BuildRecord{}); err != nil {
		return nil, fmt.Errorf("迁移 ledger 表失败: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Start 记录一次开始的构建。
func (l *Ledger) Start(ctx context.Context, buildID, backend, embeddingModel string) error {
	rec := &model.BuildRecord{
		BuildID:        buildID,
		Backend:        backend,
		EmbeddingModel: embeddingModel,
		Status:         model.BuildStatusRunning,
	}
	return l.db.WithContext(ctx).Create(rec).Error
}

// Finish 根据构建结果更新记录。buildErr 非空时记录为失败。
func (l *Ledger) Finish(ctx context.Context, report *model.BuildReport, buildErr error) error {
	updates := map[string]any{
		"dimension":      report.Dimension,
		"document_count": report.DocumentCount,
		"chunk_count":    report.ChunkCount,
		"duration_ms":    report.Duration.Milliseconds(),
		"status":         model.BuildStatusSucceeded,
		"error":          "",
	}
	if buildErr != nil {
		updates["status"] = model.BuildStatusFailed
		updates["error"] = buildErr.Error()
	}
	return l.db.WithContext(ctx).
		Model(&model.BuildRecord{}).
		Where("build_id = ?", report.BuildID).
		Updates(updates).Error
}

// Get 按构建 ID 查询记录。
func (l *Ledger) Get(ctx context.Context, buildID string) (*model.BuildRecord, error) {
	var rec model.BuildRecord
	if err := l.db.WithContext(ctx).Where("build_id = ?", buildID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent 返回最近的构建记录，按时间倒序。
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*model.BuildRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var recs []*model.BuildRecord
	err := l.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// Close 关闭数据库连接。
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
