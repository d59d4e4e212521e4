package model

import (
	"time"
)

// Build status values.
const (
	BuildStatusRunning   = "running"
	BuildStatusSucceeded = "succeeded"
	BuildStatusFailed    = "failed"
)

// BuildReport summarises one index build.
type BuildReport struct {
	BuildID        string        `json:"build_id"`
	Backend        string        `json:"backend"`
	EmbeddingModel string        `json:"embedding_model"`
	Dimension      int           `json:"dimension"`
	DocumentCount  int           `json:"document_count"`
	ChunkCount     int           `json:"chunk_count"`
	SkippedFiles   []string      `json:"skipped_files,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// BuildRecord is one row of the build ledger.
type BuildRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	BuildID        string    `json:"build_id" gorm:"type:varchar(26);uniqueIndex;not null"`
	Backend        string    `json:"backend" gorm:"type:varchar(32);not null"`
	EmbeddingModel string    `json:"embedding_model" gorm:"type:varchar(128)"`
	Dimension      int       `json:"dimension" gorm:"default:0"`
	DocumentCount  int       `json:"document_count" gorm:"default:0"`
	ChunkCount     int       `json:"chunk_count" gorm:"default:0"`
	Status         string    `json:"status" gorm:"type:varchar(16);index;default:'running'"`
	Error          string    `json:"error,omitempty" gorm:"type:text"`
	DurationMS     int64     `json:"duration_ms" gorm:"default:0"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for BuildRecord.
func (BuildRecord) TableName() string {
	return "rag_builds"
}
