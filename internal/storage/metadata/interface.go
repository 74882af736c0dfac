package metadata

import (
	"context"
	"time"
)

// Job 状态（processing_jobs.status）
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobComplete   = "complete"
	JobFailed     = "failed"
)

// 图纸各阶段状态（plan_sheets.*_status）
const (
	StagePending  = "pending"
	StageFailed   = "failed"
	SheetExtracted = "extracted" // metadata_status
	TilesGenerated = "generated" // tile_status
	MarkersDetected = "detected" // marker_status
)

// Store 关系存储接口（processing_jobs 与 plan_sheets）
type Store interface {
	// CreateJob 创建处理任务行（Intake 调用，status=pending）
	CreateJob(ctx context.Context, job *ProcessingJob) error
	// GetJob 根据 uploadId 获取处理任务
	GetJob(ctx context.Context, uploadID string) (*ProcessingJob, error)
	// UpdateJobStatus 更新任务状态与 lastError；终态时写 completedAt
	UpdateJobStatus(ctx context.Context, uploadID string, status string, lastError string) error
	// CreateSheets 批量创建图纸占位行（Intake 调用）
	CreateSheets(ctx context.Context, sheets []*PlanSheet) error
	// GetSheet 根据 sheetId 获取图纸行
	GetSheet(ctx context.Context, sheetID string) (*PlanSheet, error)
	// ListSheets 列出某 upload 的全部图纸行，按 sheetNumber 升序
	ListSheets(ctx context.Context, uploadID string) ([]*PlanSheet, error)
	// UpdateSheetMetadata 写入阶段一产物：sheetName、sheetKey 与 metadataStatus
	UpdateSheetMetadata(ctx context.Context, sheetID string, sheetName string, sheetKey string, status string) error
	// UpdateSheetTileStatus 更新瓦片阶段状态
	UpdateSheetTileStatus(ctx context.Context, sheetID string, status string) error
	// UpdateSheetMarkerStatus 更新 marker 阶段状态
	UpdateSheetMarkerStatus(ctx context.Context, sheetID string, status string) error
	// Close 关闭存储连接
	Close() error
}

// ProcessingJob 处理任务行（每 upload 一行）
type ProcessingJob struct {
	UploadID       string     `json:"upload_id"` // 主键，外部生成
	PlanID         string     `json:"plan_id"`
	ProjectID      string     `json:"project_id"`
	OrganizationID string     `json:"organization_id"`
	Status         string     `json:"status"` // pending | processing | complete | failed
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PlanSheet 图纸行（每 upload 多行，sheetNumber 从 1 开始）
type PlanSheet struct {
	ID             string `json:"id"` // sheetId 主键
	UploadID       string `json:"upload_id"`
	PlanID         string `json:"plan_id"`
	SheetNumber    int    `json:"sheet_number"`
	SheetName      string `json:"sheet_name,omitempty"` // 提取的图纸标签，可缺失
	SheetKey       string `json:"sheet_key"`            // 对象存储中的页面路径
	MetadataStatus string `json:"metadata_status"`      // pending | extracted | failed
	TileStatus     string `json:"tile_status"`          // pending | generated | failed
	MarkerStatus   string `json:"marker_status"`        // pending | detected | failed
}
