// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metadata

import (
	"context"

	pkgerrors "plan-platform/pkg/errors"
)

// Repository 封装 Store，提供管线业务方法，供 Coordinator 与 Worker 复用
type Repository struct {
	store Store
}

// NewRepository 从 Store 创建 Repository
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Store 返回底层 Store（app 装配用）
func (r *Repository) Store() Store {
	return r.store
}

// CreateJob 创建处理任务行
func (r *Repository) CreateJob(ctx context.Context, job *ProcessingJob) error {
	return r.store.CreateJob(ctx, job)
}

// GetJob 按 uploadId 获取处理任务
func (r *Repository) GetJob(ctx context.Context, uploadID string) (*ProcessingJob, error) {
	return r.store.GetJob(ctx, uploadID)
}

// PromoteProcessing 首个阶段完成回执到达时 pending → processing；其余状态不变
func (r *Repository) PromoteProcessing(ctx context.Context, uploadID string) error {
	job, err := r.store.GetJob(ctx, uploadID)
	if err != nil {
		return err
	}
	if job.Status != JobPending {
		return nil
	}
	return r.store.UpdateJobStatus(ctx, uploadID, JobProcessing, "")
}

// CompleteJob 管线终态 complete
func (r *Repository) CompleteJob(ctx context.Context, uploadID string) error {
	return r.store.UpdateJobStatus(ctx, uploadID, JobComplete, "")
}

// FailJob 管线终态 failed，附诊断消息（lastError）
func (r *Repository) FailJob(ctx context.Context, uploadID string, msg string) error {
	return r.store.UpdateJobStatus(ctx, uploadID, JobFailed, msg)
}

// RecordDispatchError 扇出失败时仅写 lastError，状态保持不变（triggering_* 闩锁由告警兜底）
func (r *Repository) RecordDispatchError(ctx context.Context, uploadID string, msg string) error {
	job, err := r.store.GetJob(ctx, uploadID)
	if err != nil {
		return err
	}
	return r.store.UpdateJobStatus(ctx, uploadID, job.Status, msg)
}

// CreateSheets 批量创建图纸占位行
func (r *Repository) CreateSheets(ctx context.Context, sheets []*PlanSheet) error {
	return r.store.CreateSheets(ctx, sheets)
}

// ListSheets 列出某 upload 的图纸行（sheetNumber 升序）
func (r *Repository) ListSheets(ctx context.Context, uploadID string) ([]*PlanSheet, error) {
	return r.store.ListSheets(ctx, uploadID)
}

// SheetByNumber 按 uploadId 与页号定位图纸行
func (r *Repository) SheetByNumber(ctx context.Context, uploadID string, sheetNumber int) (*PlanSheet, error) {
	sheets, err := r.store.ListSheets(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	for _, sheet := range sheets {
		if sheet.SheetNumber == sheetNumber {
			return sheet, nil
		}
	}
	return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "upload %s sheet %d", uploadID, sheetNumber)
}

// MarkSheetExtracted 写入阶段一产物（页名、页面 key）并置 extracted
func (r *Repository) MarkSheetExtracted(ctx context.Context, sheetID, sheetName, sheetKey string) error {
	return r.store.UpdateSheetMetadata(ctx, sheetID, sheetName, sheetKey, SheetExtracted)
}

// MarkTilesGenerated 置切片阶段 generated
func (r *Repository) MarkTilesGenerated(ctx context.Context, sheetID string) error {
	return r.store.UpdateSheetTileStatus(ctx, sheetID, TilesGenerated)
}

// MarkMarkersDetected 置 marker 阶段 detected
func (r *Repository) MarkMarkersDetected(ctx context.Context, sheetID string) error {
	return r.store.UpdateSheetMarkerStatus(ctx, sheetID, MarkersDetected)
}

// ExtractedSheets 列出阶段一已完成的图纸行（metadata_status=extracted，sheetNumber 升序）
func (r *Repository) ExtractedSheets(ctx context.Context, uploadID string) ([]*PlanSheet, error) {
	sheets, err := r.store.ListSheets(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	out := sheets[:0]
	for _, sheet := range sheets {
		if sheet.MetadataStatus == SheetExtracted {
			out = append(out, sheet)
		}
	}
	return out, nil
}
