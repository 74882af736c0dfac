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

package worker

import (
	"context"
	"encoding/json"

	"plan-platform/internal/coordinator"
	"plan-platform/internal/raster"
	"plan-platform/internal/stagequeue"
	"plan-platform/internal/storage/metadata"
	pkgerrors "plan-platform/pkg/errors"
	"plan-platform/pkg/log"
	"plan-platform/pkg/tracing"
)

// MetadataExecutor 阶段一：栅格化单页并提取页名，写回图纸行后投递回执
type MetadataExecutor struct {
	raster      raster.Service
	repo        *metadata.Repository
	completions coordinator.CompletionClient
	logger      *log.Logger
}

// NewMetadataExecutor 创建阶段一执行器
func NewMetadataExecutor(svc raster.Service, repo *metadata.Repository, completions coordinator.CompletionClient, logger *log.Logger) *MetadataExecutor {
	return &MetadataExecutor{raster: svc, repo: repo, completions: completions, logger: logger}
}

// Stage 实现 Executor
func (e *MetadataExecutor) Stage() string { return "metadata" }

// Execute 实现 Executor。持久化先于回执：回执投递失败时任务不 Ack，
// 重投后整个流程幂等重放。
func (e *MetadataExecutor) Execute(ctx context.Context, task *stagequeue.Task) error {
	var job stagequeue.MetadataJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return pkgerrors.Wrap(err, "解析 MetadataJob 失败")
	}
	ctx, span := tracing.StartStageSpan(ctx, "metadata", job.UploadID, job.SheetNumber)
	defer span.End()

	sheet, err := e.repo.SheetByNumber(ctx, job.UploadID, job.SheetNumber)
	if err != nil {
		return err
	}

	meta, err := e.raster.ExtractSheetMetadata(ctx, job.SheetKey, job.SheetNumber)
	if err != nil {
		return pkgerrors.Wrapf(err, "提取元数据失败 (sheet %d)", job.SheetNumber)
	}

	if err := e.repo.MarkSheetExtracted(ctx, sheet.ID, meta.Name, job.SheetKey); err != nil {
		return pkgerrors.Wrap(err, "写回图纸行失败")
	}

	e.logger.Info("元数据提取完成", "upload_id", job.UploadID, "sheet_number", job.SheetNumber, "sheet_name", meta.Name)
	return e.completions.SheetComplete(ctx, job.UploadID, job.SheetNumber, nil)
}
