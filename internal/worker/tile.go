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
	"plan-platform/internal/storage/object"
	pkgerrors "plan-platform/pkg/errors"
	"plan-platform/pkg/log"
	"plan-platform/pkg/tracing"
)

// TileExecutor 阶段二：为单页生成 deep-zoom 切片金字塔。
// 瓦片与 dzi 清单由切片服务按稳定 key 直接写入对象存储。
type TileExecutor struct {
	raster      raster.Service
	repo        *metadata.Repository
	completions coordinator.CompletionClient
	logger      *log.Logger
}

// NewTileExecutor 创建阶段二执行器
func NewTileExecutor(svc raster.Service, repo *metadata.Repository, completions coordinator.CompletionClient, logger *log.Logger) *TileExecutor {
	return &TileExecutor{raster: svc, repo: repo, completions: completions, logger: logger}
}

// Stage 实现 Executor
func (e *TileExecutor) Stage() string { return "tile" }

// Execute 实现 Executor
func (e *TileExecutor) Execute(ctx context.Context, task *stagequeue.Task) error {
	var job stagequeue.TileJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return pkgerrors.Wrap(err, "解析 TileJob 失败")
	}
	ctx, span := tracing.StartStageSpan(ctx, "tile", job.UploadID, job.SheetNumber)
	defer span.End()

	ref := object.SheetRef{
		OrganizationID: job.OrganizationID,
		ProjectID:      job.ProjectID,
		PlanID:         job.PlanID,
		SheetNumber:    job.SheetNumber,
	}
	result, err := e.raster.GenerateTiles(ctx, job.SheetKey, ref.Root())
	if err != nil {
		return pkgerrors.Wrapf(err, "生成切片失败 (sheet %d)", job.SheetNumber)
	}

	if err := e.repo.MarkTilesGenerated(ctx, job.SheetID); err != nil {
		return pkgerrors.Wrap(err, "写回图纸行失败")
	}

	e.logger.Info("切片生成完成", "upload_id", job.UploadID, "sheet_number", job.SheetNumber,
		"dzi_key", result.DziKey, "tile_count", result.TileCount)
	return e.completions.TileComplete(ctx, job.UploadID, job.SheetNumber)
}
