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
	"bytes"
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

// MarkerExecutor 阶段三：检测单页标记并把 markers.json 写入对象存储。
// ValidSheets 来自任务载荷，用于检测服务解析跨页引用。
type MarkerExecutor struct {
	raster      raster.Service
	repo        *metadata.Repository
	objects     object.Store
	completions coordinator.CompletionClient
	logger      *log.Logger
}

// NewMarkerExecutor 创建阶段三执行器
func NewMarkerExecutor(svc raster.Service, repo *metadata.Repository, objects object.Store, completions coordinator.CompletionClient, logger *log.Logger) *MarkerExecutor {
	return &MarkerExecutor{raster: svc, repo: repo, objects: objects, completions: completions, logger: logger}
}

// Stage 实现 Executor
func (e *MarkerExecutor) Stage() string { return "marker" }

// Execute 实现 Executor
func (e *MarkerExecutor) Execute(ctx context.Context, task *stagequeue.Task) error {
	var job stagequeue.MarkerJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return pkgerrors.Wrap(err, "解析 MarkerJob 失败")
	}
	ctx, span := tracing.StartStageSpan(ctx, "marker", job.UploadID, job.SheetNumber)
	defer span.End()

	result, err := e.raster.DetectMarkers(ctx, job.SheetKey, job.ValidSheets)
	if err != nil {
		return pkgerrors.Wrapf(err, "标记检测失败 (sheet %d)", job.SheetNumber)
	}

	markers := result.Markers
	if markers == nil {
		markers = []raster.Marker{}
	}
	blob, err := json.Marshal(markers)
	if err != nil {
		return pkgerrors.Wrap(err, "序列化 markers 失败")
	}
	ref := object.SheetRef{
		OrganizationID: job.OrganizationID,
		ProjectID:      job.ProjectID,
		PlanID:         job.PlanID,
		SheetNumber:    job.SheetNumber,
	}
	// 稳定 key 幂等 PUT：重投时覆盖同一对象
	if err := e.objects.Put(ctx, ref.MarkersKey(), bytes.NewReader(blob), int64(len(blob)), map[string]string{
		"upload_id": job.UploadID,
	}); err != nil {
		return pkgerrors.Wrap(err, "写入 markers.json 失败")
	}

	if err := e.repo.MarkMarkersDetected(ctx, job.SheetID); err != nil {
		return pkgerrors.Wrap(err, "写回图纸行失败")
	}

	e.logger.Info("标记检测完成", "upload_id", job.UploadID, "sheet_number", job.SheetNumber, "markers", len(markers))
	return e.completions.MarkerComplete(ctx, job.UploadID, job.SheetNumber)
}
