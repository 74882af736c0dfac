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

package http

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"plan-platform/internal/coordinator"
)

// initializeRequest 管线初始化请求
type initializeRequest struct {
	UploadID    string `json:"uploadId"`
	TotalSheets int    `json:"totalSheets"`
	TimeoutMs   int64  `json:"timeoutMs"`
}

// completionRequest 阶段完成回执请求。validSheets 仅 sheet-complete 携带，
// 出于协议兼容接收；扇出时的有效图纸名一律从存储重新计算。
type completionRequest struct {
	SheetNumber int      `json:"sheetNumber"`
	ValidSheets []string `json:"validSheets"`
}

// InitializePipeline 创建某 upload 的管线状态并武装截止告警。
// 上传走 /api/plans/upload 时由 Intake 在进程内调用，此端点供
// 外部编排器或恢复场景直接初始化。
// POST /api/pipeline/initialize
func (h *Handler) InitializePipeline(c context.Context, ctx *app.RequestContext) {
	var req initializeRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	state, err := h.manager.Initialize(c, req.UploadID, req.TotalSheets, req.TimeoutMs)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, state.Snapshot())
}

// SheetComplete 一页元数据提取完成回执
// POST /api/pipeline/:uploadId/sheet-complete
func (h *Handler) SheetComplete(c context.Context, ctx *app.RequestContext) {
	uploadID := ctx.Param("uploadId")
	var req completionRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	progress, err := h.manager.SheetComplete(c, uploadID, req.SheetNumber, req.ValidSheets)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	h.invalidateProgress(c, uploadID)
	ctx.JSON(consts.StatusOK, progress)
}

// TileComplete 一页切片生成完成回执
// POST /api/pipeline/:uploadId/tile-complete
func (h *Handler) TileComplete(c context.Context, ctx *app.RequestContext) {
	uploadID := ctx.Param("uploadId")
	var req completionRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	progress, err := h.manager.TileComplete(c, uploadID, req.SheetNumber)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	h.invalidateProgress(c, uploadID)
	ctx.JSON(consts.StatusOK, progress)
}

// MarkerComplete 一页标记检测完成回执
// POST /api/pipeline/:uploadId/marker-complete
func (h *Handler) MarkerComplete(c context.Context, ctx *app.RequestContext) {
	uploadID := ctx.Param("uploadId")
	var req completionRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	progress, err := h.manager.MarkerComplete(c, uploadID, req.SheetNumber)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	h.invalidateProgress(c, uploadID)
	ctx.JSON(consts.StatusOK, progress)
}

// GetProgress 查询管线进度快照；配置缓存时走短 TTL 缓存
// GET /api/pipeline/:uploadId/progress
func (h *Handler) GetProgress(c context.Context, ctx *app.RequestContext) {
	uploadID := ctx.Param("uploadId")
	if uploadID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "uploadId is required"})
		return
	}

	if h.cache != nil {
		var cached coordinator.Progress
		if err := h.cache.Get(c, progressCacheKey(uploadID), &cached); err == nil {
			ctx.JSON(consts.StatusOK, &cached)
			return
		}
	}

	progress, err := h.manager.GetProgress(c, uploadID)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	if h.cache != nil {
		_ = h.cache.Set(c, progressCacheKey(uploadID), progress, h.cacheTTL)
	}
	ctx.JSON(consts.StatusOK, progress)
}

func progressCacheKey(uploadID string) string {
	return "progress:" + uploadID
}

// invalidateProgress 完成回执改变状态后剔除缓存的进度快照
func (h *Handler) invalidateProgress(c context.Context, uploadID string) {
	if h.cache != nil {
		_ = h.cache.Delete(c, progressCacheKey(uploadID))
	}
}
