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
	"io"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"plan-platform/internal/intake"
	pkgerrors "plan-platform/pkg/errors"
)

// UploadPlan 受理一次图纸上传（multipart：file + planId/projectId/organizationId，
// uploadId 可选，空则服务端生成）
// POST /api/plans/upload
func (h *Handler) UploadPlan(c context.Context, ctx *app.RequestContext) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "file is required",
		})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.writeError(c, ctx, pkgerrors.Wrap(err, "打开上传文件失败"))
		return
	}
	defer file.Close()
	pdf, err := io.ReadAll(file)
	if err != nil {
		h.writeError(c, ctx, pkgerrors.Wrap(err, "读取上传文件失败"))
		return
	}

	req := &intake.UploadRequest{
		UploadID:       ctx.PostForm("uploadId"),
		PlanID:         ctx.PostForm("planId"),
		ProjectID:      ctx.PostForm("projectId"),
		OrganizationID: ctx.PostForm("organizationId"),
		Filename:       fileHeader.Filename,
		PDF:            pdf,
	}
	result, err := h.intake.ProcessUpload(c, req)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	hlog.CtxInfof(c, "plan upload accepted: upload_id=%s total_sheets=%d", result.UploadID, result.TotalSheets)
	ctx.JSON(consts.StatusOK, result)
}

// ListSheets 列出某 upload 的全部图纸行（sheetNumber 升序）
// GET /api/plans/:uploadId/sheets
func (h *Handler) ListSheets(c context.Context, ctx *app.RequestContext) {
	uploadID := ctx.Param("uploadId")
	if uploadID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "uploadId is required"})
		return
	}
	if _, err := h.repo.GetJob(c, uploadID); err != nil {
		h.writeError(c, ctx, err)
		return
	}
	sheets, err := h.repo.ListSheets(c, uploadID)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"uploadId": uploadID,
		"sheets":   sheets,
	})
}

// GetJob 查询处理任务行（status / lastError / 起止时间）
// GET /api/jobs/:uploadId
func (h *Handler) GetJob(c context.Context, ctx *app.RequestContext) {
	uploadID := ctx.Param("uploadId")
	if uploadID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "uploadId is required"})
		return
	}
	job, err := h.repo.GetJob(c, uploadID)
	if err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, job)
}
