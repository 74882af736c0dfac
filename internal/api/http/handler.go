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
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"plan-platform/internal/coordinator"
	"plan-platform/internal/intake"
	"plan-platform/internal/storage/cache"
	"plan-platform/internal/storage/metadata"
	pkgerrors "plan-platform/pkg/errors"
	"plan-platform/pkg/metrics"
)

// Handler HTTP 处理器（上传受理 + 管线控制面 + 系统管理）
type Handler struct {
	intake  *intake.Service
	manager *coordinator.Manager
	repo    *metadata.Repository

	cache    cache.Store
	cacheTTL time.Duration

	startedAt time.Time
}

// NewHandler 创建 HTTP 处理器
func NewHandler(intakeSvc *intake.Service, manager *coordinator.Manager, repo *metadata.Repository) *Handler {
	return &Handler{
		intake:    intakeSvc,
		manager:   manager,
		repo:      repo,
		startedAt: time.Now(),
	}
}

// SetProgressCache 配置进度快照缓存（可选，短 TTL）
func (h *Handler) SetProgressCache(store cache.Store, ttl time.Duration) {
	h.cache = store
	h.cacheTTL = ttl
}

// statusForError 错误到 HTTP 状态码的映射
func statusForError(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidArg):
		return consts.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotInitialized), pkgerrors.IsNotFound(err):
		return consts.StatusNotFound
	case errors.Is(err, coordinator.ErrAlreadyInitialized), errors.Is(err, pkgerrors.ErrConflict):
		return consts.StatusConflict
	default:
		return consts.StatusInternalServerError
	}
}

func (h *Handler) writeError(c context.Context, ctx *app.RequestContext, err error) {
	status := statusForError(err)
	if status == consts.StatusInternalServerError {
		hlog.CtxErrorf(c, "request failed: %v", err)
	}
	ctx.JSON(status, map[string]string{"error": err.Error()})
}

// HealthCheck 健康检查
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// SystemStatus 系统状态
// GET /api/system/status
func (h *Handler) SystemStatus(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"time":           time.Now().Format(time.RFC3339),
	})
}

// SystemMetrics Prometheus 指标
// GET /api/system/metrics
func (h *Handler) SystemMetrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.writeError(c, ctx, err)
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
