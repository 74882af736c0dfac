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
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"plan-platform/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// Build 构建 Hertz 服务并注册路由，addr 如 ":8080"
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	serverOpts := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	s := server.Default(serverOpts...)
	s.Use(r.middleware.CORS(), r.middleware.AccessLog())
	r.setupRoutes(s)
	return s
}

// setupRoutes 设置路由
func (r *Router) setupRoutes(s *server.Hertz) {
	api := s.Group("/api")

	// 健康检查
	api.GET("/health", r.handler.HealthCheck)

	// 图纸上传与查询
	plans := api.Group("/plans")
	{
		plans.POST("/upload", r.handler.UploadPlan)
		plans.GET("/:uploadId/sheets", r.handler.ListSheets)
	}

	// 处理任务查询
	api.GET("/jobs/:uploadId", r.handler.GetJob)

	// 管线控制面（初始化、完成回执、进度）
	pipeline := api.Group("/pipeline")
	{
		pipeline.POST("/initialize", r.handler.InitializePipeline)
		pipeline.POST("/:uploadId/sheet-complete", r.handler.SheetComplete)
		pipeline.POST("/:uploadId/tile-complete", r.handler.TileComplete)
		pipeline.POST("/:uploadId/marker-complete", r.handler.MarkerComplete)
		pipeline.GET("/:uploadId/progress", r.handler.GetProgress)
	}

	// 系统管理
	system := api.Group("/system")
	{
		system.GET("/status", r.handler.SystemStatus)
		system.GET("/metrics", r.handler.SystemMetrics)
	}
}
