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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"plan-platform/internal/api/http"
	"plan-platform/internal/api/http/middleware"
	"plan-platform/internal/app"
	"plan-platform/internal/coordinator"
	"plan-platform/internal/intake"
	"plan-platform/internal/raster"
	"plan-platform/pkg/utils"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 Coordinator Manager、Intake、HTTP Router）。
// API 进程持有管线控制面：完成回执、截止告警与状态重建都在这里。
type App struct {
	bootstrap    *app.Bootstrap
	manager      *coordinator.Manager
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config

	manager, err := coordinator.NewManager(bootstrap.States, bootstrap.Repo, bootstrap.Queue, cfg.Pipeline, bootstrap.Logger)
	if err != nil {
		return nil, fmt.Errorf("初始化 Coordinator Manager 失败: %w", err)
	}

	var rasterSvc raster.Service
	if cfg.Raster.BaseURL != "" {
		rasterSvc = raster.NewClient(cfg.Raster)
	}
	pages := intake.NewPageCounter(cfg.Raster.PagecountMode, rasterSvc)
	intakeSvc := intake.NewService(bootstrap.Objects, bootstrap.Repo, manager, bootstrap.Queue, pages, cfg.Pipeline, bootstrap.Logger)

	handler := http.NewHandler(intakeSvc, manager, bootstrap.Repo)
	if bootstrap.Cache != nil {
		handler.SetProgressCache(bootstrap.Cache, utils.ParseDurationOr(cfg.Storage.Cache.TTL, time.Second))
	}

	mw := middleware.NewMiddleware()
	if cfg.API.CORS.Enable && len(cfg.API.CORS.AllowOrigins) > 0 {
		mw.SetAllowOrigin(cfg.API.CORS.AllowOrigins[0])
	}

	return &App{
		bootstrap: bootstrap,
		manager:   manager,
		router:    http.NewRouter(handler, mw),
	}, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	a.bootstrap.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 日志配置对齐
	output := os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	switch cfg.Log.Level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	// 可选：启用链路追踪（OpenTelemetry）
	if cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "plan-api"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.bootstrap.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}

	// 重启恢复：扫描非终态 upload 重建截止告警，再启动 wake_at 兜底扫描
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.manager.Rehydrate(ctx); err != nil {
		a.bootstrap.Logger.Error("管线状态重建失败", "error", err)
	}
	cancel()
	a.manager.StartAlarmScan(utils.ParseDurationOr(cfg.Pipeline.AlarmScanInterval, 0))

	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	a.manager.Close()
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	a.bootstrap.Close()
	return nil
}
