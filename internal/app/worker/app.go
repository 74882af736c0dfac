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
	"fmt"
	nethttp "net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/common/expfmt"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"plan-platform/internal/app"
	"plan-platform/internal/coordinator"
	"plan-platform/internal/raster"
	"plan-platform/internal/worker"
	"plan-platform/pkg/metrics"
	"plan-platform/pkg/tracing"
	"plan-platform/pkg/utils"
)

// App Worker 应用：认领阶段任务、调用栅格化服务、投递完成回执。
// worker.coordinator 配置为空时进程内直达 Coordinator（单进程部署），
// 非空时作为纯数据面，通过 API 控制面投递回执。
type App struct {
	bootstrap *app.Bootstrap
	runner    *worker.Runner
	manager   *coordinator.Manager // 仅进程内投递模式持有
	tracer    *sdktrace.TracerProvider
}

// NewApp 创建 Worker 应用（由 cmd/worker 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	rasterSvc := raster.NewClient(cfg.Raster)

	var completions coordinator.CompletionClient
	var manager *coordinator.Manager
	if cfg.Worker.Coordinator != "" {
		completions = coordinator.NewHTTPClient(cfg.Worker.Coordinator)
		logger.Info("完成回执走 API 控制面", "base_url", cfg.Worker.Coordinator)
	} else {
		var err error
		manager, err = coordinator.NewManager(bootstrap.States, bootstrap.Repo, bootstrap.Queue, cfg.Pipeline, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化 Coordinator Manager 失败: %w", err)
		}
		completions = coordinator.NewLocalClient(manager)
		logger.Info("完成回执进程内投递")
	}

	executors := map[string]worker.Executor{
		cfg.Pipeline.MetadataQueue: worker.NewMetadataExecutor(rasterSvc, bootstrap.Repo, completions, logger),
		cfg.Pipeline.TileQueue:     worker.NewTileExecutor(rasterSvc, bootstrap.Repo, completions, logger),
		cfg.Pipeline.MarkerQueue:   worker.NewMarkerExecutor(rasterSvc, bootstrap.Repo, bootstrap.Objects, completions, logger),
	}
	// worker.queues 非空时只消费列出的队列
	if len(cfg.Worker.Queues) > 0 {
		selected := make(map[string]worker.Executor, len(cfg.Worker.Queues))
		for _, name := range cfg.Worker.Queues {
			exec, ok := executors[name]
			if !ok {
				return nil, fmt.Errorf("未知队列: %s", name)
			}
			selected[name] = exec
		}
		executors = selected
	}

	workerID := cfg.Worker.WorkerID
	if workerID == "" {
		workerID = worker.DefaultWorkerID()
	}
	runner := worker.NewRunner(
		workerID,
		bootstrap.Queue,
		executors,
		utils.ParseDurationOr(cfg.Worker.PollInterval, time.Second),
		cfg.Worker.Concurrency,
		logger.With("worker_id", workerID),
	)

	a := &App{bootstrap: bootstrap, runner: runner, manager: manager}
	if cfg.Monitoring.Tracing.Enable && cfg.Monitoring.Tracing.ExportEndpoint != "" {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "plan-worker"
		}
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    serviceName,
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			logger.Error("初始化链路追踪失败", "error", err)
		} else {
			a.tracer = tp
			logger.Info("链路追踪已启用", "service_name", serviceName)
		}
	}
	return a, nil
}

// Start 启动认领循环；进程内投递模式下先重建截止告警
func (a *App) Start() error {
	// 可选：Prometheus /metrics 端点；多 Worker 同机部署时可用
	// PLAN_WORKER_METRICS_PORT 指定不同端口避免冲突
	cfg := a.bootstrap.Config
	if cfg.Monitoring.Prometheus.Enable && cfg.Monitoring.Prometheus.Port > 0 {
		port := cfg.Monitoring.Prometheus.Port
		if envPort := os.Getenv("PLAN_WORKER_METRICS_PORT"); envPort != "" {
			if p, err := strconv.Atoi(envPort); err == nil && p > 0 {
				port = p
			}
		}
		mux := nethttp.NewServeMux()
		mux.HandleFunc("/metrics", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			var buf bytes.Buffer
			if err := metrics.WritePrometheus(&buf); err != nil {
				nethttp.Error(w, err.Error(), nethttp.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", string(expfmt.FmtText))
			_, _ = w.Write(buf.Bytes())
		})
		addr := fmt.Sprintf(":%d", port)
		go func() {
			if err := nethttp.ListenAndServe(addr, mux); err != nil && err != nethttp.ErrServerClosed {
				a.bootstrap.Logger.Error("metrics 服务异常", "error", err)
			}
		}()
		a.bootstrap.Logger.Info("Prometheus /metrics 已启用", "addr", addr)
	}

	if a.manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.manager.Rehydrate(ctx); err != nil {
			return fmt.Errorf("管线状态重建失败: %w", err)
		}
		a.manager.StartAlarmScan(utils.ParseDurationOr(a.bootstrap.Config.Pipeline.AlarmScanInterval, 0))
	}
	a.runner.Start(context.Background())
	a.bootstrap.Logger.Info("Worker 已启动")
	return nil
}

// Shutdown 优雅关闭：停止认领并等待在途任务结束
func (a *App) Shutdown(ctx context.Context) error {
	a.runner.Stop()
	if a.manager != nil {
		a.manager.Close()
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
	a.bootstrap.Close()
	return nil
}
