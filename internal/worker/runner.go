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
	"math/rand"
	"os"
	"sync"
	"time"

	"plan-platform/internal/stagequeue"
	"plan-platform/pkg/log"
	"plan-platform/pkg/metrics"
)

// Executor 一个阶段的任务执行器；按队列名注册到 Runner
type Executor interface {
	// Stage 阶段名（指标标签）
	Stage() string
	// Execute 执行任务：调外部服务、持久化产物与行状态，最后投递完成回执。
	// 返回 nil 才会 Ack；失败 Nack 等待重投。
	Execute(ctx context.Context, task *stagequeue.Task) error
}

// Runner 阶段任务认领循环：先占并发槽位再认领（Backpressure），
// 执行完成后 Ack，失败 Nack 交给队列按次数重投或转 dead
type Runner struct {
	workerID       string
	queue          stagequeue.Queue
	executors      map[string]Executor // 队列名 -> 执行器
	queueNames     []string
	pollInterval   time.Duration
	requeueEvery   time.Duration
	maxConcurrency int
	limiter        chan struct{}
	logger         *log.Logger
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
}

// NewRunner 创建认领循环；executors 的 key 为队列名；maxConcurrency <=0 时默认 4
func NewRunner(workerID string, queue stagequeue.Queue, executors map[string]Executor, pollInterval time.Duration, maxConcurrency int, logger *log.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	names := make([]string, 0, len(executors))
	for name := range executors {
		names = append(names, name)
	}
	return &Runner{
		workerID:       workerID,
		queue:          queue,
		executors:      executors,
		queueNames:     names,
		pollInterval:   pollInterval,
		requeueEvery:   time.Minute,
		maxConcurrency: maxConcurrency,
		limiter:        make(chan struct{}, maxConcurrency),
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// Start 启动认领循环与认领超时重投循环
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.runClaimLoop(ctx)
	r.wg.Add(1)
	go r.runRequeueLoop(ctx)
	r.logger.Info("worker 认领循环已启动", "worker_id", r.workerID, "queues", r.queueNames, "concurrency", r.maxConcurrency)
}

// Stop 停止循环并等待执行中的任务结束
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Runner) runClaimLoop(ctx context.Context) {
	defer r.wg.Done()
	if len(r.queueNames) == 0 {
		r.logger.Warn("没有注册任何队列执行器")
		return
	}
	// 打散起始队列，避免多 Worker 同时轮询同一队列
	next := rand.Intn(len(r.queueNames))
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case r.limiter <- struct{}{}:
		}

		var task *stagequeue.Task
		var queueName string
		for i := 0; i < len(r.queueNames); i++ {
			name := r.queueNames[(next+i)%len(r.queueNames)]
			t, err := r.queue.ClaimOne(ctx, name, r.workerID)
			if err != nil {
				r.logger.Error("认领任务失败", "queue", name, "error", err)
				continue
			}
			if t != nil {
				task = t
				queueName = name
				break
			}
		}
		next++

		if task == nil {
			<-r.limiter
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}

		metrics.QueueClaims.WithLabelValues(queueName).Inc()
		r.wg.Add(1)
		go func(task *stagequeue.Task, queueName string) {
			defer r.wg.Done()
			defer func() { <-r.limiter }()
			r.executeTask(ctx, task, queueName)
		}(task, queueName)
	}
}

func (r *Runner) executeTask(ctx context.Context, task *stagequeue.Task, queueName string) {
	executor := r.executors[queueName]
	metrics.WorkerBusy.WithLabelValues(r.workerID).Inc()
	defer metrics.WorkerBusy.WithLabelValues(r.workerID).Dec()

	start := time.Now()
	err := executor.Execute(ctx, task)
	metrics.StageJobDuration.WithLabelValues(executor.Stage()).Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.Error("阶段任务执行失败", "queue", queueName, "task_id", task.ID, "attempts", task.Attempts, "error", err)
		metrics.StageJobTotal.WithLabelValues(executor.Stage(), "failed").Inc()
		if nerr := r.queue.Nack(ctx, task.ID, err.Error()); nerr != nil {
			r.logger.Error("Nack 失败", "task_id", task.ID, "error", nerr)
		}
		return
	}
	metrics.StageJobTotal.WithLabelValues(executor.Stage(), "completed").Inc()
	if aerr := r.queue.Ack(ctx, task.ID); aerr != nil {
		// Ack 失败会导致重投；回执幂等，重复执行无害
		r.logger.Warn("Ack 失败", "task_id", task.ID, "error", aerr)
	}
}

// runRequeueLoop 周期把认领超时的任务重新投递（Worker 失联兜底）
func (r *Runner) runRequeueLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.requeueEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.queue.RequeueExpired(ctx)
			if err != nil {
				r.logger.Error("重投超时任务失败", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("重投认领超时任务", "count", n)
			}
		}
	}
}

// DefaultWorkerID 返回默认 Worker 标识（env 或 hostname）
func DefaultWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	host, _ := os.Hostname()
	if host != "" {
		return host
	}
	return "worker-unknown"
}
