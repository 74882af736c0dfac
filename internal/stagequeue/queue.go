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

package stagequeue

import (
	"context"
	"fmt"
	"time"

	"plan-platform/pkg/config"
)

// Task 已认领的队列任务
type Task struct {
	ID       string
	Queue    string
	Payload  []byte
	Attempts int
}

// Queue 阶段任务队列：API/Coordinator 入队，Worker 认领并执行。
// at-least-once 语义：认领超时或 Nack 会重新投递，消费方需幂等。
type Queue interface {
	// Enqueue 入队一条任务到指定队列，返回 task_id
	Enqueue(ctx context.Context, queue string, payload interface{}) (taskID string, err error)
	// ClaimOne 原子认领一条 pending 任务；无任务时返回 nil, nil
	ClaimOne(ctx context.Context, queue, workerID string) (*Task, error)
	// Ack 标记任务完成
	Ack(ctx context.Context, taskID string) error
	// Nack 标记任务失败；未超过最大尝试次数时重新投递，否则置为 dead
	Nack(ctx context.Context, taskID string, errMsg string) error
	// RequeueExpired 将认领超时的任务重新投递，返回重投数量
	RequeueExpired(ctx context.Context) (int, error)
	// Close 关闭队列
	Close() error
}

// Options 队列重投策略
type Options struct {
	ClaimTimeout time.Duration
	MaxAttempts  int
}

func (o Options) withDefaults() Options {
	if o.ClaimTimeout <= 0 {
		o.ClaimTimeout = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	return o
}

// NewQueue 根据配置创建队列（memory | postgres）
func NewQueue(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	opts := Options{MaxAttempts: cfg.MaxAttempts}
	if cfg.ClaimTimeout != "" {
		d, err := time.ParseDuration(cfg.ClaimTimeout)
		if err != nil {
			return nil, fmt.Errorf("解析 claim_timeout 失败: %w", err)
		}
		opts.ClaimTimeout = d
	}
	switch cfg.Type {
	case "", "memory":
		return NewMemoryQueue(opts), nil
	case "postgres":
		return NewPgQueue(ctx, cfg.DSN, opts)
	default:
		return nil, fmt.Errorf("不支持的队列类型: %s", cfg.Type)
	}
}
