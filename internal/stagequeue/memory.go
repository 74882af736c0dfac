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
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "plan-platform/pkg/errors"
)

// memoryQueue 内存实现 Queue，开发与测试用
type memoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*memTask
	order []string // pending 任务的 FIFO 顺序
	opts  Options
	clock func() time.Time
}

type memTask struct {
	task      Task
	status    string
	claimedAt time.Time
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue(opts Options) Queue {
	return &memoryQueue{
		tasks: make(map[string]*memTask),
		opts:  opts.withDefaults(),
		clock: time.Now,
	}
}

// Enqueue 实现 Queue
func (q *memoryQueue) Enqueue(ctx context.Context, queue string, payload interface{}) (string, error) {
	if queue == "" {
		return "", errors.New("queue 不能为空")
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	taskID := uuid.New().String()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[taskID] = &memTask{
		task:   Task{ID: taskID, Queue: queue, Payload: payloadJSON},
		status: "pending",
	}
	q.order = append(q.order, taskID)
	return taskID, nil
}

// ClaimOne 实现 Queue
func (q *memoryQueue) ClaimOne(ctx context.Context, queue, workerID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		mt, ok := q.tasks[id]
		if !ok || mt.status != "pending" || mt.task.Queue != queue {
			continue
		}
		mt.status = "claimed"
		mt.claimedAt = q.clock()
		mt.task.Attempts++
		t := mt.task
		return &t, nil
	}
	return nil, nil
}

// Ack 实现 Queue
func (q *memoryQueue) Ack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mt, ok := q.tasks[taskID]
	if !ok {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "task %s", taskID)
	}
	mt.status = "completed"
	return nil
}

// Nack 实现 Queue
func (q *memoryQueue) Nack(ctx context.Context, taskID string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mt, ok := q.tasks[taskID]
	if !ok {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "task %s", taskID)
	}
	if mt.task.Attempts >= q.opts.MaxAttempts {
		mt.status = "dead"
	} else {
		mt.status = "pending"
	}
	return nil
}

// RequeueExpired 实现 Queue
func (q *memoryQueue) RequeueExpired(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.clock().Add(-q.opts.ClaimTimeout)
	n := 0
	for _, mt := range q.tasks {
		if mt.status != "claimed" || mt.claimedAt.After(cutoff) {
			continue
		}
		if mt.task.Attempts >= q.opts.MaxAttempts {
			mt.status = "dead"
		} else {
			mt.status = "pending"
		}
		n++
	}
	return n, nil
}

// Close 实现 Queue
func (q *memoryQueue) Close() error {
	return nil
}
