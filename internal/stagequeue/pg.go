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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "plan-platform/pkg/errors"
)

// pgQueue PostgreSQL 实现 Queue，使用 stage_tasks 表
type pgQueue struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPgQueue 创建基于 PostgreSQL 的阶段队列；DSN 可与元数据库共用
func NewPgQueue(ctx context.Context, dsn string, opts Options) (Queue, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "连接队列数据库失败")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pkgerrors.Wrap(err, "队列数据库 ping 失败")
	}
	return &pgQueue{pool: pool, opts: opts.withDefaults()}, nil
}

// NewPgQueueWithPool 复用已有连接池创建阶段队列
func NewPgQueueWithPool(pool *pgxpool.Pool, opts Options) Queue {
	return &pgQueue{pool: pool, opts: opts.withDefaults()}
}

// Enqueue 实现 Queue
func (q *pgQueue) Enqueue(ctx context.Context, queue string, payload interface{}) (string, error) {
	if queue == "" {
		return "", errors.New("queue 不能为空")
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	taskID := uuid.New().String()
	_, err = q.pool.Exec(ctx,
		`INSERT INTO stage_tasks (id, queue, payload, status, attempts) VALUES ($1, $2, $3, 'pending', 0)`,
		taskID, queue, payloadJSON,
	)
	return taskID, err
}

// ClaimOne 实现 Queue；原子认领一条 pending，认领即计一次尝试
func (q *pgQueue) ClaimOne(ctx context.Context, queue, workerID string) (*Task, error) {
	var t Task
	err := q.pool.QueryRow(ctx,
		`WITH sel AS (
  SELECT id FROM stage_tasks WHERE queue = $1 AND status = 'pending' ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED
)
UPDATE stage_tasks SET status = 'claimed', worker_id = $2, claimed_at = now(), attempts = attempts + 1
FROM sel WHERE stage_tasks.id = sel.id
RETURNING stage_tasks.id, stage_tasks.queue, stage_tasks.payload, stage_tasks.attempts`,
		queue, workerID,
	).Scan(&t.ID, &t.Queue, &t.Payload, &t.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Ack 实现 Queue
func (q *pgQueue) Ack(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE stage_tasks SET status = 'completed', error = NULL, completed_at = now() WHERE id = $1`,
		taskID,
	)
	return err
}

// Nack 实现 Queue；尝试次数未耗尽时回到 pending 等待重投
func (q *pgQueue) Nack(ctx context.Context, taskID string, errMsg string) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE stage_tasks
SET status = CASE WHEN attempts >= $1 THEN 'dead' ELSE 'pending' END,
    worker_id = NULL, claimed_at = NULL, error = $2
WHERE id = $3`,
		q.opts.MaxAttempts, errMsg, taskID,
	)
	return err
}

// RequeueExpired 实现 Queue；认领超时视为 Worker 失联
func (q *pgQueue) RequeueExpired(ctx context.Context) (int, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE stage_tasks
SET status = CASE WHEN attempts >= $1 THEN 'dead' ELSE 'pending' END,
    worker_id = NULL, claimed_at = NULL
WHERE status = 'claimed' AND claimed_at < now() - $2::interval`,
		q.opts.MaxAttempts, q.opts.ClaimTimeout.String(),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Close 实现 Queue
func (q *pgQueue) Close() error {
	q.pool.Close()
	return nil
}
