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

package coordinator

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"plan-platform/internal/stagequeue"
	"plan-platform/internal/storage/metadata"
	"plan-platform/pkg/config"
	"plan-platform/pkg/log"
	"plan-platform/pkg/metrics"
	"plan-platform/pkg/tracing"
)

// ErrManagerClosed Manager 已关闭后提交消息
var ErrManagerClosed = errors.New("coordinator manager closed")

const (
	shardCount    = 16
	inboxSize     = 64
	actorIdleTTL  = 10 * time.Minute
	alarmLateSlop = time.Second
)

// Manager 把 Coordinator 包装成按 uploadId 单写者的 actor 运行时：
// 每个活跃 upload 一个 goroutine 和 inbox，消息串行执行；goroutine
// 空闲后回收，消息到达时按需重建（状态在 StateStore，重建无损）。
type Manager struct {
	coord  *Coordinator
	alarms *alarmScheduler
	logger *log.Logger
	cfg    config.PipelineConfig

	shards [shardCount]shard

	closeOnce sync.Once
	closed    chan struct{}
}

type shard struct {
	mu     sync.Mutex
	actors map[string]*actor
}

type actor struct {
	inbox   chan task
	pending int // 分片锁保护：阻塞投递中的 submit 数，非零时不回收
}

type task struct {
	ctx   context.Context
	op    string
	fn    func(context.Context) (interface{}, error)
	reply chan taskResult
}

type taskResult struct {
	v   interface{}
	err error
}

// NewManager 装配状态机、告警调度器与 actor 运行时
func NewManager(states StateStore, repo *metadata.Repository, queue stagequeue.Queue, cfg config.PipelineConfig, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger,
		cfg:    cfg,
		closed: make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i].actors = make(map[string]*actor)
	}
	m.alarms = newAlarmScheduler(func(uploadID string) {
		if err := m.Alarm(uploadID); err != nil {
			logger.Error("告警投递失败", "upload_id", uploadID, "error", err)
		}
	})
	coord, err := NewCoordinator(states, repo, queue, cfg, m.alarms, logger)
	if err != nil {
		return nil, err
	}
	m.coord = coord
	return m, nil
}

func (m *Manager) shardFor(uploadID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uploadID))
	return &m.shards[h.Sum32()%shardCount]
}

// submit 把一次操作投入该 upload 的 inbox 并等待结果。
// 入队在分片锁内尝试非阻塞发送：成功则 actor 不可能同时退出
// （退出需持锁且确认 inbox 为空）；inbox 满则先在锁内登记 pending
// 再解锁阻塞发送，空闲回收跳过 pending 非零的 actor。
func (m *Manager) submit(ctx context.Context, uploadID, op string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	select {
	case <-m.closed:
		return nil, ErrManagerClosed
	default:
	}

	ctx, span := tracing.StartPipelineSpan(ctx, uploadID, op)
	defer span.End()

	t := task{ctx: ctx, op: op, fn: fn, reply: make(chan taskResult, 1)}
	sh := m.shardFor(uploadID)

	sh.mu.Lock()
	a, ok := sh.actors[uploadID]
	if !ok {
		a = &actor{inbox: make(chan task, inboxSize)}
		sh.actors[uploadID] = a
		go m.runActor(sh, uploadID, a)
	}
	select {
	case a.inbox <- t:
		sh.mu.Unlock()
	default:
		a.pending++
		sh.mu.Unlock()
		var sendErr error
		select {
		case a.inbox <- t:
		case <-ctx.Done():
			sendErr = ctx.Err()
		case <-m.closed:
			sendErr = ErrManagerClosed
		}
		sh.mu.Lock()
		a.pending--
		sh.mu.Unlock()
		if sendErr != nil {
			return nil, sendErr
		}
	}

	select {
	case r := <-t.reply:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, ErrManagerClosed
	}
}

func (m *Manager) runActor(sh *shard, uploadID string, a *actor) {
	idle := time.NewTimer(actorIdleTTL)
	defer idle.Stop()
	for {
		select {
		case t := <-a.inbox:
			start := time.Now()
			v, err := t.fn(t.ctx)
			metrics.CoordinatorHandlerDuration.WithLabelValues(t.op).Observe(time.Since(start).Seconds())
			t.reply <- taskResult{v: v, err: err}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(actorIdleTTL)
		case <-idle.C:
			sh.mu.Lock()
			if len(a.inbox) > 0 || a.pending > 0 {
				sh.mu.Unlock()
				idle.Reset(actorIdleTTL)
				continue
			}
			delete(sh.actors, uploadID)
			sh.mu.Unlock()
			return
		case <-m.closed:
			return
		}
	}
}

// Initialize 创建该 upload 的管线状态并武装截止告警
func (m *Manager) Initialize(ctx context.Context, uploadID string, totalSheets int, timeoutMs int64) (*State, error) {
	v, err := m.submit(ctx, uploadID, "initialize", func(ctx context.Context) (interface{}, error) {
		return m.coord.Initialize(ctx, uploadID, totalSheets, timeoutMs)
	})
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}

// SheetComplete 投递一页元数据完成回执
func (m *Manager) SheetComplete(ctx context.Context, uploadID string, sheetNumber int, validSheets []string) (*Progress, error) {
	v, err := m.submit(ctx, uploadID, "sheet_complete", func(ctx context.Context) (interface{}, error) {
		return m.coord.SheetComplete(ctx, uploadID, sheetNumber, validSheets)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Progress), nil
}

// TileComplete 投递一页切片完成回执
func (m *Manager) TileComplete(ctx context.Context, uploadID string, sheetNumber int) (*Progress, error) {
	v, err := m.submit(ctx, uploadID, "tile_complete", func(ctx context.Context) (interface{}, error) {
		return m.coord.TileComplete(ctx, uploadID, sheetNumber)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Progress), nil
}

// MarkerComplete 投递一页标记检测完成回执
func (m *Manager) MarkerComplete(ctx context.Context, uploadID string, sheetNumber int) (*Progress, error) {
	v, err := m.submit(ctx, uploadID, "marker_complete", func(ctx context.Context) (interface{}, error) {
		return m.coord.MarkerComplete(ctx, uploadID, sheetNumber)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Progress), nil
}

// GetProgress 只读查询，不经过 actor（持久状态上的纯读取）
func (m *Manager) GetProgress(ctx context.Context, uploadID string) (*Progress, error) {
	return m.coord.GetProgress(ctx, uploadID)
}

// Alarm 截止告警触发入口（alarmScheduler 与 wake_at 扫描共用）
func (m *Manager) Alarm(uploadID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := m.submit(ctx, uploadID, "alarm", func(ctx context.Context) (interface{}, error) {
		return nil, m.coord.Alarm(ctx, uploadID)
	})
	return err
}

// Rehydrate 重启后扫描非终态记录，重建截止告警。
// wake_at 已过期的记录立即触发（告警可晚不可早）。
func (m *Manager) Rehydrate(ctx context.Context) error {
	records, err := m.coord.states.ListActive(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, rec := range records {
		wake := rec.WakeAt
		if wake.IsZero() {
			wake = alarmAt(rec.State)
		}
		if wake.Before(now) {
			wake = now.Add(alarmLateSlop)
		}
		m.alarms.Arm(rec.State.UploadID, wake)
	}
	m.logger.Info("管线状态重建完成", "active_uploads", len(records))
	return nil
}

// StartAlarmScan 周期扫描 wake_at 已过期的非终态记录并触发告警，
// 兜底进程内定时器丢失的情况
func (m *Manager) StartAlarmScan(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				records, err := m.coord.states.ListActive(ctx)
				cancel()
				if err != nil {
					m.logger.Error("wake_at 扫描失败", "error", err)
					continue
				}
				now := time.Now()
				for _, rec := range records {
					if !rec.WakeAt.IsZero() && rec.WakeAt.Before(now) {
						if err := m.Alarm(rec.State.UploadID); err != nil {
							m.logger.Error("告警投递失败", "upload_id", rec.State.UploadID, "error", err)
						}
					}
				}
			case <-m.closed:
				return
			}
		}
	}()
}

// Close 停止告警与全部 actor goroutine
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.alarms.Close()
	})
}
