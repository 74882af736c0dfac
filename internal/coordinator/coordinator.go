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
	"regexp"
	"time"

	"plan-platform/internal/stagequeue"
	"plan-platform/internal/storage/metadata"
	"plan-platform/pkg/config"
	pkgerrors "plan-platform/pkg/errors"
	"plan-platform/pkg/log"
	"plan-platform/pkg/metrics"
)

var (
	// ErrNotInitialized 完成回执到达时该 upload 尚未 initialize
	ErrNotInitialized = errors.New("pipeline not initialized for upload")
	// ErrAlreadyInitialized 重复 initialize 且参数不一致
	ErrAlreadyInitialized = errors.New("pipeline already initialized with different parameters")
	// ErrNoExtractedSheets marker 扇出时没有任何已提取的图纸行
	ErrNoExtractedSheets = errors.New("no extracted sheets available for marker fan-out")
)

// TimeoutMessage 超时终态写入 processing_jobs.lastError 的诊断消息
const TimeoutMessage = "Processing timeout — not all steps completed within time limit"

// Alarms 截止告警：Arm 到点触发一次 alarm 消息，Disarm 解除
type Alarms interface {
	Arm(uploadID string, at time.Time)
	Disarm(uploadID string)
}

// Coordinator 管线状态机。方法只能在每 upload 的单写者 goroutine
// 内调用（见 Manager），同一 uploadId 不会并发执行。
type Coordinator struct {
	states StateStore
	repo   *metadata.Repository
	queue  stagequeue.Queue
	cfg    config.PipelineConfig
	alarms Alarms
	logger *log.Logger

	validSheet *regexp.Regexp
	clock      func() time.Time
}

// NewCoordinator 创建状态机；MarkerContextRegex 在此编译，非法正则直接失败
func NewCoordinator(states StateStore, repo *metadata.Repository, queue stagequeue.Queue, cfg config.PipelineConfig, alarms Alarms, logger *log.Logger) (*Coordinator, error) {
	re, err := regexp.Compile(cfg.MarkerContextRegex)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "编译 marker_context_regex 失败")
	}
	return &Coordinator{
		states:     states,
		repo:       repo,
		queue:      queue,
		cfg:        cfg,
		alarms:     alarms,
		logger:     logger,
		validSheet: re,
		clock:      time.Now,
	}, nil
}

// alarmAt 非终态的告警唤醒时间；终态返回零值（告警解除）
func alarmAt(s *State) time.Time {
	if s.Terminal() {
		return time.Time{}
	}
	return time.UnixMilli(s.CreatedAt + s.TimeoutMs)
}

func (c *Coordinator) persist(ctx context.Context, s *State) error {
	return c.states.Save(ctx, s, alarmAt(s))
}

func (c *Coordinator) load(ctx context.Context, uploadID string) (*State, error) {
	s, err := c.states.Load(ctx, uploadID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, pkgerrors.Wrapf(ErrNotInitialized, "upload %s", uploadID)
		}
		return nil, err
	}
	return s, nil
}

// Initialize 创建状态并武装告警。参数完全一致的重复调用是幂等成功，
// totalSheets 不一致则报错，避免悄然分叉。
func (c *Coordinator) Initialize(ctx context.Context, uploadID string, totalSheets int, timeoutMs int64) (*State, error) {
	if uploadID == "" {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "uploadId 不能为空")
	}
	if totalSheets < 1 {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "totalSheets 必须 >= 1，得到 %d", totalSheets)
	}
	if timeoutMs <= 0 {
		timeoutMs = c.cfg.TimeoutMs
	}

	existing, err := c.states.Load(ctx, uploadID)
	if err == nil {
		if existing.TotalSheets == totalSheets {
			return existing, nil
		}
		return nil, pkgerrors.Wrapf(ErrAlreadyInitialized, "upload %s: totalSheets %d != %d", uploadID, existing.TotalSheets, totalSheets)
	}
	if !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	state := NewState(uploadID, totalSheets, timeoutMs, c.clock())
	if err := c.persist(ctx, state); err != nil {
		return nil, err
	}
	c.alarms.Arm(uploadID, alarmAt(state))
	c.logger.Info("管线已初始化", "upload_id", uploadID, "total_sheets", totalSheets, "timeout_ms", timeoutMs)
	return state, nil
}

// SheetComplete 记录一页元数据完成。全部完成且状态仍为 in_progress 时
// 扇出切片任务：先持久化 triggering_tiles 闩锁，再入队，成功后推进到
// tiles_in_progress。扇出失败只记录 lastError，状态停在闩锁等告警兜底。
// validSheets 参数仅为线上协议兼容保留，marker 扇出时从 plan_sheets 重新推导。
func (c *Coordinator) SheetComplete(ctx context.Context, uploadID string, sheetNumber int, validSheets []string) (*Progress, error) {
	state, err := c.load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	inserted, err := state.AddSheet(sheetNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, err.Error())
	}
	metrics.PipelineStageCompletions.WithLabelValues("metadata").Inc()

	if inserted && len(state.CompletedSheets) == 1 {
		if err := c.repo.PromoteProcessing(ctx, uploadID); err != nil {
			c.logger.Warn("提升 processing 状态失败", "upload_id", uploadID, "error", err)
		}
	}

	if inserted && state.SheetsFull() && state.Status == StatusInProgress {
		state.Status = StatusTriggeringTiles
		if err := c.persist(ctx, state); err != nil {
			return nil, err
		}
		if err := c.fanOutTiles(ctx, state); err != nil {
			c.logger.Error("切片任务扇出失败", "upload_id", uploadID, "error", err)
			if rerr := c.repo.RecordDispatchError(ctx, uploadID, err.Error()); rerr != nil {
				c.logger.Error("记录扇出错误失败", "upload_id", uploadID, "error", rerr)
			}
			return state.Snapshot(), nil
		}
		state.Status = StatusTilesInProgress
		metrics.PipelineFanouts.WithLabelValues("tiles").Inc()
	}

	if inserted {
		if err := c.persist(ctx, state); err != nil {
			return nil, err
		}
	}
	return state.Snapshot(), nil
}

// TileComplete 记录一页切片完成；全部完成且状态为 tiles_in_progress 时
// 执行 marker 扇出。其他状态下到达的回执幂等吸收，不触发转移。
func (c *Coordinator) TileComplete(ctx context.Context, uploadID string, sheetNumber int) (*Progress, error) {
	state, err := c.load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	inserted, err := state.AddTile(sheetNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, err.Error())
	}
	metrics.PipelineStageCompletions.WithLabelValues("tile").Inc()

	if inserted && state.TilesFull() && state.Status == StatusTilesInProgress {
		state.Status = StatusTriggeringMarkers
		if err := c.persist(ctx, state); err != nil {
			return nil, err
		}
		if err := c.fanOutMarkers(ctx, state); err != nil {
			c.logger.Error("marker 任务扇出失败", "upload_id", uploadID, "error", err)
			if rerr := c.repo.RecordDispatchError(ctx, uploadID, err.Error()); rerr != nil {
				c.logger.Error("记录扇出错误失败", "upload_id", uploadID, "error", rerr)
			}
			if errors.Is(err, ErrNoExtractedSheets) {
				return nil, err
			}
			return state.Snapshot(), nil
		}
		state.Status = StatusMarkersInProgress
		metrics.PipelineFanouts.WithLabelValues("markers").Inc()
	}

	if inserted {
		if err := c.persist(ctx, state); err != nil {
			return nil, err
		}
	}
	return state.Snapshot(), nil
}

// MarkerComplete 记录一页标记检测完成；全部完成且状态为
// markers_in_progress 时先解除告警，再持久化 complete 终态。
func (c *Coordinator) MarkerComplete(ctx context.Context, uploadID string, sheetNumber int) (*Progress, error) {
	state, err := c.load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	inserted, err := state.AddMarker(sheetNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, err.Error())
	}
	metrics.PipelineStageCompletions.WithLabelValues("marker").Inc()

	if inserted && state.MarkersFull() && state.Status == StatusMarkersInProgress {
		c.alarms.Disarm(uploadID)
		state.Status = StatusComplete
		if err := c.persist(ctx, state); err != nil {
			return nil, err
		}
		if err := c.repo.CompleteJob(ctx, uploadID); err != nil {
			c.logger.Error("更新 processing_jobs 终态失败", "upload_id", uploadID, "error", err)
		}
		metrics.PipelineTerminal.WithLabelValues(StatusComplete).Inc()
		c.logger.Info("管线完成", "upload_id", uploadID, "total_sheets", state.TotalSheets)
		return state.Snapshot(), nil
	}

	if inserted {
		if err := c.persist(ctx, state); err != nil {
			return nil, err
		}
	}
	return state.Snapshot(), nil
}

// GetProgress 只读进度快照
func (c *Coordinator) GetProgress(ctx context.Context, uploadID string) (*Progress, error) {
	state, err := c.load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return state.Snapshot(), nil
}

// Alarm 截止告警触发：非终态判定超时，complete 后的迟到告警忽略
func (c *Coordinator) Alarm(ctx context.Context, uploadID string) error {
	state, err := c.states.Load(ctx, uploadID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			c.logger.Warn("告警触发但状态不存在", "upload_id", uploadID)
			return nil
		}
		return err
	}
	if state.Terminal() {
		return nil
	}

	prev := state.Status
	state.Status = StatusFailedTimeout
	if err := c.persist(ctx, state); err != nil {
		return err
	}
	if err := c.repo.FailJob(ctx, uploadID, TimeoutMessage); err != nil {
		c.logger.Error("更新 processing_jobs 终态失败", "upload_id", uploadID, "error", err)
	}
	metrics.PipelineTimeouts.Inc()
	metrics.PipelineTerminal.WithLabelValues(StatusFailedTimeout).Inc()
	c.logger.Error("处理超时", "upload_id", uploadID, "prev_status", prev,
		"completed_sheets", len(state.CompletedSheets),
		"completed_tiles", len(state.CompletedTiles),
		"completed_markers", len(state.CompletedMarkers))
	return nil
}

// fanOutTiles 为每页入队一个切片任务
func (c *Coordinator) fanOutTiles(ctx context.Context, state *State) error {
	job, err := c.repo.GetJob(ctx, state.UploadID)
	if err != nil {
		return pkgerrors.Wrap(err, "读取 processing_jobs 失败")
	}
	sheets, err := c.repo.ListSheets(ctx, state.UploadID)
	if err != nil {
		return pkgerrors.Wrap(err, "读取 plan_sheets 失败")
	}
	for _, sheet := range sheets {
		payload := stagequeue.TileJob{
			UploadID:       state.UploadID,
			SheetNumber:    sheet.SheetNumber,
			SheetID:        sheet.ID,
			SheetKey:       sheet.SheetKey,
			PlanID:         job.PlanID,
			ProjectID:      job.ProjectID,
			OrganizationID: job.OrganizationID,
			TotalSheets:    state.TotalSheets,
		}
		if _, err := c.queue.Enqueue(ctx, c.cfg.TileQueue, payload); err != nil {
			return pkgerrors.Wrapf(err, "入队 TileJob (sheet %d) 失败", sheet.SheetNumber)
		}
	}
	return nil
}

// fanOutMarkers 按已提取的图纸行扇出 marker 任务。validSheets 为
// 命名匹配 marker_context_regex 的页名（sheetNumber 升序），空列表合法，
// 表示无跨页引用上下文；零行则中止并报错，状态停在 triggering_markers。
func (c *Coordinator) fanOutMarkers(ctx context.Context, state *State) error {
	job, err := c.repo.GetJob(ctx, state.UploadID)
	if err != nil {
		return pkgerrors.Wrap(err, "读取 processing_jobs 失败")
	}
	extracted, err := c.repo.ExtractedSheets(ctx, state.UploadID)
	if err != nil {
		return pkgerrors.Wrap(err, "读取 plan_sheets 失败")
	}
	if len(extracted) == 0 {
		return pkgerrors.Wrapf(ErrNoExtractedSheets, "upload %s", state.UploadID)
	}

	validSheets := make([]string, 0, len(extracted))
	for _, sheet := range extracted {
		if sheet.SheetName != "" && c.validSheet.MatchString(sheet.SheetName) {
			validSheets = append(validSheets, sheet.SheetName)
		}
	}

	for _, sheet := range extracted {
		payload := stagequeue.MarkerJob{
			UploadID:       state.UploadID,
			SheetNumber:    sheet.SheetNumber,
			SheetID:        sheet.ID,
			SheetKey:       sheet.SheetKey,
			PlanID:         job.PlanID,
			ProjectID:      job.ProjectID,
			OrganizationID: job.OrganizationID,
			TotalSheets:    state.TotalSheets,
			ValidSheets:    validSheets,
		}
		if _, err := c.queue.Enqueue(ctx, c.cfg.MarkerQueue, payload); err != nil {
			return pkgerrors.Wrapf(err, "入队 MarkerJob (sheet %d) 失败", sheet.SheetNumber)
		}
	}
	return nil
}
