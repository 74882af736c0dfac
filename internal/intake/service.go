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

package intake

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"plan-platform/internal/coordinator"
	"plan-platform/internal/stagequeue"
	"plan-platform/internal/storage/metadata"
	"plan-platform/internal/storage/object"
	"plan-platform/pkg/config"
	pkgerrors "plan-platform/pkg/errors"
	"plan-platform/pkg/log"
)

// UploadRequest 一次图纸上传
type UploadRequest struct {
	UploadID       string // 外部生成；空则由服务端生成
	PlanID         string
	ProjectID      string
	OrganizationID string
	Filename       string
	PDF            []byte
}

// UploadResult 上传受理结果
type UploadResult struct {
	UploadID    string `json:"uploadId"`
	TotalSheets int    `json:"totalSheets"`
	Status      string `json:"status"`
}

// Service 上传受理：存原始 PDF、定页数、建行、初始化管线、扇出阶段一。
// initialize 必须先于入队：Coordinator 存在之前任何 Worker 都不能投递回执。
type Service struct {
	objects object.Store
	repo    *metadata.Repository
	manager *coordinator.Manager
	queue   stagequeue.Queue
	pages   PageCounter
	cfg     config.PipelineConfig
	logger  *log.Logger
}

// NewService 创建上传受理服务
func NewService(objects object.Store, repo *metadata.Repository, manager *coordinator.Manager, queue stagequeue.Queue, pages PageCounter, cfg config.PipelineConfig, logger *log.Logger) *Service {
	return &Service{
		objects: objects,
		repo:    repo,
		manager: manager,
		queue:   queue,
		pages:   pages,
		cfg:     cfg,
		logger:  logger,
	}
}

var pdfMagic = []byte("%PDF-")

func (s *Service) validate(req *UploadRequest) error {
	if req.PlanID == "" || req.ProjectID == "" || req.OrganizationID == "" {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "planId、projectId、organizationId 均不能为空")
	}
	if len(req.PDF) == 0 {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "上传内容为空")
	}
	if !bytes.HasPrefix(req.PDF, pdfMagic) {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "上传内容不是 PDF")
	}
	return nil
}

// ProcessUpload 受理一次上传。入队失败时返回错误，但管线已初始化，
// 截止告警仍会为这次不完整的任务兜底。
func (s *Service) ProcessUpload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if req.UploadID == "" {
		req.UploadID = uuid.New().String()
	}

	originalKey := object.OriginalKey(req.OrganizationID, req.ProjectID, req.PlanID)
	meta := map[string]string{"upload_id": req.UploadID}
	if req.Filename != "" {
		meta["filename"] = req.Filename
	}
	if err := s.objects.Put(ctx, originalKey, bytes.NewReader(req.PDF), int64(len(req.PDF)), meta); err != nil {
		return nil, pkgerrors.Wrap(err, "存储原始 PDF 失败")
	}

	totalSheets, err := s.pages.Count(ctx, req.PDF, originalKey)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "确定页数失败")
	}

	job := &metadata.ProcessingJob{
		UploadID:       req.UploadID,
		PlanID:         req.PlanID,
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
		Status:         metadata.JobPending,
		StartedAt:      time.Now(),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(err, "创建 processing_jobs 行失败")
	}

	sheets := make([]*metadata.PlanSheet, totalSheets)
	for i := 0; i < totalSheets; i++ {
		ref := object.SheetRef{
			OrganizationID: req.OrganizationID,
			ProjectID:      req.ProjectID,
			PlanID:         req.PlanID,
			SheetNumber:    i + 1,
		}
		sheets[i] = &metadata.PlanSheet{
			ID:             uuid.New().String(),
			UploadID:       req.UploadID,
			PlanID:         req.PlanID,
			SheetNumber:    i + 1,
			SheetKey:       ref.PageKey(),
			MetadataStatus: metadata.StagePending,
			TileStatus:     metadata.StagePending,
			MarkerStatus:   metadata.StagePending,
		}
	}
	if err := s.repo.CreateSheets(ctx, sheets); err != nil {
		return nil, pkgerrors.Wrap(err, "创建 plan_sheets 行失败")
	}

	state, err := s.manager.Initialize(ctx, req.UploadID, totalSheets, s.cfg.TimeoutMs)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "初始化管线失败")
	}

	for _, sheet := range sheets {
		payload := stagequeue.MetadataJob{
			UploadID:       req.UploadID,
			SheetNumber:    sheet.SheetNumber,
			SheetKey:       sheet.SheetKey,
			PlanID:         req.PlanID,
			ProjectID:      req.ProjectID,
			OrganizationID: req.OrganizationID,
		}
		if _, err := s.queue.Enqueue(ctx, s.cfg.MetadataQueue, payload); err != nil {
			s.logger.Error("阶段一任务入队失败", "upload_id", req.UploadID, "sheet_number", sheet.SheetNumber, "error", err)
			return nil, pkgerrors.Wrapf(err, "入队 MetadataJob (sheet %d) 失败", sheet.SheetNumber)
		}
	}

	s.logger.Info("上传受理完成", "upload_id", req.UploadID, "plan_id", req.PlanID, "total_sheets", totalSheets)
	return &UploadResult{
		UploadID:    req.UploadID,
		TotalSheets: totalSheets,
		Status:      state.Status,
	}, nil
}
