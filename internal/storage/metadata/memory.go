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

package metadata

import (
	"context"
	"sort"
	"sync"
	"time"

	pkgerrors "plan-platform/pkg/errors"
)

// memoryStore 内存实现，测试与单机开发用
type memoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*ProcessingJob // uploadId -> job
	sheets map[string]*PlanSheet     // sheetId -> sheet
}

// NewMemoryStore 创建内存关系存储
func NewMemoryStore() Store {
	return &memoryStore{
		jobs:   make(map[string]*ProcessingJob),
		sheets: make(map[string]*PlanSheet),
	}
}

func (s *memoryStore) CreateJob(ctx context.Context, job *ProcessingJob) error {
	if job == nil || job.UploadID == "" {
		return pkgerrors.ErrInvalidArg
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.UploadID]; ok {
		return pkgerrors.ErrConflict
	}
	cp := *job
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	s.jobs[job.UploadID] = &cp
	return nil
}

func (s *memoryStore) GetJob(ctx context.Context, uploadID string) (*ProcessingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[uploadID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memoryStore) UpdateJobStatus(ctx context.Context, uploadID string, status string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[uploadID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	job.Status = status
	if lastError != "" {
		job.LastError = lastError
	}
	job.UpdatedAt = time.Now()
	if status == JobComplete || status == JobFailed {
		now := time.Now()
		job.CompletedAt = &now
	}
	return nil
}

func (s *memoryStore) CreateSheets(ctx context.Context, sheets []*PlanSheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sheet := range sheets {
		if sheet == nil || sheet.ID == "" {
			return pkgerrors.ErrInvalidArg
		}
		cp := *sheet
		s.sheets[sheet.ID] = &cp
	}
	return nil
}

func (s *memoryStore) GetSheet(ctx context.Context, sheetID string) (*PlanSheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sheet, ok := s.sheets[sheetID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *sheet
	return &cp, nil
}

func (s *memoryStore) ListSheets(ctx context.Context, uploadID string) ([]*PlanSheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PlanSheet
	for _, sheet := range s.sheets {
		if sheet.UploadID == uploadID {
			cp := *sheet
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SheetNumber < out[j].SheetNumber })
	return out, nil
}

func (s *memoryStore) UpdateSheetMetadata(ctx context.Context, sheetID string, sheetName string, sheetKey string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.sheets[sheetID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	sheet.SheetName = sheetName
	if sheetKey != "" {
		sheet.SheetKey = sheetKey
	}
	sheet.MetadataStatus = status
	return nil
}

func (s *memoryStore) UpdateSheetTileStatus(ctx context.Context, sheetID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.sheets[sheetID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	sheet.TileStatus = status
	return nil
}

func (s *memoryStore) UpdateSheetMarkerStatus(ctx context.Context, sheetID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.sheets[sheetID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	sheet.MarkerStatus = status
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
