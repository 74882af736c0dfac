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
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "plan-platform/pkg/errors"
)

// pgStore PostgreSQL 实现：processing_jobs 与 plan_sheets 表
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建基于 PostgreSQL 的关系存储；poolSize<=0 使用 pgx 默认
func NewPostgresStore(ctx context.Context, dsn string, poolSize int) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		config.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) CreateJob(ctx context.Context, job *ProcessingJob) error {
	if job == nil || job.UploadID == "" {
		return pkgerrors.ErrInvalidArg
	}
	startedAt := job.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_jobs (upload_id, plan_id, project_id, organization_id, status, started_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())`,
		job.UploadID, job.PlanID, job.ProjectID, job.OrganizationID, job.Status, startedAt,
	)
	return err
}

func (s *pgStore) GetJob(ctx context.Context, uploadID string) (*ProcessingJob, error) {
	var job ProcessingJob
	var lastError *string
	err := s.pool.QueryRow(ctx,
		`SELECT upload_id, plan_id, project_id, organization_id, status, started_at, completed_at, last_error, updated_at
FROM processing_jobs WHERE upload_id = $1`,
		uploadID,
	).Scan(&job.UploadID, &job.PlanID, &job.ProjectID, &job.OrganizationID,
		&job.Status, &job.StartedAt, &job.CompletedAt, &lastError, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	return &job, nil
}

func (s *pgStore) UpdateJobStatus(ctx context.Context, uploadID string, status string, lastError string) error {
	var completed *time.Time
	if status == JobComplete || status == JobFailed {
		now := time.Now()
		completed = &now
	}
	var errText *string
	if lastError != "" {
		errText = &lastError
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs
SET status = $1, last_error = COALESCE($2, last_error), completed_at = COALESCE($3, completed_at), updated_at = now()
WHERE upload_id = $4`,
		status, errText, completed, uploadID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (s *pgStore) CreateSheets(ctx context.Context, sheets []*PlanSheet) error {
	batch := &pgx.Batch{}
	for _, sheet := range sheets {
		if sheet == nil || sheet.ID == "" {
			return pkgerrors.ErrInvalidArg
		}
		batch.Queue(
			`INSERT INTO plan_sheets (id, upload_id, plan_id, sheet_number, sheet_name, sheet_key, metadata_status, tile_status, marker_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			sheet.ID, sheet.UploadID, sheet.PlanID, sheet.SheetNumber,
			sheet.SheetName, sheet.SheetKey, sheet.MetadataStatus, sheet.TileStatus, sheet.MarkerStatus,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range sheets {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pgStore) GetSheet(ctx context.Context, sheetID string) (*PlanSheet, error) {
	sheet, err := scanSheet(s.pool.QueryRow(ctx,
		`SELECT id, upload_id, plan_id, sheet_number, sheet_name, sheet_key, metadata_status, tile_status, marker_status
FROM plan_sheets WHERE id = $1`,
		sheetID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return sheet, nil
}

func (s *pgStore) ListSheets(ctx context.Context, uploadID string) ([]*PlanSheet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, upload_id, plan_id, sheet_number, sheet_name, sheet_key, metadata_status, tile_status, marker_status
FROM plan_sheets WHERE upload_id = $1 ORDER BY sheet_number`,
		uploadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*PlanSheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sheet)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateSheetMetadata(ctx context.Context, sheetID string, sheetName string, sheetKey string, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_sheets
SET sheet_name = $1, sheet_key = CASE WHEN $2 = '' THEN sheet_key ELSE $2 END, metadata_status = $3
WHERE id = $4`,
		sheetName, sheetKey, status, sheetID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (s *pgStore) UpdateSheetTileStatus(ctx context.Context, sheetID string, status string) error {
	return s.updateSheetColumn(ctx, sheetID, "tile_status", status)
}

func (s *pgStore) UpdateSheetMarkerStatus(ctx context.Context, sheetID string, status string) error {
	return s.updateSheetColumn(ctx, sheetID, "marker_status", status)
}

// updateSheetColumn 乐观单行更新，双写同值无害（worker 重放安全）
func (s *pgStore) updateSheetColumn(ctx context.Context, sheetID string, column string, status string) error {
	var sql string
	switch column {
	case "tile_status":
		sql = `UPDATE plan_sheets SET tile_status = $1 WHERE id = $2`
	case "marker_status":
		sql = `UPDATE plan_sheets SET marker_status = $1 WHERE id = $2`
	default:
		return pkgerrors.ErrInvalidArg
	}
	tag, err := s.pool.Exec(ctx, sql, status, sheetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSheet(row rowScanner) (*PlanSheet, error) {
	var sheet PlanSheet
	var name *string
	if err := row.Scan(&sheet.ID, &sheet.UploadID, &sheet.PlanID, &sheet.SheetNumber,
		&name, &sheet.SheetKey, &sheet.MetadataStatus, &sheet.TileStatus, &sheet.MarkerStatus); err != nil {
		return nil, err
	}
	if name != nil {
		sheet.SheetName = *name
	}
	return &sheet, nil
}
