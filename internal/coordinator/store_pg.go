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
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "plan-platform/pkg/errors"
)

// pgStateStore PostgreSQL 实现 StateStore，使用 coordinator_actors 表。
// status 列为 state JSON 的冗余投影，供 ListActive 过滤。
type pgStateStore struct {
	pool *pgxpool.Pool
}

// NewPgStateStore 复用元数据库连接池创建状态存储
func NewPgStateStore(pool *pgxpool.Pool) StateStore {
	return &pgStateStore{pool: pool}
}

// Save 实现 StateStore
func (s *pgStateStore) Save(ctx context.Context, state *State, wakeAt time.Time) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return pkgerrors.Wrap(err, "序列化 coordinator 状态失败")
	}
	var wake *time.Time
	if !wakeAt.IsZero() {
		wake = &wakeAt
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO coordinator_actors (upload_id, state, status, wake_at, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (upload_id) DO UPDATE SET state = $2, status = $3, wake_at = $4, updated_at = now()`,
		state.UploadID, blob, state.Status, wake,
	)
	return err
}

// Load 实现 StateStore
func (s *pgStateStore) Load(ctx context.Context, uploadID string) (*State, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM coordinator_actors WHERE upload_id = $1`,
		uploadID,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "coordinator state %s", uploadID)
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, pkgerrors.Wrap(err, "反序列化 coordinator 状态失败")
	}
	return &state, nil
}

// ListActive 实现 StateStore
func (s *pgStateStore) ListActive(ctx context.Context) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, wake_at FROM coordinator_actors WHERE status NOT IN ($1, $2)`,
		StatusComplete, StatusFailedTimeout,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var blob []byte
		var wake *time.Time
		if err := rows.Scan(&blob, &wake); err != nil {
			return nil, err
		}
		var state State
		if err := json.Unmarshal(blob, &state); err != nil {
			return nil, pkgerrors.Wrap(err, "反序列化 coordinator 状态失败")
		}
		rec := &Record{State: &state}
		if wake != nil {
			rec.WakeAt = *wake
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close 实现 StateStore；连接池由装配方管理
func (s *pgStateStore) Close() error {
	return nil
}
