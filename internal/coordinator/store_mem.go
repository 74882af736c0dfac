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
	"sync"
	"time"

	pkgerrors "plan-platform/pkg/errors"
)

// memoryStateStore 内存实现 StateStore；JSON 序列化存储，
// 与 pg 实现保持一致的编解码路径
type memoryStateStore struct {
	mu      sync.RWMutex
	records map[string]*memRecord
}

type memRecord struct {
	blob   []byte
	wakeAt time.Time
}

// NewMemoryStateStore 创建内存状态存储
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{records: make(map[string]*memRecord)}
}

// Save 实现 StateStore
func (s *memoryStateStore) Save(ctx context.Context, state *State, wakeAt time.Time) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return pkgerrors.Wrap(err, "序列化 coordinator 状态失败")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[state.UploadID] = &memRecord{blob: blob, wakeAt: wakeAt}
	return nil
}

// Load 实现 StateStore
func (s *memoryStateStore) Load(ctx context.Context, uploadID string) (*State, error) {
	s.mu.RLock()
	rec, ok := s.records[uploadID]
	s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "coordinator state %s", uploadID)
	}
	var state State
	if err := json.Unmarshal(rec.blob, &state); err != nil {
		return nil, pkgerrors.Wrap(err, "反序列化 coordinator 状态失败")
	}
	return &state, nil
}

// ListActive 实现 StateStore
func (s *memoryStateStore) ListActive(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		var state State
		if err := json.Unmarshal(rec.blob, &state); err != nil {
			return nil, pkgerrors.Wrap(err, "反序列化 coordinator 状态失败")
		}
		if state.Terminal() {
			continue
		}
		out = append(out, &Record{State: &state, WakeAt: rec.wakeAt})
	}
	return out, nil
}

// Close 实现 StateStore
func (s *memoryStateStore) Close() error {
	return nil
}
