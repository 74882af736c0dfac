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
	"time"
)

// Record 状态行：状态本体加告警唤醒时间
type Record struct {
	State  *State
	WakeAt time.Time // 零值表示告警已解除
}

// StateStore Coordinator 持久存储。Save 为同步落盘，
// 调用方（单写者 actor）在回复消息前必须 Save 成功。
type StateStore interface {
	// Save 整体写入状态与 wake_at；不存在则插入
	Save(ctx context.Context, state *State, wakeAt time.Time) error
	// Load 按 uploadId 读取；不存在返回 ErrNotFound
	Load(ctx context.Context, uploadID string) (*State, error)
	// ListActive 列出全部非终态记录（重启后重建 actor 与告警）
	ListActive(ctx context.Context) ([]*Record, error)
	// Close 关闭存储
	Close() error
}
