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
	"fmt"
	"sort"
	"time"
)

// 管线状态链；failed_timeout 可从任何非 complete 状态进入，两者均为终态
const (
	StatusInProgress        = "in_progress"
	StatusTriggeringTiles   = "triggering_tiles"
	StatusTilesInProgress   = "tiles_in_progress"
	StatusTriggeringMarkers = "triggering_markers"
	StatusMarkersInProgress = "markers_in_progress"
	StatusComplete          = "complete"
	StatusFailedTimeout     = "failed_timeout"
)

// State Coordinator 持久状态（每 upload 一份，JSON 序列化存储）。
// 完成集合用 map[int]bool：encoding/json 对 map 键排序后输出，
// 同一逻辑状态的序列化结果字节级一致。
type State struct {
	UploadID         string       `json:"uploadId"`
	TotalSheets      int          `json:"totalSheets"`
	CompletedSheets  map[int]bool `json:"completedSheets"`
	CompletedTiles   map[int]bool `json:"completedTiles"`
	CompletedMarkers map[int]bool `json:"completedMarkers"`
	Status           string       `json:"status"`
	CreatedAt        int64        `json:"createdAt"` // epoch millis
	TimeoutMs        int64        `json:"timeoutMs"`
}

// NewState 创建初始状态
func NewState(uploadID string, totalSheets int, timeoutMs int64, now time.Time) *State {
	return &State{
		UploadID:         uploadID,
		TotalSheets:      totalSheets,
		CompletedSheets:  make(map[int]bool),
		CompletedTiles:   make(map[int]bool),
		CompletedMarkers: make(map[int]bool),
		Status:           StatusInProgress,
		CreatedAt:        now.UnixMilli(),
		TimeoutMs:        timeoutMs,
	}
}

// Terminal 是否已进入终态
func (s *State) Terminal() bool {
	return s.Status == StatusComplete || s.Status == StatusFailedTimeout
}

// insert 集合插入；已存在时返回 false（幂等吸收重复投递）
func (s *State) insert(set map[int]bool, sheetNumber int) (bool, error) {
	if sheetNumber < 1 || sheetNumber > s.TotalSheets {
		return false, fmt.Errorf("sheetNumber %d 超出范围 [1, %d]", sheetNumber, s.TotalSheets)
	}
	if set[sheetNumber] {
		return false, nil
	}
	set[sheetNumber] = true
	return true, nil
}

// AddSheet 记录一页元数据完成
func (s *State) AddSheet(sheetNumber int) (bool, error) {
	return s.insert(s.CompletedSheets, sheetNumber)
}

// AddTile 记录一页切片完成
func (s *State) AddTile(sheetNumber int) (bool, error) {
	return s.insert(s.CompletedTiles, sheetNumber)
}

// AddMarker 记录一页标记检测完成
func (s *State) AddMarker(sheetNumber int) (bool, error) {
	return s.insert(s.CompletedMarkers, sheetNumber)
}

// SheetsFull 阶段一是否全部完成
func (s *State) SheetsFull() bool { return len(s.CompletedSheets) == s.TotalSheets }

// TilesFull 阶段二是否全部完成
func (s *State) TilesFull() bool { return len(s.CompletedTiles) == s.TotalSheets }

// MarkersFull 阶段三是否全部完成
func (s *State) MarkersFull() bool { return len(s.CompletedMarkers) == s.TotalSheets }

// SheetNumbers 已完成元数据的页号，升序
func (s *State) SheetNumbers() []int {
	nums := make([]int, 0, len(s.CompletedSheets))
	for n := range s.CompletedSheets {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Progress 进度快照（getProgress 投影）
type Progress struct {
	UploadID         string `json:"uploadId"`
	TotalSheets      int    `json:"totalSheets"`
	CompletedSheets  []int  `json:"completedSheets"`
	CompletedTiles   int    `json:"completedTiles"`
	CompletedMarkers int    `json:"completedMarkers"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"createdAt"`
	Percent          int    `json:"progress"` // 0-100，仅按阶段一完成度计算
}

// Snapshot 生成进度快照；百分比沿用阶段一口径
func (s *State) Snapshot() *Progress {
	percent := 0
	if s.TotalSheets > 0 {
		percent = len(s.CompletedSheets) * 100 / s.TotalSheets
	}
	return &Progress{
		UploadID:         s.UploadID,
		TotalSheets:      s.TotalSheets,
		CompletedSheets:  s.SheetNumbers(),
		CompletedTiles:   len(s.CompletedTiles),
		CompletedMarkers: len(s.CompletedMarkers),
		Status:           s.Status,
		CreatedAt:        s.CreatedAt,
		Percent:          percent,
	}
}
