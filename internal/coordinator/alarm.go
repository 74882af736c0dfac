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
	"sync"
	"time"
)

// alarmScheduler 进程内截止告警：每 upload 一个 time.Timer。
// 可晚触发不可早触发；持久化侧的 wake_at 列负责跨重启恢复。
type alarmScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(uploadID string)
}

func newAlarmScheduler(fire func(uploadID string)) *alarmScheduler {
	return &alarmScheduler{
		timers: make(map[string]*time.Timer),
		fire:   fire,
	}
}

// Arm 实现 Alarms；重复 Arm 以最新时间为准
func (s *alarmScheduler) Arm(uploadID string, at time.Time) {
	if at.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[uploadID]; ok {
		t.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.timers[uploadID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, uploadID)
		s.mu.Unlock()
		s.fire(uploadID)
	})
}

// Disarm 实现 Alarms
func (s *alarmScheduler) Disarm(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[uploadID]; ok {
		t.Stop()
		delete(s.timers, uploadID)
	}
}

// Close 停止全部定时器
func (s *alarmScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
