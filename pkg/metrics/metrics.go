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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		PipelineStageCompletions, PipelineFanouts, PipelineTimeouts,
		PipelineTerminal, CoordinatorHandlerDuration,
		StageJobDuration, StageJobTotal, QueueClaims, WorkerBusy,
	)
}

// PipelineStageCompletions 各阶段完成回执数（含重复投递）
var PipelineStageCompletions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coplan_stage_completions_total",
		Help: "阶段完成回执数（按阶段，含重复投递）",
	},
	[]string{"stage"}, // metadata | tile | marker
)

// PipelineFanouts 阶段边界扇出次数（每 upload 每阶段至多一次）
var PipelineFanouts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coplan_fanouts_total",
		Help: "阶段边界扇出次数",
	},
	[]string{"stage"}, // tiles | markers
)

// PipelineTimeouts 截止告警触发数
var PipelineTimeouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "coplan_timeouts_total",
		Help: "截止告警触发并判定超时的 upload 数",
	},
)

// PipelineTerminal 终态 upload 数（按终态）
var PipelineTerminal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coplan_pipeline_terminal_total",
		Help: "进入终态的 upload 数",
	},
	[]string{"status"}, // complete | failed_timeout
)

// CoordinatorHandlerDuration Coordinator 消息处理耗时（秒）
var CoordinatorHandlerDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "coplan_coordinator_handler_duration_seconds",
		Help:    "Coordinator 消息处理耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"}, // initialize | sheet_complete | tile_complete | marker_complete | alarm
)

// StageJobDuration 阶段任务执行耗时（秒）
var StageJobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "coplan_stage_job_duration_seconds",
		Help:    "阶段任务执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"},
)

// StageJobTotal 阶段任务总数（按结果）
var StageJobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coplan_stage_job_total",
		Help: "阶段任务总数（按结果）",
	},
	[]string{"stage", "result"}, // completed | failed | dead
)

// QueueClaims 队列认领次数（按队列）
var QueueClaims = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coplan_queue_claims_total",
		Help: "队列认领次数",
	},
	[]string{"queue"},
)

// WorkerBusy 当前正在执行的阶段任务数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "coplan_worker_busy",
		Help: "当前正在执行的阶段任务数",
	},
	[]string{"worker_id"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
