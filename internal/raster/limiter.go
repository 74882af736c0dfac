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

package raster

import (
	"context"

	"golang.org/x/time/rate"
)

// limiter 栅格化服务调用限流：QPS + 并发控制。
// 栅格化是 CPU 密集型外部服务，过量并发会拖垮它。
type limiter struct {
	requestLimiter *rate.Limiter
	semaphore      chan struct{}
}

func newLimiter(qps float64, burst, maxConcurrent int) *limiter {
	l := &limiter{}
	if qps > 0 {
		if burst < 1 {
			burst = 1
		}
		l.requestLimiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
	if maxConcurrent > 0 {
		l.semaphore = make(chan struct{}, maxConcurrent)
	}
	return l
}

// acquire 等待获取执行许可（阻塞直到可以执行）
func (l *limiter) acquire(ctx context.Context) error {
	if l.requestLimiter != nil {
		if err := l.requestLimiter.Wait(ctx); err != nil {
			return err
		}
	}
	if l.semaphore != nil {
		select {
		case l.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// release 释放并发 slot
func (l *limiter) release() {
	if l.semaphore != nil {
		select {
		case <-l.semaphore:
		default:
		}
	}
}
