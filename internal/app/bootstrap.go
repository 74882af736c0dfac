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

package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"plan-platform/internal/coordinator"
	"plan-platform/internal/stagequeue"
	"plan-platform/internal/storage/cache"
	"plan-platform/internal/storage/metadata"
	"plan-platform/internal/storage/object"
	"plan-platform/pkg/config"
	"plan-platform/pkg/log"
	"plan-platform/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，避免在 cmd 内装配存储与队列
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Secrets secrets.Store

	MetadataStore metadata.Store
	Repo          *metadata.Repository
	Objects       object.Store
	Cache         cache.Store
	Queue         stagequeue.Queue
	States        coordinator.StateStore

	statePool *pgxpool.Pool
}

// NewBootstrap 根据配置创建 Bootstrap。secret:// 引用（DSN、raster token、
// 缓存密码）先经 Secret Store 解析，再交给各存储工厂。
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	secretStore, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Config:   cfg.Secrets.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 Secret Store 失败: %w", err)
	}
	if err := resolveSecrets(ctx, secretStore, cfg); err != nil {
		return nil, err
	}

	metaStore, err := metadata.NewStore(ctx, cfg.Storage.Metadata)
	if err != nil {
		return nil, fmt.Errorf("初始化元数据存储失败: %w", err)
	}
	objects, err := object.NewStore(cfg.Storage.Object)
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}
	cacheStore, err := cache.NewCache(cfg.Storage.Cache)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	queue, err := stagequeue.NewQueue(ctx, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("初始化阶段队列失败: %w", err)
	}

	// Coordinator 持久状态与 processing_jobs 同库；memory 元数据时同为进程内
	var states coordinator.StateStore
	var statePool *pgxpool.Pool
	if cfg.Storage.Metadata.Type == "postgres" {
		statePool, err = pgxpool.New(ctx, cfg.Storage.Metadata.DSN)
		if err != nil {
			return nil, fmt.Errorf("初始化 coordinator 状态库失败: %w", err)
		}
		states = coordinator.NewPgStateStore(statePool)
	} else {
		states = coordinator.NewMemoryStateStore()
	}

	return &Bootstrap{
		Config:        cfg,
		Logger:        logger,
		Secrets:       secretStore,
		MetadataStore: metaStore,
		Repo:          metadata.NewRepository(metaStore),
		Objects:       objects,
		Cache:         cacheStore,
		Queue:         queue,
		States:        states,
		statePool:     statePool,
	}, nil
}

// resolveSecrets 解析配置中的 secret:// 引用
func resolveSecrets(ctx context.Context, store secrets.Store, cfg *config.Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"storage.metadata.dsn", &cfg.Storage.Metadata.DSN},
		{"queue.dsn", &cfg.Queue.DSN},
		{"storage.cache.password", &cfg.Storage.Cache.Password},
		{"raster.token", &cfg.Raster.Token},
	}
	for _, f := range fields {
		resolved, err := secrets.Resolve(ctx, store, *f.value)
		if err != nil {
			return fmt.Errorf("解析 %s 失败: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}

// Close 释放存储与队列连接
func (b *Bootstrap) Close() {
	if b.Queue != nil {
		_ = b.Queue.Close()
	}
	if b.States != nil {
		_ = b.States.Close()
	}
	if b.statePool != nil {
		b.statePool.Close()
	}
	if b.Cache != nil {
		_ = b.Cache.Close()
	}
	if b.MetadataStore != nil {
		_ = b.MetadataStore.Close()
	}
}
