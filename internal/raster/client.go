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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"plan-platform/pkg/config"
	"plan-platform/pkg/utils"
)

// Service 栅格化服务接口：页数统计、元数据提取、切片生成、标记检测
type Service interface {
	// PageCount 统计 PDF 页数
	PageCount(ctx context.Context, objectKey string) (int, error)
	// ExtractSheetMetadata 提取单页元数据（页名、标题、尺寸）
	ExtractSheetMetadata(ctx context.Context, pageKey string, sheetNumber int) (*SheetMetadata, error)
	// GenerateTiles 为单页生成 DeepZoom 切片金字塔
	GenerateTiles(ctx context.Context, pageKey, outputPrefix string) (*TileResult, error)
	// DetectMarkers 检测单页标记；validSheets 用于解析跨页引用
	DetectMarkers(ctx context.Context, pageKey string, validSheets []string) (*MarkerResult, error)
}

// Client 栅格化服务 HTTP 客户端
type Client struct {
	baseURL string
	token   string
	client  *resty.Client
	limiter *limiter
}

// NewClient 创建栅格化服务客户端
func NewClient(cfg config.RasterConfig) *Client {
	client := resty.New()
	client.SetTimeout(utils.ParseDurationOr(cfg.Timeout, 60*time.Second))
	retries := cfg.RetryCount
	if retries <= 0 {
		retries = 3
	}
	client.SetRetryCount(retries)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(10 * time.Second)

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  client,
		limiter: newLimiter(cfg.QPS, cfg.Burst, cfg.MaxConcurrent),
	}
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	if err := c.limiter.acquire(ctx); err != nil {
		return err
	}
	defer c.limiter.release()

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if c.token != "" {
		req.SetHeader("Authorization", "Bearer "+c.token)
	}
	response, err := req.Post(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("调用栅格化服务 failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return fmt.Errorf("栅格化服务返回错误 (%d): %s", response.StatusCode(), response.String())
	}
	if out != nil {
		if err := json.Unmarshal(response.Body(), out); err != nil {
			return fmt.Errorf("解析栅格化服务响应failed: %w", err)
		}
	}
	return nil
}

// PageCount 实现 Service
func (c *Client) PageCount(ctx context.Context, objectKey string) (int, error) {
	var result struct {
		Pages int `json:"pages"`
	}
	err := c.post(ctx, "/v1/pagecount", map[string]interface{}{"objectKey": objectKey}, &result)
	if err != nil {
		return 0, err
	}
	if result.Pages <= 0 {
		return 0, fmt.Errorf("栅格化服务返回无效页数: %d", result.Pages)
	}
	return result.Pages, nil
}

// ExtractSheetMetadata 实现 Service
func (c *Client) ExtractSheetMetadata(ctx context.Context, pageKey string, sheetNumber int) (*SheetMetadata, error) {
	var result SheetMetadata
	err := c.post(ctx, "/v1/sheets/extract", map[string]interface{}{
		"pageKey":     pageKey,
		"sheetNumber": sheetNumber,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateTiles 实现 Service
func (c *Client) GenerateTiles(ctx context.Context, pageKey, outputPrefix string) (*TileResult, error) {
	var result TileResult
	err := c.post(ctx, "/v1/tiles", map[string]interface{}{
		"pageKey":      pageKey,
		"outputPrefix": outputPrefix,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DetectMarkers 实现 Service
func (c *Client) DetectMarkers(ctx context.Context, pageKey string, validSheets []string) (*MarkerResult, error) {
	var result MarkerResult
	err := c.post(ctx, "/v1/markers", map[string]interface{}{
		"pageKey":     pageKey,
		"validSheets": validSheets,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
