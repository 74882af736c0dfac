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
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// CompletionClient Worker 向 Coordinator 投递完成回执的客户端。
// Worker 与 API 同进程部署时用 LocalClient，分离部署时用 HTTPClient。
type CompletionClient interface {
	SheetComplete(ctx context.Context, uploadID string, sheetNumber int, validSheets []string) error
	TileComplete(ctx context.Context, uploadID string, sheetNumber int) error
	MarkerComplete(ctx context.Context, uploadID string, sheetNumber int) error
}

// LocalClient 进程内投递，直接走 Manager
type LocalClient struct {
	manager *Manager
}

// NewLocalClient 创建进程内完成回执客户端
func NewLocalClient(manager *Manager) *LocalClient {
	return &LocalClient{manager: manager}
}

// SheetComplete 实现 CompletionClient
func (c *LocalClient) SheetComplete(ctx context.Context, uploadID string, sheetNumber int, validSheets []string) error {
	_, err := c.manager.SheetComplete(ctx, uploadID, sheetNumber, validSheets)
	return err
}

// TileComplete 实现 CompletionClient
func (c *LocalClient) TileComplete(ctx context.Context, uploadID string, sheetNumber int) error {
	_, err := c.manager.TileComplete(ctx, uploadID, sheetNumber)
	return err
}

// MarkerComplete 实现 CompletionClient
func (c *LocalClient) MarkerComplete(ctx context.Context, uploadID string, sheetNumber int) error {
	_, err := c.manager.MarkerComplete(ctx, uploadID, sheetNumber)
	return err
}

// HTTPClient 通过 API 控制面投递完成回执
type HTTPClient struct {
	baseURL string
	client  *resty.Client
}

// NewHTTPClient 创建 HTTP 完成回执客户端；baseURL 为 API 地址
func NewHTTPClient(baseURL string) *HTTPClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)
	return &HTTPClient{baseURL: baseURL, client: client}
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}) error {
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("投递完成回执 failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return fmt.Errorf("完成回执被拒绝 (%d): %s", response.StatusCode(), response.String())
	}
	return nil
}

// SheetComplete 实现 CompletionClient
func (c *HTTPClient) SheetComplete(ctx context.Context, uploadID string, sheetNumber int, validSheets []string) error {
	if validSheets == nil {
		validSheets = []string{}
	}
	return c.post(ctx, fmt.Sprintf("/api/pipeline/%s/sheet-complete", uploadID), map[string]interface{}{
		"sheetNumber": sheetNumber,
		"validSheets": validSheets,
	})
}

// TileComplete 实现 CompletionClient
func (c *HTTPClient) TileComplete(ctx context.Context, uploadID string, sheetNumber int) error {
	return c.post(ctx, fmt.Sprintf("/api/pipeline/%s/tile-complete", uploadID), map[string]interface{}{
		"sheetNumber": sheetNumber,
	})
}

// MarkerComplete 实现 CompletionClient
func (c *HTTPClient) MarkerComplete(ctx context.Context, uploadID string, sheetNumber int) error {
	return c.post(ctx, fmt.Sprintf("/api/pipeline/%s/marker-complete", uploadID), map[string]interface{}{
		"sheetNumber": sheetNumber,
	})
}
