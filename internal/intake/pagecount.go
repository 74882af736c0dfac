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

package intake

import (
	"bytes"
	"context"

	pdf "github.com/unidoc/unipdf/v3/model"

	"plan-platform/internal/raster"
	pkgerrors "plan-platform/pkg/errors"
)

// PageCounter 上传时同步确定 PDF 页数
type PageCounter interface {
	Count(ctx context.Context, data []byte, objectKey string) (int, error)
}

// localPageCounter 进程内解析 PDF 结构统计页数，不经过栅格化服务
type localPageCounter struct{}

// NewLocalPageCounter 创建本地页数统计器
func NewLocalPageCounter() PageCounter {
	return localPageCounter{}
}

// Count 实现 PageCounter
func (localPageCounter) Count(ctx context.Context, data []byte, objectKey string) (int, error) {
	reader, err := pdf.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return 0, pkgerrors.Wrap(err, "解析 PDF 失败")
	}
	encrypted, err := reader.IsEncrypted()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "检查 PDF 加密状态失败")
	}
	if encrypted {
		return 0, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "不支持加密 PDF")
	}
	n, err := reader.GetNumPages()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "统计 PDF 页数失败")
	}
	if n < 1 {
		return 0, pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "PDF 页数无效: %d", n)
	}
	return n, nil
}

// servicePageCounter 通过栅格化服务统计页数（按对象 key 引用已上传的 PDF）
type servicePageCounter struct {
	svc raster.Service
}

// NewServicePageCounter 创建栅格化服务页数统计器
func NewServicePageCounter(svc raster.Service) PageCounter {
	return servicePageCounter{svc: svc}
}

// Count 实现 PageCounter
func (c servicePageCounter) Count(ctx context.Context, data []byte, objectKey string) (int, error) {
	return c.svc.PageCount(ctx, objectKey)
}

// NewPageCounter 按配置选择页数统计方式；默认本地解析
func NewPageCounter(mode string, svc raster.Service) PageCounter {
	if mode == "service" && svc != nil {
		return NewServicePageCounter(svc)
	}
	return NewLocalPageCounter()
}
