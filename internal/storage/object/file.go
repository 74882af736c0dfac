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

package object

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "plan-platform/pkg/errors"
)

// FileStore 本地文件系统对象存储；key 即相对路径，元数据存 sidecar .meta.json
type FileStore struct {
	baseDir string
}

// NewFileStore 创建文件系统对象存储，baseDir 不存在时创建
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, pkgerrors.Wrap(err, "创建对象存储根目录失败")
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) fullPath(path string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(path))
}

func (s *FileStore) metaPath(path string) string {
	return s.fullPath(path) + ".meta.json"
}

// Put 写入对象；先写临时文件再 rename，保证同 key 并发 PUT 的完整性
func (s *FileStore) Put(ctx context.Context, path string, data io.Reader, size int64, metadata map[string]string) error {
	full := s.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		return os.WriteFile(s.metaPath(path), raw, 0644)
	}
	return nil
}

// Get 读取对象
func (s *FileStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "object %s", path)
		}
		return nil, err
	}
	return f, nil
}

// Delete 删除对象及其 sidecar
func (s *FileStore) Delete(ctx context.Context, path string) error {
	if err := os.Remove(s.fullPath(path)); err != nil {
		if os.IsNotExist(err) {
			return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "object %s", path)
		}
		return err
	}
	_ = os.Remove(s.metaPath(path))
	return nil
}

// List 列出指定前缀下的对象
func (s *FileStore) List(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	var results []*ObjectInfo
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(p, ".meta.json") {
			return err
		}
		rel, relErr := filepath.Rel(s.baseDir, p)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		results = append(results, &ObjectInfo{
			Path:      key,
			Size:      info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Exists 检查对象是否存在
func (s *FileStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetMetadata 获取对象元数据（无 sidecar 时返回空 map）
func (s *FileStore) GetMetadata(ctx context.Context, path string) (map[string]string, error) {
	if ok, err := s.Exists(ctx, path); err != nil {
		return nil, err
	} else if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "object %s", path)
	}
	raw, err := os.ReadFile(s.metaPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var metadata map[string]string
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// Close 关闭存储连接
func (s *FileStore) Close() error {
	return nil
}
