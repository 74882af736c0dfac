package object

import (
	"fmt"

	"plan-platform/pkg/config"
)

// NewStore 根据配置创建对象存储（memory | file）
func NewStore(cfg config.ObjectConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if cfg.BaseDir == "" {
			return nil, fmt.Errorf("file 对象存储需要 base_dir")
		}
		return NewFileStore(cfg.BaseDir)
	default:
		return nil, fmt.Errorf("不支持的对象存储类型: %s", cfg.Type)
	}
}
