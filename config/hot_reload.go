package config

import (
	"fmt"
	"sync"
)

// ConfigUpdateCallback 热更新回调，只会收到可热更新的变更
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// HotReloader 配置热更新器
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{currentConfig: initialConfig}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// Current 当前生效的配置
func (hr *HotReloader) Current() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}

// UpdateConfig 对比新旧配置，把可热更新的配置段合入当前配置并触发回调。
// 需要重启的变更只出现在返回的 diff 中，不会生效。
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	if diff.Empty() {
		return diff, nil
	}

	var hot []ConfigChange
	for _, c := range diff.Changes {
		if !c.RequiresRestart {
			hot = append(hot, c)
		}
	}
	if len(hot) == 0 {
		return diff, nil
	}

	merged := *hr.currentConfig
	merged.Risk = newConfig.Risk

	for _, cb := range hr.updateCallbacks {
		if err := cb(hr.currentConfig, &merged, hot); err != nil {
			return diff, fmt.Errorf("应用热更新失败: %w", err)
		}
	}
	hr.currentConfig = &merged
	return diff, nil
}
