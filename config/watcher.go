package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"podmesh/logger"
)

// ConfigWatcher 配置文件监控器
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	hotReloader *HotReloader
	mu          sync.Mutex
	isWatching  bool
	lastModTime time.Time
	settleDelay time.Duration
	pollEvery   time.Duration
	errorChan   chan error
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, hotReloader *HotReloader) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("解析配置文件路径失败: %w", err)
	}

	var lastModTime time.Time
	if info, err := os.Stat(absPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:  absPath,
		watcher:     watcher,
		hotReloader: hotReloader,
		lastModTime: lastModTime,
		settleDelay: 100 * time.Millisecond,
		pollEvery:   time.Second,
		errorChan:   make(chan error, 10),
	}, nil
}

// Start 开始监控配置文件（监控所在目录，兼容编辑器的原子替换写法）
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}
	cw.isWatching = true

	go cw.watchLoop(ctx)
	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}
	cw.isWatching = false
	return cw.watcher.Close()
}

// Errors 重新加载失败时的错误通道
func (cw *ConfigWatcher) Errors() <-chan error {
	return cw.errorChan
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(cw.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.configPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// 等文件写完再读
				time.Sleep(cw.settleDelay)
				cw.handleConfigChange()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.reportError(err)

		case <-ticker.C:
			// fsnotify 在部分文件系统上不可靠，用修改时间兜底
			info, err := os.Stat(cw.configPath)
			if err != nil {
				continue
			}
			cw.mu.Lock()
			changed := info.ModTime().After(cw.lastModTime)
			cw.mu.Unlock()
			if changed {
				cw.handleConfigChange()
			}
		}
	}
}

func (cw *ConfigWatcher) handleConfigChange() {
	cw.mu.Lock()
	info, err := os.Stat(cw.configPath)
	if err != nil {
		cw.mu.Unlock()
		cw.reportError(fmt.Errorf("获取文件信息失败: %w", err))
		return
	}
	if !info.ModTime().After(cw.lastModTime) {
		cw.mu.Unlock()
		return
	}
	cw.lastModTime = info.ModTime()
	cw.mu.Unlock()

	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("重新加载配置失败: %w", err))
		return
	}

	diff, err := cw.hotReloader.UpdateConfig(newConfig)
	if err != nil {
		cw.reportError(err)
		return
	}
	if diff.Empty() {
		return
	}
	for _, c := range diff.Changes {
		if c.RequiresRestart {
			logger.Warn("⚠️ 配置段 %s 已修改，需要重启后生效", c.Section)
		} else {
			logger.Info("🔄 配置段 %s 已热更新", c.Section)
		}
	}
}

func (cw *ConfigWatcher) reportError(err error) {
	logger.Error("❌ 配置监控: %v", err)
	select {
	case cw.errorChan <- err:
	default:
	}
}
