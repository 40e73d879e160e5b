package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "darkpool-go/config"
	"darkpool-go/infrastructure/logger"
	"darkpool-go/internal/engine"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免编辑器连续写入触发多次重载
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 2 * time.Second,
	}
}

// ReloadHandler receives every successfully parsed and validated config.
type ReloadHandler func(cfg appconfig.AppConfig) error

// ConfigUpdater is the part of the engine a reload touches.
type ConfigUpdater interface {
	UpdateConfig(patch engine.ConfigPatch) (engine.Config, error)
}

// HotReloader 配置热更新器
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	log        *logger.Logger

	mu         sync.Mutex
	handlers   []ReloadHandler
	lastReload time.Time
	reloads    int

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	if log == nil {
		log = logger.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		log:        log,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// OnReload 注册重载处理函数，按注册顺序调用
func (h *HotReloader) OnReload(handler ReloadHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, handler)
}

// EngineApplier pushes the engine section of every reload into the engine.
// Sections other than engine need a restart.
func EngineApplier(eng ConfigUpdater) ReloadHandler {
	return func(cfg appconfig.AppConfig) error {
		_, err := eng.UpdateConfig(engine.PatchFrom(cfg.EngineConfig()))
		return err
	}
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	// 监听目录而不是文件：编辑器常用 rename 方式保存，文件 inode 会变
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)

	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })

	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if started {
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
		}
	}
	return h.watcher.Close()
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			// 只处理写入和创建事件
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.handleConfigChange()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			h.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// handleConfigChange 处理配置变化，返回是否应用了新配置
func (h *HotReloader) handleConfigChange() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 检查冷却时间
	if !h.lastReload.IsZero() && time.Since(h.lastReload) < h.config.CooldownTime {
		return false
	}

	cfg, err := appconfig.LoadWithEnvOverrides(h.configPath)
	if err != nil {
		// 文件可能只写了一半，保留旧配置
		h.log.Warn("config reload rejected", zap.String("path", h.configPath), zap.Error(err))
		return false
	}

	for _, handler := range h.handlers {
		if err := handler(cfg); err != nil {
			h.log.Error("config reload handler failed", zap.Error(err))
			return false
		}
	}

	h.lastReload = time.Now()
	h.reloads++
	h.log.Info("config reloaded", zap.String("path", h.configPath), zap.Int("reloads", h.reloads))
	return true
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}

// Reloads 返回成功重载次数
func (h *HotReloader) Reloads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reloads
}
