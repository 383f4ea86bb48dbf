// 配置文件变更监听器。
//
// 纯轮询实现，带防抖；用于在配置文件被修改后触发重载回调
// （如运行时调整日志级别）。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileEvent 文件变更事件
type FileEvent struct {
	// 变更的文件路径
	Path string `json:"path"`

	// 操作类型
	Op FileOp `json:"op"`

	// 事件发生时间
	Timestamp time.Time `json:"timestamp"`
}

// FileOp 文件操作类型
type FileOp int

const (
	// FileOpCreate 文件被创建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件被修改
	FileOpWrite
	// FileOpRemove 文件被删除
	FileOpRemove
)

// String 返回操作类型的字符串表示
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileWatcher 监听配置文件变更
type FileWatcher struct {
	mu sync.RWMutex

	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration

	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent
	callbacks []func(FileEvent)

	lastModTime time.Time
	exists      bool

	logger *zap.Logger
}

// WatcherOption 配置 FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.pollInterval = d
	}
}

// WithDebounceDelay 设置防抖延迟
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// NewFileWatcher 创建文件监听器。
// 文件尚不存在时也可以监听，创建后会收到 CREATE 事件。
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is empty")
	}

	w := &FileWatcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 16),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if info, err := os.Stat(path); err == nil {
		w.lastModTime = info.ModTime()
		w.exists = true
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	} else {
		w.logger.Warn("config file does not exist, will watch for creation",
			zap.String("path", path))
	}

	return w, nil
}

// OnChange 注册变更回调
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动监听
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))

	return nil
}

// Stop 停止监听
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false

	w.logger.Info("config watcher stopped")
}

// IsRunning 返回监听器是否在运行
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Path 返回监听的文件路径
func (w *FileWatcher) Path() string {
	return w.path
}

func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFile()
		}
	}
}

func (w *FileWatcher) checkFile() {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.exists {
			w.exists = false
			w.emit(FileOpRemove)
		}
		return
	}

	switch {
	case !w.exists:
		w.exists = true
		w.lastModTime = info.ModTime()
		w.emit(FileOpCreate)
	case info.ModTime().After(w.lastModTime):
		w.lastModTime = info.ModTime()
		w.emit(FileOpWrite)
	}
}

// emit 调用方须持有 w.mu
func (w *FileWatcher) emit(op FileOp) {
	select {
	case w.eventChan <- FileEvent{Path: w.path, Op: op, Timestamp: time.Now()}:
	default:
		// 事件通道满时丢弃，下一轮轮询会再次发现差异
	}
}

// dispatchLoop 带防抖地分发事件：同一防抖窗口内只保留最后一个事件
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event := <-w.eventChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			evt := event
			debounceTimer = time.AfterFunc(w.debounceDelay, func() {
				w.mu.RLock()
				callbacks := make([]func(FileEvent), len(w.callbacks))
				copy(callbacks, w.callbacks)
				w.mu.RUnlock()

				w.logger.Debug("dispatching config file event",
					zap.String("path", evt.Path),
					zap.String("op", evt.Op.String()))

				for _, cb := range callbacks {
					cb(evt)
				}
			})
		}
	}
}
