package tee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// Sink 单种目的地类型的投递实现
type Sink interface {
	Deliver(ctx context.Context, dest *Destination, payload *Payload) error
}

// ---------------------------------------------------------------------------
// http / webhook
// ---------------------------------------------------------------------------

// HTTPSink JSON POST 投递，方法与头部可由目的地覆盖。
type HTTPSink struct {
	client *http.Client
}

// NewHTTPSink 创建 HTTP 投递；client 为 nil 时使用默认客户端。
// 单次超时由目的地控制（context），客户端自身不设超时。
func NewHTTPSink(client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSink{client: client}
}

func (s *HTTPSink) Deliver(ctx context.Context, dest *Destination, payload *Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	method := dest.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, dest.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sink %s returned %d", dest.Name, resp.StatusCode)
	}
	return nil
}

// ---------------------------------------------------------------------------
// file
// ---------------------------------------------------------------------------

// FileSink 换行分隔 JSON 追加写。
// 并行目的地可能写同一文件，按路径串行化避免行交错。
type FileSink struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileSink 创建文件投递
func NewFileSink() *FileSink {
	return &FileSink{locks: make(map[string]*sync.Mutex)}
}

func (s *FileSink) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func (s *FileSink) Deliver(_ context.Context, dest *Destination, payload *Payload) error {
	if dest.FilePath == "" {
		return fmt.Errorf("sink %s: file_path required", dest.Name)
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	l := s.pathLock(dest.FilePath)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(filepath.Dir(dest.FilePath), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	f, err := os.OpenFile(dest.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// custom
// ---------------------------------------------------------------------------

// Handler 自定义投递处理器
type Handler func(ctx context.Context, payload *Payload) error

// CustomSink 按 handler_ref 调用注册的处理器
type CustomSink struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewCustomSink 创建自定义投递
func NewCustomSink() *CustomSink {
	return &CustomSink{handlers: make(map[string]Handler)}
}

// RegisterHandler 注册处理器（同名覆盖）
func (s *CustomSink) RegisterHandler(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

func (s *CustomSink) Deliver(ctx context.Context, dest *Destination, payload *Payload) error {
	s.mu.RLock()
	h, ok := s.handlers[dest.HandlerRef]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("sink %s: handler %q not registered", dest.Name, dest.HandlerRef)
	}
	return h(ctx, payload)
}
