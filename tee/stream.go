package tee

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/routex/channel"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// TeeStream：队列 + 单飞批量投递
// =============================================================================

// Config 流配置
type Config struct {
	// FlushInterval 后台批量投递周期，默认 1s
	FlushInterval time.Duration
	// BatchSize 单次批量上限，默认 10
	BatchSize int
	// RetryBackoff 线性退避基数（第 n 次失败后等待 n·RetryBackoff），默认 1s
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	return c
}

// Stats 流的运行时统计
type Stats struct {
	QueueSize int   `json:"queue_size"`
	Enqueued  int64 `json:"enqueued"`
	Delivered int64 `json:"delivered"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
}

type queued struct {
	dest    *Destination
	payload *Payload
}

// Stream 每实例一个后台投递协程。
// 队列原则上无界；QueueSize 作为背压信号暴露。
// 投递失败不影响客户端响应。
type Stream struct {
	cfg Config

	destinations atomic.Pointer[[]*Destination]

	mu    sync.Mutex
	queue []*queued

	// 批量投递的重入保护
	processing atomic.Bool

	enqueued  atomic.Int64
	delivered atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64

	sinks  map[Kind]Sink
	custom *CustomSink

	rngMu sync.Mutex
	rng   *rand.Rand

	now   func() time.Time
	sleep func(time.Duration)

	stop chan struct{}
	done chan struct{}

	logger *zap.Logger
}

// NewStream 创建并启动流
func NewStream(cfg Config, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	custom := NewCustomSink()
	httpSink := NewHTTPSink(nil)

	s := &Stream{
		cfg: cfg.withDefaults(),
		sinks: map[Kind]Sink{
			KindHTTP:    httpSink,
			KindWebhook: httpSink,
			KindFile:    NewFileSink(),
			KindCustom:  custom,
		},
		custom: custom,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		sleep:  time.Sleep,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	empty := make([]*Destination, 0)
	s.destinations.Store(&empty)

	go s.loop()
	return s
}

// RegisterHandler 注册 custom 类型目的地的处理器
func (s *Stream) RegisterHandler(name string, h Handler) {
	s.custom.RegisterHandler(name, h)
}

// SetDestinations 安装目的地快照
func (s *Stream) SetDestinations(dests []*Destination) {
	snapshot := make([]*Destination, len(dests))
	copy(snapshot, dests)
	s.destinations.Store(&snapshot)
}

// Destinations 返回当前目的地快照
func (s *Stream) Destinations() []*Destination {
	return *s.destinations.Load()
}

// Tee 构造信封并按目的地过滤入队。永不阻塞调用方。
func (s *Stream) Tee(ch *channel.Channel, req RequestInfo, resp ResponseInfo, tokens TokenUsage, success bool, errMsg string) {
	info := ChannelInfo{}
	if ch != nil {
		info = ChannelInfo{ID: ch.ID, Name: ch.Name, Type: string(ch.Type)}
	}
	payload := newPayload(info, req, resp, tokens, success, errMsg, s.now())

	var batch []*queued
	for _, dest := range *s.destinations.Load() {
		if !dest.Enabled {
			continue
		}
		if !dest.Filter.matches(payload) {
			continue
		}
		if !s.sampled(dest.Filter.SampleRate) {
			continue
		}
		batch = append(batch, &queued{dest: dest, payload: payload})
	}
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, batch...)
	s.mu.Unlock()
	s.enqueued.Add(int64(len(batch)))
}

func (s *Stream) sampled(rate float64) bool {
	if rate <= 0 || rate >= 1 {
		return true
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < rate
}

// Stats 返回统计快照
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	size := len(s.queue)
	s.mu.Unlock()
	return Stats{
		QueueSize: size,
		Enqueued:  s.enqueued.Load(),
		Delivered: s.delivered.Load(),
		Retried:   s.retried.Load(),
		Failed:    s.failed.Load(),
	}
}

// Flush 同步排空队列
func (s *Stream) Flush(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if !s.flushBatch(ctx) {
			s.mu.Lock()
			empty := len(s.queue) == 0
			s.mu.Unlock()
			if empty {
				return
			}
			// 另一个批次正在投递，稍后重试
			s.sleep(time.Millisecond)
		}
	}
}

// Shutdown 停止后台协程后排空队列。
// 调用后实例不可再用；在途信封可能丢失。
func (s *Stream) Shutdown(ctx context.Context) {
	close(s.stop)
	<-s.done
	s.Flush(ctx)
}

func (s *Stream) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushBatch(context.Background())
		case <-s.stop:
			return
		}
	}
}

// flushBatch 取一批并发投递，全部结算后返回。
// 返回假表示无事可做或已有批次在投递。
func (s *Stream) flushBatch(ctx context.Context) bool {
	if !s.processing.CompareAndSwap(false, true) {
		return false
	}
	defer s.processing.Store(false)

	s.mu.Lock()
	n := len(s.queue)
	if n == 0 {
		s.mu.Unlock()
		return false
	}
	if n > s.cfg.BatchSize {
		n = s.cfg.BatchSize
	}
	batch := s.queue[:n]
	s.queue = s.queue[n:]
	s.mu.Unlock()

	var g errgroup.Group
	for _, item := range batch {
		g.Go(func() error {
			s.dispatch(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return true
}

// dispatch 带线性退避的单条投递；终态失败计数并记录，不回传。
func (s *Stream) dispatch(ctx context.Context, item *queued) {
	sink, ok := s.sinks[item.dest.Type]
	if !ok {
		s.failed.Add(1)
		s.logger.Error("unknown tee destination type",
			zap.String("destination", item.dest.Name),
			zap.String("type", string(item.dest.Type)))
		return
	}

	attempts := item.dest.retries()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, item.dest.timeout())
		err := sink.Deliver(dctx, item.dest, item.payload)
		cancel()
		if err == nil {
			s.delivered.Add(1)
			return
		}
		lastErr = err
		if attempt < attempts {
			s.retried.Add(1)
			s.sleep(time.Duration(attempt) * s.cfg.RetryBackoff)
		}
	}

	s.failed.Add(1)
	s.logger.Error("tee delivery failed",
		zap.String("destination", item.dest.Name),
		zap.String("payload", item.payload.ID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
}
