// Package event 负责事件的分发与落地：Bus 接收各组件发出的事件，
// Center 消费事件，写入数据库、记录指标并触发通知。
package event

import (
	"sync"

	"podmesh/logger"
	"podmesh/schema"
)

// Sink 事件接收方。交易循环、对账循环、心跳都只依赖这个接口。
type Sink interface {
	Emit(e schema.Event)
}

// SinkFunc 函数适配器
type SinkFunc func(e schema.Event)

// Emit 实现 Sink
func (f SinkFunc) Emit(e schema.Event) { f(e) }

// Bus 事件总线，带缓冲的单消费者队列。
// 队列满时记录警告并阻塞等待，审计事件不能丢。
type Bus struct {
	mu       sync.RWMutex
	eventCh  chan schema.Event
	closed   bool
	capacity int
}

// NewBus 创建事件总线
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &Bus{
		eventCh:  make(chan schema.Event, bufferSize),
		capacity: bufferSize,
	}
}

// Emit 发布事件，总线关闭后的事件直接丢弃
func (b *Bus) Emit(e schema.Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		logger.Debug("事件总线已关闭，丢弃事件: %s", e.Kind())
		return
	}

	select {
	case b.eventCh <- e:
	default:
		logger.Warn("⚠️ 事件队列已满 (%d)，等待消费: %s", b.capacity, e.Kind())
		b.eventCh <- e
	}
}

// Events 事件通道，总线关闭且排空后通道关闭
func (b *Bus) Events() <-chan schema.Event {
	return b.eventCh
}

// Len 队列中待处理的事件数
func (b *Bus) Len() int {
	return len(b.eventCh)
}

// Close 关闭事件总线，可重复调用
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.eventCh)
}

// Tee 把事件同时发给多个 Sink
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e schema.Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}

// Recorder 把事件记录在内存中，测试与状态查询使用
type Recorder struct {
	mu     sync.Mutex
	events []schema.Event
}

// NewRecorder 创建内存记录器
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit 实现 Sink
func (r *Recorder) Emit(e schema.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events 已记录事件的副本
func (r *Recorder) Events() []schema.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind 按类型过滤
func (r *Recorder) OfKind(kind schema.Kind) []schema.Event {
	var out []schema.Event
	for _, e := range r.Events() {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset 清空记录
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
