package broadcast

import (
	"context"
	"fmt"
	"io"
	"sync"

	"LoopFM/logger"
)

// DefaultBuffer 每个订阅者默认可缓冲的数据块数量
const DefaultBuffer = 64

// GoneFunc 订阅者被移除时的回调
type GoneFunc func(s *Subscriber, cause error)

// Multicaster 把单一数据源扇出给多个订阅者。
//
// 每个订阅者有独立的有界缓冲区和背压状态：
//
//	NORMAL -(缓冲区满)-> WAITING_DRAIN -(排空)-> NORMAL
//
// 处于 WAITING_DRAIN 的订阅者会直接丢弃新的数据块，慢订阅者不会拖慢数据源和其他订阅者。
type Multicaster struct {
	name   string
	buffer int
	onGone GoneFunc

	mu       sync.RWMutex
	subs     map[*Subscriber]struct{}
	closed   bool
	closeErr error
}

// Option 配置 Multicaster
type Option func(*Multicaster)

// WithBuffer 设置每个订阅者的缓冲区大小
func WithBuffer(n int) Option {
	return func(m *Multicaster) {
		if n > 0 {
			m.buffer = n
		}
	}
}

// WithName 设置日志中使用的名称
func WithName(name string) Option {
	return func(m *Multicaster) {
		m.name = name
	}
}

// WithGoneHook 设置订阅者移除回调
func WithGoneHook(fn GoneFunc) Option {
	return func(m *Multicaster) {
		m.onGone = fn
	}
}

// New 创建 Multicaster
func New(opts ...Option) *Multicaster {
	m := &Multicaster{
		buffer: DefaultBuffer,
		subs:   make(map[*Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join 注册新的订阅者，只会收到加入之后发布的数据块。不会阻塞。
func (m *Multicaster) Join() (*Subscriber, error) {
	m.mu.Lock()
	if m.closed {
		err := m.closeErr
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	s := newSubscriber(m, m.buffer)
	m.subs[s] = struct{}{}
	count := len(m.subs)
	m.mu.Unlock()

	logger.Debug("subscriber joined",
		logger.String("caster", m.name),
		logger.String("subscriber", s.id),
		logger.Int("total", count))
	return s, nil
}

// Leave 注销订阅者。幂等，可以在投递过程中调用。
func (m *Multicaster) Leave(s *Subscriber) {
	m.remove(s, ErrSubscriberGone)
}

// Fail 因传输层错误移除订阅者，同步生效
func (m *Multicaster) Fail(s *Subscriber, err error) {
	m.remove(s, fmt.Errorf("%w: %w", ErrSubscriberGone, err))
}

func (m *Multicaster) remove(s *Subscriber, cause error) {
	if s == nil {
		return
	}

	m.mu.Lock()
	_, ok := m.subs[s]
	delete(m.subs, s)
	count := len(m.subs)
	m.mu.Unlock()

	if !s.finish(cause) || !ok {
		return
	}

	logger.Debug("subscriber gone",
		logger.String("caster", m.name),
		logger.String("subscriber", s.id),
		logger.Uint64("delivered", s.Delivered()),
		logger.Uint64("dropped", s.Dropped()),
		logger.Int("total", count),
		logger.ErrorField(cause))

	if m.onGone != nil {
		m.onGone(s, cause)
	}
}

// Publish 把数据块投递给所有 NORMAL 状态的订阅者，返回成功投递的数量。
// 从不阻塞；chunk 会被多个订阅者共享，调用方发布后不能再修改。
func (m *Multicaster) Publish(chunk []byte) int {
	// 复制订阅者列表以避免长时间持有锁
	m.mu.RLock()
	if len(m.subs) == 0 {
		m.mu.RUnlock()
		return 0
	}
	list := make([]*Subscriber, 0, len(m.subs))
	for s := range m.subs {
		list = append(list, s)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, s := range list {
		if s.offer(chunk) {
			delivered++
		}
	}
	return delivered
}

// Count 当前订阅者数量
func (m *Multicaster) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Closed 广播是否已关闭
func (m *Multicaster) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Close 关闭广播：移除并通知所有订阅者，拒绝之后的 Join。重复调用无效果。
func (m *Multicaster) Close(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.closeErr = cause
	list := make([]*Subscriber, 0, len(m.subs))
	for s := range m.subs {
		list = append(list, s)
	}
	m.subs = make(map[*Subscriber]struct{})
	m.mu.Unlock()

	gone := fmt.Errorf("%w: %w", ErrSubscriberGone, cause)
	for _, s := range list {
		if s.finish(gone) && m.onGone != nil {
			m.onGone(s, gone)
		}
	}

	logger.Info("multicaster closed",
		logger.String("caster", m.name),
		logger.Int("detached", len(list)),
		logger.ErrorField(cause))
}

// CloseIfEmpty 没有订阅者时关闭广播，返回是否关闭。
// 与 Join 在同一把锁下判断，不会误伤刚加入的订阅者。
func (m *Multicaster) CloseIfEmpty(cause error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.subs) > 0 {
		return false
	}
	m.closed = true
	m.closeErr = cause
	return true
}

// Pump 把订阅者的数据块写入传输层 w，直到 ctx 结束、订阅者被移除或写入失败。
// 写入失败时同步移除订阅者。flush 可以为 nil。
func Pump(ctx context.Context, s *Subscriber, w io.Writer, flush func()) error {
	for {
		chunk, err := s.Recv(ctx)
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			s.caster.Fail(s, err)
			return s.Err()
		}
		if flush != nil {
			flush()
		}
	}
}
