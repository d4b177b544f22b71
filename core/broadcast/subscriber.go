package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State 订阅者背压状态
type State int32

const (
	StateNormal       State = iota // 正常接收
	StateWaitingDrain              // 缓冲区已满，等待消费端排空
	StateGone                      // 已移除
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateWaitingDrain:
		return "waiting_drain"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

var (
	// ErrSubscriberGone 订阅者已被移除（断开、写失败或广播关闭）
	ErrSubscriberGone = errors.New("subscriber gone")
	// ErrClosed 广播已关闭，不再接受新的订阅者
	ErrClosed = errors.New("multicaster closed")
)

// Subscriber 一个正在收听广播的连接。
// 生命周期完全由所属的 Multicaster 管理，不会在频道之间移动。
type Subscriber struct {
	id       string
	joinedAt time.Time
	caster   *Multicaster

	ch    chan []byte
	state atomic.Int32

	done  chan struct{}
	once  sync.Once
	cause error

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newSubscriber(m *Multicaster, buffer int) *Subscriber {
	return &Subscriber{
		id:       uuid.NewString(),
		joinedAt: time.Now(),
		caster:   m,
		ch:       make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// ID 订阅者唯一标识
func (s *Subscriber) ID() string { return s.id }

// JoinedAt 加入时间
func (s *Subscriber) JoinedAt() time.Time { return s.joinedAt }

// State 当前背压状态
func (s *Subscriber) State() State { return State(s.state.Load()) }

// Delivered 已投递的数据块数量
func (s *Subscriber) Delivered() uint64 { return s.delivered.Load() }

// Dropped 因背压被丢弃的数据块数量
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Done 订阅者被移除时关闭
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err 返回移除原因，正常离开时为 ErrSubscriberGone
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.cause
	default:
		return nil
	}
}

// Leave 从所属的广播中注销
func (s *Subscriber) Leave() {
	s.caster.Leave(s)
}

// Recv 读取下一个数据块。缓冲区被读空时自动发出 drained 信号。
func (s *Subscriber) Recv(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-s.ch:
		s.afterRead()
		return chunk, nil
	case <-s.done:
		return nil, s.cause
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drained 传输层主动通知缓冲区已排空，WAITING_DRAIN -> NORMAL
func (s *Subscriber) Drained() {
	s.state.CompareAndSwap(int32(StateWaitingDrain), int32(StateNormal))
}

func (s *Subscriber) afterRead() {
	if len(s.ch) == 0 {
		s.Drained()
	}
}

// offer 非阻塞投递。等待排空期间直接丢弃，不做缓存。
func (s *Subscriber) offer(chunk []byte) bool {
	switch State(s.state.Load()) {
	case StateGone:
		return false
	case StateWaitingDrain:
		s.dropped.Add(1)
		return false
	}

	select {
	case s.ch <- chunk:
		s.delivered.Add(1)
		return true
	default:
	}

	s.dropped.Add(1)
	if s.state.CompareAndSwap(int32(StateNormal), int32(StateWaitingDrain)) {
		// 消费端可能在切换状态前已经读空，补发一次 drained
		if len(s.ch) == 0 {
			s.Drained()
		}
	}
	return false
}

// finish 标记为已移除，只执行一次
func (s *Subscriber) finish(cause error) bool {
	first := false
	s.once.Do(func() {
		first = true
		s.cause = cause
		s.state.Store(int32(StateGone))
		close(s.done)
	})
	return first
}
