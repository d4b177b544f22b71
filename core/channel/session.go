package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"LoopFM/core/broadcast"
	"LoopFM/core/schedule"
	"LoopFM/logger"
)

var (
	// ErrUpstreamEncoder 编码器异常退出，当前广播的订阅者全部断开
	ErrUpstreamEncoder = errors.New("upstream encoder failure")
	// ErrForbidden 非频道所有者尝试控制播放
	ErrForbidden = errors.New("no permission to control this channel")
	// ErrTrackIndexOutOfRange 按下标播放时下标越界
	ErrTrackIndexOutOfRange = errors.New("track index out of range")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("session closed")
)

// Status 频道播放状态
type Status string

const (
	StatusInactive Status = "inactive" // 播放列表为空
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
)

// ClockStore 时钟的持久化回写
type ClockStore interface {
	SaveClock(ctx context.Context, channelID int64, clock schedule.Clock) error
}

// Encoder 把频道的播放内容编码为连续的音频数据块。
// Encode 一直运行到 ctx 取消或发生错误，每个数据块通过 emit 交出。
type Encoder interface {
	Encode(ctx context.Context, emit func(chunk []byte) error) error
}

// EncoderFactory 为会话创建编码器
type EncoderFactory func(s *Session) Encoder

// snapshot 时间线与时钟的一致快照，整体替换
type snapshot struct {
	timeline *schedule.Timeline
	clock    schedule.Clock
	changed  chan struct{} // 被替换时关闭
}

// Session 一个频道的运行时状态：时间线、时钟和广播。
// 读操作无锁，直接读取当前快照；写操作串行执行，先持久化再替换快照。
type Session struct {
	id    int64
	store ClockStore
	now   func() time.Time

	state atomic.Pointer[snapshot]
	mu    sync.Mutex

	broadcastMu sync.Mutex
	caster      *broadcast.Multicaster
	newEncoder  EncoderFactory
	buffer      int
	idleTimeout time.Duration
	loopCtx     context.Context
	stopLoops   context.CancelFunc
	closed      bool
}

// SessionOption 会话配置项
type SessionOption func(*Session)

// WithClock 替换时间来源
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithEncoder 设置编码器工厂，未设置时广播只能由调用方手动推送
func WithEncoder(f EncoderFactory) SessionOption {
	return func(s *Session) { s.newEncoder = f }
}

// WithSubscriberBuffer 每个订阅者的缓冲块数
func WithSubscriberBuffer(n int) SessionOption {
	return func(s *Session) { s.buffer = n }
}

// WithIdleTimeout 没有订阅者超过该时长后停止编码，0 表示一直运行
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.idleTimeout = d }
}

// NewSession 用已加载的时间线和时钟创建会话。时间线必须已经校验过。
func NewSession(id int64, tl *schedule.Timeline, clock schedule.Clock, store ClockStore, opts ...SessionOption) *Session {
	if tl == nil {
		tl = schedule.Empty()
	}
	s := &Session{
		id:     id,
		store:  store,
		now:    time.Now,
		buffer: broadcast.DefaultBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loopCtx, s.stopLoops = context.WithCancel(context.Background())
	s.state.Store(&snapshot{timeline: tl, clock: clock, changed: make(chan struct{})})
	return s
}

// ID 频道 ID
func (s *Session) ID() int64 { return s.id }

// Now 会话使用的当前时间
func (s *Session) Now() time.Time { return s.now() }

// Timeline 当前时间线
func (s *Session) Timeline() *schedule.Timeline { return s.state.Load().timeline }

// Clock 当前时钟
func (s *Session) Clock() schedule.Clock { return s.state.Load().clock }

// Changed 返回一个在下次时间线或时钟变化时关闭的 channel
func (s *Session) Changed() <-chan struct{} { return s.state.Load().changed }

// Status 当前播放状态
func (s *Session) Status() Status {
	snap := s.state.Load()
	switch {
	case snap.timeline.Duration() <= 0:
		return StatusInactive
	case snap.clock.Active:
		return StatusActive
	default:
		return StatusPaused
	}
}

// NowPlaying 解析 now 时刻正在播放的条目
func (s *Session) NowPlaying(now time.Time) (schedule.NowPlaying, error) {
	snap := s.state.Load()
	return schedule.Resolve(snap.timeline, snap.clock, now)
}

// Window 返回 now 附近 [-before, +after) 毫秒内的条目
func (s *Session) Window(now time.Time, before, after int64) ([]schedule.Entry, error) {
	snap := s.state.Load()
	return schedule.ResolveWindow(snap.timeline, snap.clock, now, before, after)
}

// swap 替换快照并唤醒等待者，调用方必须持有 mu
func (s *Session) swap(tl *schedule.Timeline, clock schedule.Clock) {
	old := s.state.Load()
	s.state.Store(&snapshot{timeline: tl, clock: clock, changed: make(chan struct{})})
	close(old.changed)
}

func (s *Session) persist(ctx context.Context, clock schedule.Clock) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveClock(ctx, s.id, clock); err != nil {
		return fmt.Errorf("save clock for channel %d: %w", s.id, err)
	}
	return nil
}

// ReplaceTimeline 用新的条目替换时间线，播放位置回到 0。
// 校验失败或持久化失败时状态保持不变。
func (s *Session) ReplaceTimeline(ctx context.Context, entries []schedule.Entry) error {
	tl, err := schedule.NewTimeline(entries)
	if err != nil {
		return err
	}
	return s.replace(ctx, tl)
}

func (s *Session) replace(ctx context.Context, tl *schedule.Timeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clock := s.state.Load().clock.Reset(s.now())
	if err := s.persist(ctx, clock); err != nil {
		return err
	}
	s.swap(tl, clock)
	logger.Info("频道时间线已替换",
		logger.Channel(s.id),
		logger.Int("entries", tl.Len()),
		logger.Int64("durationMs", tl.Duration()))
	return nil
}

// Refresh 采用存储中的最新状态。时间线结构变化时重置到 0 并回写时钟，否则直接采用存储的时钟。
func (s *Session) Refresh(ctx context.Context, tl *schedule.Timeline, clock schedule.Clock) error {
	if tl == nil {
		tl = schedule.Empty()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if !cur.timeline.Equal(tl) {
		clock = clock.Reset(s.now())
		if err := s.persist(ctx, clock); err != nil {
			return err
		}
		logger.Info("频道时间线结构变化，从头播放", logger.Channel(s.id), logger.Int("entries", tl.Len()))
	} else if cur.clock == clock {
		return nil
	}
	s.swap(tl, clock)
	return nil
}

// update 串行计算新时钟，持久化成功后才生效
func (s *Session) update(ctx context.Context, op string, fn func(snap *snapshot, now time.Time) (schedule.Clock, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	clock, err := fn(cur, s.now())
	if err != nil {
		return err
	}
	if clock == cur.clock {
		return nil
	}
	if err := s.persist(ctx, clock); err != nil {
		return err
	}
	s.swap(cur.timeline, clock)
	logger.Debug("频道时钟已更新",
		logger.Channel(s.id),
		logger.String("op", op),
		logger.Bool("active", clock.Active),
		logger.Int64("restartOffsetMs", clock.RestartOffset))
	return nil
}

func requireTracks(snap *snapshot) error {
	if snap.timeline.Duration() <= 0 {
		return schedule.ErrNotPlaying
	}
	return nil
}

// Play 从循环开头开始播放
func (s *Session) Play(ctx context.Context) error {
	return s.PlayFrom(ctx, 0)
}

// PlayFrom 从循环位置 offset（毫秒）开始播放
func (s *Session) PlayFrom(ctx context.Context, offset int64) error {
	return s.update(ctx, "play", func(snap *snapshot, now time.Time) (schedule.Clock, error) {
		if err := requireTracks(snap); err != nil {
			return snap.clock, err
		}
		l := snap.timeline.Duration()
		return schedule.StartAt(now, ((offset%l)+l)%l), nil
	})
}

// Pause 暂停，冻结当前位置
func (s *Session) Pause(ctx context.Context) error {
	return s.update(ctx, "pause", func(snap *snapshot, now time.Time) (schedule.Clock, error) {
		if err := requireTracks(snap); err != nil {
			return snap.clock, err
		}
		return snap.clock.Paused(now, snap.timeline.Duration()), nil
	})
}

// Resume 从冻结位置继续播放
func (s *Session) Resume(ctx context.Context) error {
	return s.update(ctx, "resume", func(snap *snapshot, now time.Time) (schedule.Clock, error) {
		if err := requireTracks(snap); err != nil {
			return snap.clock, err
		}
		return snap.clock.Resumed(now), nil
	})
}

// Seek 前进（正数）或后退（负数）deltaMs 毫秒
func (s *Session) Seek(ctx context.Context, deltaMs int64) error {
	return s.update(ctx, "seek", func(snap *snapshot, now time.Time) (schedule.Clock, error) {
		if err := requireTracks(snap); err != nil {
			return snap.clock, err
		}
		return snap.clock.Seeked(now, deltaMs, snap.timeline.Duration()), nil
	})
}

// PlayNext 跳到下一首的开头，最后一首之后回到第一首
func (s *Session) PlayNext(ctx context.Context) error {
	return s.update(ctx, "next", func(snap *snapshot, now time.Time) (schedule.Clock, error) {
		np, err := schedule.ResolveCursor(snap.timeline, snap.clock, now)
		if err != nil {
			return snap.clock, err
		}
		next := snap.timeline.At((np.Index + 1) % snap.timeline.Len())
		return snap.clock.MovedTo(now, next.Offset), nil
	})
}

// PlayPrevious 回到当前曲目的开头
func (s *Session) PlayPrevious(ctx context.Context) error {
	return s.update(ctx, "previous", func(snap *snapshot, now time.Time) (schedule.Clock, error) {
		np, err := schedule.ResolveCursor(snap.timeline, snap.clock, now)
		if err != nil {
			return snap.clock, err
		}
		return snap.clock.MovedTo(now, np.Entry.Offset), nil
	})
}

// PlayIndex 从第 index 个条目开始播放
func (s *Session) PlayIndex(ctx context.Context, index int) error {
	return s.update(ctx, "index", func(snap *snapshot, now time.Time) (schedule.Clock, error) {
		if err := requireTracks(snap); err != nil {
			return snap.clock, err
		}
		if index < 0 || index >= snap.timeline.Len() {
			return snap.clock, fmt.Errorf("%w: %d not in [0, %d)", ErrTrackIndexOutOfRange, index, snap.timeline.Len())
		}
		return schedule.StartAt(now, snap.timeline.At(index).Offset), nil
	})
}
