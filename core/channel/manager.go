package channel

import (
	"context"
	"fmt"
	"sync"

	"LoopFM/core/broadcast"
	"LoopFM/core/schedule"
	"LoopFM/logger"
)

// Store 频道读模型。播放列表由外部维护，这里只读取，并回写时钟。
// 未知频道返回 model.ErrChannelNotFound。
type Store interface {
	ClockStore
	LoadTimeline(ctx context.Context, channelID int64) ([]schedule.Entry, error)
	LoadClock(ctx context.Context, channelID int64) (schedule.Clock, error)
	ChannelOwner(ctx context.Context, channelID int64) (int64, error)
}

// ClockReloader 带缓存的 Store 实现它，Reload 时绕过缓存读取数据库中的时钟
type ClockReloader interface {
	ReloadClock(ctx context.Context, channelID int64) (schedule.Clock, error)
}

// ChangeFeed 频道变更通知，每个值是发生变化的频道 ID
type ChangeFeed interface {
	Changes(ctx context.Context) (<-chan int64, error)
}

// Manager 管理所有频道会话，按需从 Store 加载
type Manager struct {
	store Store
	opts  []SessionOption

	mu       sync.Mutex
	sessions map[int64]*Session
	closed   bool
}

// NewManager 创建管理器，opts 应用到每个新建的会话
func NewManager(store Store, opts ...SessionOption) *Manager {
	return &Manager{
		store:    store,
		opts:     opts,
		sessions: make(map[int64]*Session),
	}
}

// load 读取时间线和时钟，fresh 为 true 时不使用时钟缓存
func (m *Manager) load(ctx context.Context, id int64, fresh bool) (*schedule.Timeline, schedule.Clock, error) {
	entries, err := m.store.LoadTimeline(ctx, id)
	if err != nil {
		return nil, schedule.Clock{}, fmt.Errorf("load timeline for channel %d: %w", id, err)
	}
	tl, err := schedule.NewTimeline(entries)
	if err != nil {
		return nil, schedule.Clock{}, fmt.Errorf("channel %d: %w", id, err)
	}
	loadClock := m.store.LoadClock
	if r, ok := m.store.(ClockReloader); ok && fresh {
		loadClock = r.ReloadClock
	}
	clock, err := loadClock(ctx, id)
	if err != nil {
		return nil, schedule.Clock{}, fmt.Errorf("load clock for channel %d: %w", id, err)
	}
	return tl, clock, nil
}

// Session 返回频道会话，首次访问时从 Store 加载
func (m *Manager) Session(ctx context.Context, id int64) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	if m.closed {
		m.mu.Unlock()
		return nil, ErrSessionClosed
	}
	m.mu.Unlock()

	// 加载期间不持有锁，并发加载时以先写入的为准
	tl, clock, err := m.load(ctx, id, false)
	if err != nil {
		return nil, err
	}
	s := NewSession(id, tl, clock, m.store, m.opts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrSessionClosed
	}
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	logger.Info("频道会话已加载",
		logger.Channel(id),
		logger.Int("entries", tl.Len()),
		logger.String("status", string(s.Status())))
	return s, nil
}

// loaded 返回已加载的会话，不触发加载
func (m *Manager) loaded(id int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Reload 从 Store 刷新频道。时间线无效时保留原有状态并返回 ErrInvalidTimeline。
func (m *Manager) Reload(ctx context.Context, id int64) error {
	s, ok := m.loaded(id)
	if !ok {
		// 尚未加载的频道下次访问时自然读到最新数据
		_, err := m.Session(ctx, id)
		return err
	}
	tl, clock, err := m.load(ctx, id, true)
	if err != nil {
		return err
	}
	return s.Refresh(ctx, tl, clock)
}

// NowPlaying 频道当前播放信息，没有在播放时返回 schedule.ErrNotPlaying
func (m *Manager) NowPlaying(ctx context.Context, id int64) (NowPlayingResult, error) {
	s, err := m.Session(ctx, id)
	if err != nil {
		return NowPlayingResult{}, err
	}
	now := s.Now()
	np, err := s.NowPlaying(now)
	if err != nil {
		return NowPlayingResult{}, err
	}
	return newNowPlayingResult(id, np, now), nil
}

// Window 频道当前位置前 before 毫秒、后 after 毫秒内的条目
func (m *Manager) Window(ctx context.Context, id int64, before, after int64) ([]WindowEntry, error) {
	s, err := m.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.Window(s.Now(), before, after)
	if err != nil {
		return nil, err
	}
	return newWindowEntries(entries), nil
}

// Windows 批量查询多个频道，各频道独立计算，单个失败不影响其他频道
func (m *Manager) Windows(ctx context.Context, ids []int64, before, after int64) map[int64]WindowResult {
	results := make(map[int64]WindowResult, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		mu.Lock()
		_, dup := results[id]
		if !dup {
			results[id] = WindowResult{}
		}
		mu.Unlock()
		if dup {
			continue
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			entries, err := m.Window(ctx, id, before, after)
			mu.Lock()
			results[id] = WindowResult{Entries: entries, Err: err}
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

// Listen 加入频道广播，必要时启动编码循环
func (m *Manager) Listen(ctx context.Context, id int64) (*broadcast.Subscriber, error) {
	s, err := m.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	sub, err := s.Attach()
	if err != nil {
		return nil, err
	}
	logger.Info("收听者加入",
		logger.Channel(id),
		logger.String("subscriber", sub.ID()),
		logger.Int("listeners", s.Listeners()))
	return sub, nil
}

// Authorize 只有频道所有者可以控制播放
func (m *Manager) Authorize(ctx context.Context, id, userID int64) error {
	owner, err := m.store.ChannelOwner(ctx, id)
	if err != nil {
		return err
	}
	if owner != userID {
		return fmt.Errorf("%w: user %d, channel %d", ErrForbidden, userID, id)
	}
	return nil
}

// Watch 订阅变更通知并刷新已加载的频道，直到 ctx 结束
func (m *Manager) Watch(ctx context.Context, feed ChangeFeed) error {
	changes, err := feed.Changes(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			if _, loaded := m.loaded(id); !loaded {
				continue
			}
			if err := m.Reload(ctx, id); err != nil {
				logger.Warn("刷新频道失败", logger.Channel(id), logger.ErrorField(err))
				continue
			}
			logger.Debug("频道已刷新", logger.Channel(id))
		}
	}
}

// Close 关闭所有会话，停止编码并断开所有收听者
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[int64]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	logger.Info("频道管理器已关闭", logger.Int("sessions", len(sessions)))
}
