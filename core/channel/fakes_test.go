package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"LoopFM/core/schedule"
	"LoopFM/model"
)

// memStore 内存中的 Store
type memStore struct {
	mu      sync.Mutex
	entries map[int64][]schedule.Entry
	clocks  map[int64]schedule.Clock
	owners  map[int64]int64
	saves   int
	loads   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[int64][]schedule.Entry),
		clocks:  make(map[int64]schedule.Clock),
		owners:  make(map[int64]int64),
	}
}

func (m *memStore) put(id, owner int64, entries []schedule.Entry, clock schedule.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = entries
	m.clocks[id] = clock
	m.owners[id] = owner
}

func (m *memStore) LoadTimeline(ctx context.Context, id int64) ([]schedule.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	e, ok := m.entries[id]
	if !ok {
		return nil, model.ErrChannelNotFound
	}
	return e, nil
}

func (m *memStore) LoadClock(ctx context.Context, id int64) (schedule.Clock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clocks[id]
	if !ok {
		return schedule.Clock{}, model.ErrChannelNotFound
	}
	return c, nil
}

func (m *memStore) SaveClock(ctx context.Context, id int64, c schedule.Clock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.clocks[id] = c
	return nil
}

func (m *memStore) ChannelOwner(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[id]
	if !ok {
		return 0, model.ErrChannelNotFound
	}
	return o, nil
}

func (m *memStore) clock(id int64) schedule.Clock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clocks[id]
}

// fakeClock 手动推进的时间
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(ms int64) *fakeClock {
	return &fakeClock{t: time.UnixMilli(ms)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// feedEncoder 由测试逐块推送数据，fail 收到错误后退出
type feedEncoder struct {
	chunks   chan []byte
	fail     chan error
	returned chan error
}

func newFeedEncoder() *feedEncoder {
	return &feedEncoder{
		chunks:   make(chan []byte),
		fail:     make(chan error, 1),
		returned: make(chan error, 1),
	}
}

func (e *feedEncoder) Encode(ctx context.Context, emit func([]byte) error) (err error) {
	defer func() { e.returned <- err }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-e.fail:
			return err
		case chunk := <-e.chunks:
			if err := emit(chunk); err != nil {
				return err
			}
		}
	}
}

// encoderPool 记录每次创建的编码器
type encoderPool struct {
	mu      sync.Mutex
	created []*feedEncoder
	notify  chan *feedEncoder
}

func newEncoderPool() *encoderPool {
	return &encoderPool{notify: make(chan *feedEncoder, 8)}
}

func (p *encoderPool) factory(*Session) Encoder {
	e := newFeedEncoder()
	p.mu.Lock()
	p.created = append(p.created, e)
	p.mu.Unlock()
	p.notify <- e
	return e
}

func (p *encoderPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

var errBoom = errors.New("boom")

// abTimeline A(0,180000) B(180000,200000)
func abEntries() []schedule.Entry {
	return []schedule.Entry{
		{UniqueID: "a", Track: schedule.Track{ID: 1, Title: "A", Artist: "x", Duration: 180000}, Order: 0, Offset: 0},
		{UniqueID: "b", Track: schedule.Track{ID: 2, Title: "B", Artist: "y", Duration: 200000}, Order: 1, Offset: 180000},
	}
}
