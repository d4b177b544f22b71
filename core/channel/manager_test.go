package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"LoopFM/core/schedule"
	"LoopFM/model"
)

func newTestManager(t *testing.T, clk *fakeClock, store Store, opts ...SessionOption) *Manager {
	t.Helper()
	m := NewManager(store, append([]SessionOption{WithClock(clk.Now)}, opts...)...)
	t.Cleanup(m.Close)
	return m
}

func TestManagerNowPlaying(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(1, 100, abEntries(), schedule.Clock{Active: true, LoopStart: 0})
	store.put(2, 100, nil, schedule.Clock{Active: true})
	m := newTestManager(t, newFakeClock(190000), store)

	got, err := m.NowPlaying(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := NowPlayingResult{
		ChannelID: 1, UniqueID: "b", TrackID: 2, Artist: "y", Title: "B",
		DurationMs: 200000, OffsetMs: 10000, ServerTimeMs: 190000, LoopPositionMs: 190000,
	}
	if got != want {
		t.Errorf("NowPlaying = %+v\nwant %+v", got, want)
	}

	if _, err := m.NowPlaying(ctx, 2); !errors.Is(err, schedule.ErrNotPlaying) {
		t.Errorf("empty channel err = %v, want ErrNotPlaying", err)
	}
	if _, err := m.NowPlaying(ctx, 3); !errors.Is(err, model.ErrChannelNotFound) {
		t.Errorf("unknown channel err = %v, want ErrChannelNotFound", err)
	}

	// 会话只加载一次
	loads := store.loads
	if _, err := m.NowPlaying(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if store.loads != loads {
		t.Errorf("session reloaded from store")
	}
}

func TestManagerWindows(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(1, 100, abEntries(), schedule.Clock{Active: true})
	store.put(2, 100, abEntries(), schedule.Clock{Active: true, RestartOffset: 190000})
	m := newTestManager(t, newFakeClock(0), store)

	results := m.Windows(ctx, []int64{1, 2, 2, 9}, 15000, 5000)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	// 位置 0：窗口 [-15000, 5000) 跨越循环起点，先 B 后 A
	if ids := uniqueIDs(results[1].Entries); ids != "b,a" {
		t.Errorf("channel 1 window = %s, want b,a", ids)
	}
	if ids := uniqueIDs(results[2].Entries); ids != "a,b" {
		t.Errorf("channel 2 window = %s, want a,b", ids)
	}
	if results[2].Entries[1].TimeOffsetMs != 180000 || results[2].Entries[1].DurationMs != 200000 {
		t.Errorf("entry = %+v", results[2].Entries[1])
	}
	if !errors.Is(results[9].Err, model.ErrChannelNotFound) {
		t.Errorf("channel 9 err = %v", results[9].Err)
	}
}

func uniqueIDs(entries []WindowEntry) string {
	s := ""
	for i, e := range entries {
		if i > 0 {
			s += ","
		}
		s += e.UniqueID
	}
	return s
}

func TestManagerReload(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(50000)
	store := newMemStore()
	store.put(1, 100, abEntries(), schedule.Clock{Active: true})
	m := newTestManager(t, clk, store)

	s, err := m.Session(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("invalid timeline keeps previous", func(t *testing.T) {
		prev := s.Timeline()
		bad := abEntries()
		bad[1].Offset = 170000
		store.put(1, 100, bad, schedule.Clock{Active: true})

		if err := m.Reload(ctx, 1); !errors.Is(err, schedule.ErrInvalidTimeline) {
			t.Fatalf("Reload err = %v, want ErrInvalidTimeline", err)
		}
		if s.Timeline() != prev {
			t.Error("timeline replaced by invalid reload")
		}
	})

	t.Run("structural change resets", func(t *testing.T) {
		entries := abEntries()[:1]
		store.put(1, 100, entries, schedule.Clock{Active: true, RestartOffset: 9000})
		if err := m.Reload(ctx, 1); err != nil {
			t.Fatal(err)
		}
		if s.Timeline().Len() != 1 {
			t.Errorf("Len = %d, want 1", s.Timeline().Len())
		}
		want := schedule.Clock{Active: true, LoopStart: 50000}
		if s.Clock() != want || store.clock(1) != want {
			t.Errorf("clock = %+v stored %+v, want %+v", s.Clock(), store.clock(1), want)
		}
	})
}

// cachedStore 模拟带缓存的 Store：LoadClock 返回旧值，ReloadClock 回源
type cachedStore struct {
	*memStore
	stale   schedule.Clock
	reloads int
}

func (c *cachedStore) LoadClock(ctx context.Context, id int64) (schedule.Clock, error) {
	return c.stale, nil
}

func (c *cachedStore) ReloadClock(ctx context.Context, id int64) (schedule.Clock, error) {
	c.reloads++
	return c.memStore.LoadClock(ctx, id)
}

func TestManagerReloadBypassesClockCache(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	mem.put(1, 100, abEntries(), schedule.Clock{Active: true})
	store := &cachedStore{memStore: mem, stale: schedule.Clock{Active: true}}
	m := newTestManager(t, newFakeClock(50000), store)

	s, err := m.Session(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if store.reloads != 0 {
		t.Errorf("first load used ReloadClock %d times", store.reloads)
	}

	// 数据库里的时钟被直接改掉，缓存仍是旧值
	paused := schedule.Clock{Active: false, LoopStart: 0, RestartOffset: 20000}
	mem.put(1, 100, abEntries(), paused)

	if err := m.Reload(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if store.reloads != 1 {
		t.Errorf("reloads = %d, want 1", store.reloads)
	}
	if s.Clock() != paused {
		t.Errorf("clock = %+v, want %+v", s.Clock(), paused)
	}
}

func TestManagerAuthorize(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(1, 100, abEntries(), schedule.Clock{})
	m := newTestManager(t, newFakeClock(0), store)

	if err := m.Authorize(ctx, 1, 100); err != nil {
		t.Errorf("owner rejected: %v", err)
	}
	if err := m.Authorize(ctx, 1, 101); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
	if err := m.Authorize(ctx, 2, 100); !errors.Is(err, model.ErrChannelNotFound) {
		t.Errorf("err = %v, want ErrChannelNotFound", err)
	}
}

type chanFeed chan int64

func (f chanFeed) Changes(ctx context.Context) (<-chan int64, error) {
	return f, nil
}

func TestManagerWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemStore()
	store.put(1, 100, abEntries(), schedule.Clock{})
	m := newTestManager(t, newFakeClock(0), store)
	s, err := m.Session(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	feed := make(chanFeed)
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, feed) }()

	changed := s.Changed()
	store.put(1, 100, abEntries(), schedule.Clock{Active: true, LoopStart: 0, RestartOffset: 1000})
	feed <- 1
	feed <- 42 // 未加载的频道被忽略

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("session not refreshed")
	}
	if s.Status() != StatusActive {
		t.Errorf("Status = %s, want active", s.Status())
	}

	close(feed)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestManagerListenAndClose(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(1, 100, abEntries(), schedule.Clock{Active: true})
	pool := newEncoderPool()
	m := NewManager(store, WithClock(newFakeClock(0).Now), WithEncoder(pool.factory))

	sub, err := m.Listen(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	enc := waitEncoder(t, pool)
	enc.chunks <- []byte("live")
	if got := recv(t, sub); string(got) != "live" {
		t.Errorf("got %q", got)
	}

	m.Close()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber not detached on Close")
	}
	if _, err := m.Listen(ctx, 1); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Listen after Close err = %v", err)
	}
	if _, err := m.Listen(ctx, 5); err == nil {
		t.Error("Listen on unknown channel succeeded")
	}
}
