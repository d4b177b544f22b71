package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"LoopFM/core/schedule"
	"LoopFM/logger"
	"LoopFM/model"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ProbeFunc 读取音频文件时长（毫秒）
type ProbeFunc func(ctx context.Context, source string) (int64, error)

// catalogFile TOML 频道目录
//
//	[[channel]]
//	id = 1
//	name = "Lo-fi"
//	owner_id = 100
//	playing = true
//
//	  [[channel.track]]
//	  id = 1
//	  title = "A"
//	  file = "music/a.mp3"
//	  duration_ms = 180000
type catalogFile struct {
	Channels []catalogChannel `toml:"channel"`
}

type catalogChannel struct {
	ID            int64          `toml:"id"`
	Name          string         `toml:"name"`
	OwnerID       int64          `toml:"owner_id"`
	Playing       bool           `toml:"playing"`
	StartedAtMs   int64          `toml:"started_at_ms"`
	StartedFromMs int64          `toml:"started_from_ms"`
	Tracks        []catalogTrack `toml:"track"`
}

type catalogTrack struct {
	ID         int64  `toml:"id"`
	UniqueID   string `toml:"unique_id"`
	Title      string `toml:"title"`
	Artist     string `toml:"artist"`
	Album      string `toml:"album"`
	File       string `toml:"file"`
	DurationMs int64  `toml:"duration_ms"`
}

type catalogState struct {
	channels map[int64]*catalogChannel
	entries  map[int64][]schedule.Entry
	sources  map[int64]string // track id -> 文件路径或 URL
}

// CatalogStore 基于本地 TOML 文件的频道存储，用于开发和单机部署。
// 时钟只保存在内存中，文件变化时自动重新加载。
type CatalogStore struct {
	path  string
	probe ProbeFunc

	mu     sync.RWMutex
	state  *catalogState
	clocks map[int64]schedule.Clock
}

// NewCatalogStore 加载 path 指定的目录文件。probe 可以为 nil，此时缺少时长的曲目会报错。
func NewCatalogStore(ctx context.Context, path string, probe ProbeFunc) (*CatalogStore, error) {
	s := &CatalogStore{
		path:   path,
		probe:  probe,
		clocks: make(map[int64]schedule.Clock),
	}
	if _, err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// reload 重新解析文件，返回内容发生变化的频道
func (s *CatalogStore) reload(ctx context.Context) ([]int64, error) {
	var file catalogFile
	if _, err := toml.DecodeFile(s.path, &file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", s.path, err)
	}

	next := &catalogState{
		channels: make(map[int64]*catalogChannel, len(file.Channels)),
		entries:  make(map[int64][]schedule.Entry, len(file.Channels)),
		sources:  make(map[int64]string),
	}
	for i := range file.Channels {
		ch := &file.Channels[i]
		if _, dup := next.channels[ch.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate channel id %d", s.path, ch.ID)
		}
		entries, err := s.buildEntries(ctx, ch, next.sources)
		if err != nil {
			return nil, err
		}
		next.channels[ch.ID] = ch
		next.entries[ch.ID] = entries
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []int64
	for id, ch := range next.channels {
		if _, known := s.clocks[id]; !known {
			s.clocks[id] = schedule.Clock{Active: ch.Playing, LoopStart: ch.StartedAtMs, RestartOffset: ch.StartedFromMs}
		}
		if s.state == nil || !sameEntries(s.state.entries[id], next.entries[id]) {
			changed = append(changed, id)
		}
	}
	if s.state != nil {
		for id := range s.state.channels {
			if _, ok := next.channels[id]; !ok {
				delete(s.clocks, id)
				changed = append(changed, id)
			}
		}
	}
	s.state = next

	logger.Info("频道目录已加载",
		logger.String("path", s.path),
		logger.Int("channels", len(next.channels)),
		logger.Int("changed", len(changed)))
	return changed, nil
}

func (s *CatalogStore) buildEntries(ctx context.Context, ch *catalogChannel, sources map[int64]string) ([]schedule.Entry, error) {
	entries := make([]schedule.Entry, 0, len(ch.Tracks))
	var offset int64
	for i, t := range ch.Tracks {
		src := s.resolve(t.File)
		if prev, ok := sources[t.ID]; ok && prev != src {
			return nil, fmt.Errorf("catalog %s: track %d has conflicting files %q and %q", s.path, t.ID, prev, src)
		}
		sources[t.ID] = src

		duration := t.DurationMs
		if duration <= 0 {
			if s.probe == nil {
				return nil, fmt.Errorf("catalog %s: channel %d track %d has no duration", s.path, ch.ID, t.ID)
			}
			d, err := s.probe(ctx, src)
			if err != nil {
				return nil, fmt.Errorf("probe duration of %s: %w", src, err)
			}
			duration = d
		}

		uniqueID := t.UniqueID
		if uniqueID == "" {
			// 由位置推导，重新加载时保持不变
			uniqueID = uuid.NewSHA1(uuid.NameSpaceURL,
				[]byte(fmt.Sprintf("loopfm:%d:%d:%d", ch.ID, i, t.ID))).String()
		}

		entries = append(entries, schedule.Entry{
			UniqueID: uniqueID,
			Order:    i,
			Offset:   offset,
			Track: schedule.Track{
				ID:       t.ID,
				Title:    t.Title,
				Artist:   t.Artist,
				Album:    t.Album,
				Duration: duration,
			},
		})
		offset += duration
	}
	return entries, nil
}

// resolve 相对路径以目录文件所在目录为基准，URL 原样返回
func (s *CatalogStore) resolve(file string) string {
	if strings.Contains(file, "://") || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(filepath.Dir(s.path), file)
}

func sameEntries(a, b []schedule.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LoadTimeline 频道的播放列表
func (s *CatalogStore) LoadTimeline(ctx context.Context, channelID int64) ([]schedule.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.state.entries[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrChannelNotFound, channelID)
	}
	out := make([]schedule.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// LoadClock 内存中的时钟
func (s *CatalogStore) LoadClock(ctx context.Context, channelID int64) (schedule.Clock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clock, ok := s.clocks[channelID]
	if !ok {
		return schedule.Clock{}, fmt.Errorf("%w: %d", model.ErrChannelNotFound, channelID)
	}
	return clock, nil
}

// SaveClock 保存到内存，不写回文件
func (s *CatalogStore) SaveClock(ctx context.Context, channelID int64, clock schedule.Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.channels[channelID]; !ok {
		return fmt.Errorf("%w: %d", model.ErrChannelNotFound, channelID)
	}
	s.clocks[channelID] = clock
	return nil
}

// ChannelOwner 频道所有者
func (s *CatalogStore) ChannelOwner(ctx context.Context, channelID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.state.channels[channelID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", model.ErrChannelNotFound, channelID)
	}
	return ch.OwnerID, nil
}

// ListChannels 目录中的频道，按 ID 排序
func (s *CatalogStore) ListChannels(ctx context.Context) ([]model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Channel, 0, len(s.state.channels))
	for id, ch := range s.state.channels {
		clock := s.clocks[id]
		status := model.ChannelStopped
		if clock.Active {
			status = model.ChannelPlaying
		}
		out = append(out, model.Channel{
			ID:            id,
			OwnerID:       ch.OwnerID,
			Name:          ch.Name,
			Status:        status,
			StartedAtMs:   clock.LoopStart,
			StartedFromMs: clock.RestartOffset,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SourceURL 曲目的音频地址（本地路径或 URL）
func (s *CatalogStore) SourceURL(ctx context.Context, trackID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.state.sources[trackID]
	if !ok || src == "" {
		return "", fmt.Errorf("catalog has no file for track %d", trackID)
	}
	return src, nil
}

// Changes 监听目录文件，内容变化后重新加载并发出受影响的频道 ID。
// 编辑器常用重命名方式保存，所以监听的是所在目录。
func (s *CatalogStore) Changes(ctx context.Context) (<-chan int64, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	out := make(chan int64, 16)
	go func() {
		defer close(out)
		defer watcher.Close()

		name := filepath.Clean(s.path)
		// 合并短时间内的多次写入
		const settle = 200 * time.Millisecond
		var timer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name ||
					event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(settle)
				} else {
					timer.Reset(settle)
				}
				fire = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("频道目录监听出错", logger.ErrorField(err))
			case <-fire:
				fire = nil
				changed, err := s.reload(ctx)
				if err != nil {
					logger.Error("重新加载频道目录失败，保留原有内容", logger.ErrorField(err))
					continue
				}
				for _, id := range changed {
					select {
					case out <- id:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
