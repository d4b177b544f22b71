package schedule

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidTimeline 播放列表存在空隙或重叠
	ErrInvalidTimeline = errors.New("invalid timeline")
	// ErrNotPlaying 频道未激活或播放列表总时长为 0
	ErrNotPlaying = errors.New("channel is not playing")
)

// Track 曲目元数据（不可变）
type Track struct {
	ID       int64  `json:"trackId"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int64  `json:"durationMs"` // 毫秒
}

// Entry 播放列表中的一项
type Entry struct {
	UniqueID string `json:"uniqueId"`
	Track    Track  `json:"track"`
	Order    int    `json:"order"`
	Offset   int64  `json:"timeOffsetMs"` // 在循环中的起始偏移（毫秒）
}

// Duration 返回条目时长（毫秒）
func (e Entry) Duration() int64 {
	return e.Track.Duration
}

// End 返回条目结束位置（不含）
func (e Entry) End() int64 {
	return e.Offset + e.Track.Duration
}

// Timeline 单个频道的不可变播放时间线。
// 创建后不再修改，变更时整体替换。
type Timeline struct {
	entries  []Entry
	duration int64
}

// NewTimeline 校验并创建时间线。
// 条目按 Order 排序后必须首尾相接：第一个偏移为 0，entry[i].End() == entry[i+1].Offset。
func NewTimeline(entries []Entry) (*Timeline, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	var cursor int64
	for i, e := range sorted {
		if e.Track.Duration <= 0 {
			return nil, fmt.Errorf("%w: entry %d (track %d) has non-positive duration %d",
				ErrInvalidTimeline, i, e.Track.ID, e.Track.Duration)
		}
		if e.Offset != cursor {
			if e.Offset > cursor {
				return nil, fmt.Errorf("%w: gap of %dms before entry %d (track %d)",
					ErrInvalidTimeline, e.Offset-cursor, i, e.Track.ID)
			}
			return nil, fmt.Errorf("%w: entry %d (track %d) overlaps previous by %dms",
				ErrInvalidTimeline, i, e.Track.ID, cursor-e.Offset)
		}
		cursor = e.End()
	}

	return &Timeline{entries: sorted, duration: cursor}, nil
}

// BuildTimeline 根据有序曲目计算偏移量，生成首尾相接的时间线。
// 用于只保存了顺序、没有保存偏移的数据源（例如文件目录）。
func BuildTimeline(entries []Entry) (*Timeline, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	var offset int64
	for i := range sorted {
		sorted[i].Offset = offset
		offset += sorted[i].Track.Duration
	}
	return NewTimeline(sorted)
}

// Empty 返回空时间线
func Empty() *Timeline {
	return &Timeline{}
}

// Duration 循环总时长（毫秒）
func (t *Timeline) Duration() int64 {
	if t == nil {
		return 0
	}
	return t.duration
}

// Len 条目数量
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// At 返回第 i 个条目
func (t *Timeline) At(i int) Entry {
	return t.entries[i]
}

// Entries 返回条目副本
func (t *Timeline) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// locate 二分查找包含 position 的条目下标，position 必须在 [0, duration) 内
func (t *Timeline) locate(position int64) int {
	// 第一个结束位置大于 position 的条目
	return sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].End() > position
	})
}

// IndexOf 按 UniqueID 查找条目下标，找不到返回 -1
func (t *Timeline) IndexOf(uniqueID string) int {
	for i, e := range t.entries {
		if e.UniqueID == uniqueID {
			return i
		}
	}
	return -1
}

// Equal 结构是否相同：条目、顺序、偏移和时长都一致
func (t *Timeline) Equal(o *Timeline) bool {
	if t.Len() != o.Len() {
		return false
	}
	for i := 0; i < t.Len(); i++ {
		a, b := t.entries[i], o.entries[i]
		if a.UniqueID != b.UniqueID || a.Track.ID != b.Track.ID ||
			a.Offset != b.Offset || a.Track.Duration != b.Track.Duration {
			return false
		}
	}
	return true
}
