package schedule

import "time"

// NowPlaying 解析结果：当前条目及曲目内偏移
type NowPlaying struct {
	Entry    Entry
	Index    int   // 条目在时间线中的下标
	Offset   int64 // 曲目内偏移（毫秒）
	Position int64 // 循环内位置（毫秒）
}

// Remaining 当前曲目剩余时长（毫秒）
func (np NowPlaying) Remaining() int64 {
	return np.Entry.Duration() - np.Offset
}

// Resolve 计算 now 时刻正在播放的条目。
// 频道未激活或时间线为空时返回 ErrNotPlaying。
func Resolve(t *Timeline, c Clock, now time.Time) (NowPlaying, error) {
	pos, err := c.Position(now, t.Duration())
	if err != nil {
		return NowPlaying{}, err
	}
	i := t.locate(pos)
	e := t.entries[i]
	return NowPlaying{
		Entry:    e,
		Index:    i,
		Offset:   pos - e.Offset,
		Position: pos,
	}, nil
}

// ResolveCursor 与 Resolve 相同，但暂停状态下返回冻结位置上的条目。
// 只有时间线为空时返回 ErrNotPlaying。用于上一首/下一首等控制操作。
func ResolveCursor(t *Timeline, c Clock, now time.Time) (NowPlaying, error) {
	if t.Duration() <= 0 {
		return NowPlaying{}, ErrNotPlaying
	}
	pos := c.frozen(now, t.Duration())
	i := t.locate(pos)
	e := t.entries[i]
	return NowPlaying{Entry: e, Index: i, Offset: pos - e.Offset, Position: pos}, nil
}

// ResolveWindow 返回与环形窗口 [position-before, position+after) 相交的条目，按收听顺序排列。
//
// 跨越 0 点的窗口会拆成两段，每段内部按时间线顺序；同一个条目只返回一次。
// before+after >= 循环时长时返回全部条目，从包含 position 的条目开始。
// 负的 before/after 视为 0；after 为 0 时总是包含当前条目。
// 每次调用都重新计算，不做缓存。
func ResolveWindow(t *Timeline, c Clock, now time.Time, before, after int64) ([]Entry, error) {
	pos, err := c.Position(now, t.Duration())
	if err != nil {
		return nil, err
	}
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	n := len(t.entries)
	loop := t.duration

	// 分开比较，两个值都很大时相加会溢出
	if before >= loop || after >= loop || before+after >= loop {
		start := t.locate(pos)
		out := make([]Entry, 0, n)
		for k := 0; k < n; k++ {
			out = append(out, t.entries[(start+k)%n])
		}
		return out, nil
	}

	lo := pos - before
	hi := pos + after
	if after == 0 {
		hi = pos + 1
	}

	// 在展开（不取模）的坐标系里从 lo 所在条目向后走
	i := t.locate(mod(lo, loop))
	base := lo - (mod(lo, loop) - t.entries[i].Offset)

	out := make([]Entry, 0, 4)
	for k := 0; k < n && base < hi; k++ {
		e := t.entries[i]
		out = append(out, e)
		base += e.Duration()
		i = (i + 1) % n
	}
	return out, nil
}
