package schedule

import "time"

// Clock 频道循环时钟。
//
//	position(T) = (T - LoopStart + RestartOffset) mod loopDuration
//
// 仅在 Active 且 loopDuration > 0 时有定义。所有时间单位为毫秒。
type Clock struct {
	Active        bool  `json:"active"`
	LoopStart     int64 `json:"loopStartMs"`     // 循环起点（Unix 毫秒）
	RestartOffset int64 `json:"restartOffsetMs"` // 从循环中的哪个位置开始
}

// Millis 把时间转换为 Unix 毫秒
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// mod 欧几里得取模，结果总在 [0, n)
func mod(v, n int64) int64 {
	r := v % n
	if r < 0 {
		r += n
	}
	return r
}

// Position 计算 now 时刻在循环中的位置
func (c Clock) Position(now time.Time, loopDuration int64) (int64, error) {
	if !c.Active || loopDuration <= 0 {
		return 0, ErrNotPlaying
	}
	return mod(Millis(now)-c.LoopStart+c.RestartOffset, loopDuration), nil
}

// frozen 返回暂停状态下应该保留的位置
func (c Clock) frozen(now time.Time, loopDuration int64) int64 {
	if loopDuration <= 0 {
		return 0
	}
	if !c.Active {
		return mod(c.RestartOffset, loopDuration)
	}
	pos, _ := c.Position(now, loopDuration)
	return pos
}

// StartAt 从循环位置 offset 开始播放
func StartAt(now time.Time, offset int64) Clock {
	return Clock{Active: true, LoopStart: Millis(now), RestartOffset: offset}
}

// Paused 冻结当前位置到 RestartOffset。已暂停时保持不变。
func (c Clock) Paused(now time.Time, loopDuration int64) Clock {
	if !c.Active {
		return c
	}
	return Clock{Active: false, LoopStart: c.LoopStart, RestartOffset: c.frozen(now, loopDuration)}
}

// Resumed 从冻结位置继续，使用新的循环起点。已在播放时保持不变。
func (c Clock) Resumed(now time.Time) Clock {
	if c.Active {
		return c
	}
	return StartAt(now, c.RestartOffset)
}

// Reset 结构性变更后回到 0 位置，保留激活状态
func (c Clock) Reset(now time.Time) Clock {
	return Clock{Active: c.Active, LoopStart: Millis(now), RestartOffset: 0}
}

// Seeked 前进或后退 delta 毫秒，暂停状态下移动冻结位置
func (c Clock) Seeked(now time.Time, delta, loopDuration int64) Clock {
	if loopDuration <= 0 {
		return c
	}
	target := mod(c.frozen(now, loopDuration)+delta, loopDuration)
	if !c.Active {
		return Clock{Active: false, LoopStart: c.LoopStart, RestartOffset: target}
	}
	return StartAt(now, target)
}

// MovedTo 跳到循环位置 offset，保持播放/暂停状态
func (c Clock) MovedTo(now time.Time, offset int64) Clock {
	if !c.Active {
		return Clock{Active: false, LoopStart: c.LoopStart, RestartOffset: offset}
	}
	return StartAt(now, offset)
}
