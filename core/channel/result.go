package channel

import (
	"time"

	"LoopFM/core/schedule"
)

// NowPlayingResult 当前播放信息，供客户端同步
type NowPlayingResult struct {
	ChannelID      int64  `json:"channel_id"`
	UniqueID       string `json:"unique_id"`
	TrackID        int64  `json:"track_id"`
	Artist         string `json:"artist"`
	Title          string `json:"title"`
	Album          string `json:"album"`
	DurationMs     int64  `json:"duration_ms"`
	OffsetMs       int64  `json:"offset_ms"`
	ServerTimeMs   int64  `json:"server_time_ms"`
	LoopPositionMs int64  `json:"loop_position_ms"`
}

// WindowEntry 时间窗口中的一个条目
type WindowEntry struct {
	UniqueID     string `json:"unique_id"`
	TrackID      int64  `json:"track_id"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	TimeOffsetMs int64  `json:"time_offset_ms"`
	DurationMs   int64  `json:"duration_ms"`
}

// WindowResult 批量查询中单个频道的结果
type WindowResult struct {
	Entries []WindowEntry `json:"entries"`
	Err     error         `json:"-"`
}

func newNowPlayingResult(channelID int64, np schedule.NowPlaying, now time.Time) NowPlayingResult {
	t := np.Entry.Track
	return NowPlayingResult{
		ChannelID:      channelID,
		UniqueID:       np.Entry.UniqueID,
		TrackID:        t.ID,
		Artist:         t.Artist,
		Title:          t.Title,
		Album:          t.Album,
		DurationMs:     t.Duration,
		OffsetMs:       np.Offset,
		ServerTimeMs:   schedule.Millis(now),
		LoopPositionMs: np.Position,
	}
}

func newWindowEntries(entries []schedule.Entry) []WindowEntry {
	out := make([]WindowEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, WindowEntry{
			UniqueID:     e.UniqueID,
			TrackID:      e.Track.ID,
			Title:        e.Track.Title,
			Artist:       e.Track.Artist,
			TimeOffsetMs: e.Offset,
			DurationMs:   e.Track.Duration,
		})
	}
	return out
}
