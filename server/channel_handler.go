package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"LoopFM/core/channel"
	"LoopFM/core/schedule"
	"LoopFM/logger"

	"github.com/gorilla/mux"
)

const (
	defaultWindowBeforeMs = 15000
	defaultWindowAfterMs  = 60000
	maxBatchChannels      = 50
)

// StatusResponse 频道运行状态
type StatusResponse struct {
	ChannelID      int64          `json:"channel_id"`
	Status         channel.Status `json:"status"`
	Listeners      int            `json:"listeners"`
	Entries        int            `json:"entries"`
	LoopDurationMs int64          `json:"loop_duration_ms"`
	ServerTimeMs   int64          `json:"server_time_ms"`
}

// ScheduleResponse 单个频道的时间窗口
type ScheduleResponse struct {
	ChannelID int64                 `json:"channel_id"`
	Entries   []channel.WindowEntry `json:"entries"`
}

// BatchScheduleItem 批量查询中单个频道的结果，出错时只有 Error
type BatchScheduleItem struct {
	ChannelID int64                 `json:"channel_id"`
	Entries   []channel.WindowEntry `json:"entries,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// NowPlayingHandler 当前播放的曲目和曲目内偏移，没有在播放时返回 204
func (h *APIHandler) NowPlayingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}
	result, err := h.manager.NowPlaying(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// windowParams 解析 before/after，单位毫秒，原样交给调度计算
func windowParams(r *http.Request) (before, after int64, err error) {
	before, err = queryInt64(r, "before", defaultWindowBeforeMs)
	if err != nil || before < 0 {
		return 0, 0, errors.New("invalid before")
	}
	after, err = queryInt64(r, "after", defaultWindowAfterMs)
	if err != nil || after < 0 {
		return 0, 0, errors.New("invalid after")
	}
	return before, after, nil
}

// ScheduleHandler 当前位置前后一段时间内的条目
func (h *APIHandler) ScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}
	before, after, err := windowParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.manager.Window(r.Context(), id, before, after)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{ChannelID: id, Entries: entries})
}

// BatchScheduleHandler 一次查询多个频道，GET /api/schedule?channels=1,2,3
func (h *APIHandler) BatchScheduleHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("channels")
	if raw == "" {
		http.Error(w, "channels is required", http.StatusBadRequest)
		return
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Invalid channel ID: "+part, http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) > maxBatchChannels {
		http.Error(w, "too many channels", http.StatusBadRequest)
		return
	}
	before, after, err := windowParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results := h.manager.Windows(r.Context(), ids, before, after)

	// 按请求顺序输出，重复的 ID 只出现一次
	items := make([]BatchScheduleItem, 0, len(results))
	seen := make(map[int64]bool, len(results))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		res := results[id]
		item := BatchScheduleItem{ChannelID: id, Entries: res.Entries}
		if res.Err != nil {
			if errorStatus(res.Err) >= http.StatusInternalServerError {
				logger.Error("批量查询频道失败", logger.Channel(id), logger.ErrorField(res.Err))
				item.Error = http.StatusText(http.StatusInternalServerError)
			} else {
				item.Error = res.Err.Error()
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": items})
}

func (h *APIHandler) statusOf(s *channel.Session) StatusResponse {
	tl := s.Timeline()
	return StatusResponse{
		ChannelID:      s.ID(),
		Status:         s.Status(),
		Listeners:      s.Listeners(),
		Entries:        tl.Len(),
		LoopDurationMs: tl.Duration(),
		ServerTimeMs:   schedule.Millis(s.Now()),
	}
}

// StatusHandler 播放状态和收听人数
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}
	s, err := h.manager.Session(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.statusOf(s))
}

var errInvalidControl = errors.New("invalid control request")

// controlAction 解析控制参数，返回要执行的操作
func controlAction(s *channel.Session, action string, q url.Values) (func(context.Context) error, error) {
	switch action {
	case "play":
		ms := int64(0)
		if v := q.Get("ms"); v != "" {
			var err error
			if ms, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, errInvalidControl
			}
		}
		return func(ctx context.Context) error { return s.PlayFrom(ctx, ms) }, nil
	case "pause":
		return s.Pause, nil
	case "resume":
		return s.Resume, nil
	case "next":
		return s.PlayNext, nil
	case "prev":
		return s.PlayPrevious, nil
	case "seek":
		ms, err := strconv.ParseInt(q.Get("ms"), 10, 64)
		if err != nil {
			return nil, errInvalidControl
		}
		return func(ctx context.Context) error { return s.Seek(ctx, ms) }, nil
	case "index":
		index, err := strconv.Atoi(q.Get("index"))
		if err != nil {
			return nil, errInvalidControl
		}
		return func(ctx context.Context) error { return s.PlayIndex(ctx, index) }, nil
	}
	return nil, errInvalidControl
}

// ControlHandler 播放控制：play, pause, resume, next, prev, seek, index
func (h *APIHandler) ControlHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok || !h.authorize(w, r, id) {
		return
	}
	s, err := h.manager.Session(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	action := mux.Vars(r)["action"]
	op, err := controlAction(s, action, r.URL.Query())
	if err != nil {
		http.Error(w, "Invalid control request: "+action, http.StatusBadRequest)
		return
	}
	err = op(r.Context())
	if errors.Is(err, schedule.ErrNotPlaying) {
		http.Error(w, "channel has no tracks", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("频道控制",
		logger.Channel(id),
		logger.String("username", GetUsernameFromContext(r.Context())),
		logger.String("action", action),
		logger.String("status", string(s.Status())))
	writeJSON(w, http.StatusOK, h.statusOf(s))
}

// ReloadHandler 从存储重新读取频道的播放列表和时钟
func (h *APIHandler) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok || !h.authorize(w, r, id) {
		return
	}
	if err := h.manager.Reload(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.manager.Session(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.statusOf(s))
}
