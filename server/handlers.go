package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"LoopFM/core/auth"
	"LoopFM/core/channel"
	"LoopFM/core/schedule"
	"LoopFM/logger"
	"LoopFM/model"

	"github.com/gorilla/mux"
)

// APIHandler holds dependencies for API handlers.
type APIHandler struct {
	manager *channel.Manager
	tokens  *auth.TokenManager
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(manager *channel.Manager, tokens *auth.TokenManager) *APIHandler {
	return &APIHandler{manager: manager, tokens: tokens}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

// errorStatus 把领域错误映射为 HTTP 状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, schedule.ErrNotPlaying):
		return http.StatusNoContent
	case errors.Is(err, model.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, schedule.ErrInvalidTimeline):
		return http.StatusConflict
	case errors.Is(err, channel.ErrTrackIndexOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case status == http.StatusNoContent:
		w.WriteHeader(status)
		return
	case status >= http.StatusInternalServerError:
		logger.Error("请求处理失败",
			logger.String("path", r.URL.Path),
			logger.ErrorField(err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

// channelID 解析路径中的频道 ID，失败时已写入 400
func channelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid channel ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt64 读取可选的整数参数，缺省时返回 fallback
func queryInt64(r *http.Request, key string, fallback int64) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
