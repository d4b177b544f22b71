package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"LoopFM/core/broadcast"
	"LoopFM/logger"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ListenHandler 以 chunked audio/mpeg 输出频道直播流，直到客户端断开
func (h *APIHandler) ListenHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.manager.Listen(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Leave()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = broadcast.Pump(r.Context(), sub, w, flusher.Flush)
	logListenerGone(id, sub, err)
}

// wsSink 每个数据块作为一条二进制消息发送
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Write(p []byte) (int, error) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ListenWebSocketHandler 通过 websocket 推送频道直播流
func (h *APIHandler) ListenWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}
	// 先加入广播，频道不存在时还能返回普通的 HTTP 错误
	sub, err := h.manager.Listen(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Leave()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 读循环只处理 pong 和关闭帧，出错说明客户端已断开
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err = broadcast.Pump(ctx, sub, wsSink{conn: conn}, nil)
	logListenerGone(id, sub, err)

	if !errors.Is(err, context.Canceled) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "broadcast ended")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}
}

func logListenerGone(channelID int64, sub *broadcast.Subscriber, err error) {
	logger.Info("收听者离开",
		logger.Channel(channelID),
		logger.String("subscriber", sub.ID()),
		logger.Uint64("delivered", sub.Delivered()),
		logger.Uint64("dropped", sub.Dropped()),
		logger.String("reason", reasonOf(err)))
}

func reasonOf(err error) string {
	switch {
	case err == nil:
		return "left"
	case errors.Is(err, context.Canceled):
		return "client disconnected"
	default:
		return err.Error()
	}
}
