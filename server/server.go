package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LoopFM/config"
	"LoopFM/core/audio"
	"LoopFM/core/auth"
	"LoopFM/core/channel"
	"LoopFM/logger"

	"github.com/gorilla/mux"
)

// corsMiddleware 允许任意来源访问
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter 注册所有路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	// 频道查询
	router.HandleFunc("/api/channels/{id}/now-playing", h.NowPlayingHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/channels/{id}/schedule", h.ScheduleHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/channels/{id}/status", h.StatusHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/schedule", h.BatchScheduleHandler).Methods(http.MethodGet, http.MethodOptions)

	// 播放控制，只有频道所有者可以调用
	if h.tokens != nil {
		router.HandleFunc("/api/channels/{id}/control/{action}", h.AuthMiddleware(h.ControlHandler)).Methods(http.MethodPost, http.MethodOptions)
		router.HandleFunc("/api/channels/{id}/reload", h.AuthMiddleware(h.ReloadHandler)).Methods(http.MethodPost, http.MethodOptions)
	} else {
		logger.Warn("未配置 JWT_SECRET，播放控制接口已关闭")
	}

	// 直播流
	router.HandleFunc("/listen/{id}", h.ListenHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws/listen/{id}", h.ListenWebSocketHandler).Methods(http.MethodGet)

	return router
}

// Start 连接数据源，启动 HTTP 服务，收到中断信号后优雅关闭
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open channel store: %w", err)
	}
	defer backend.Close()

	encoderCfg := audio.EncoderConfig{
		FFmpegPath: cfg.FFmpegPath,
		Bitrate:    cfg.AudioBitrate,
		ChunkSize:  cfg.ChunkSize,
		IdlePoll:   cfg.IdlePoll,
	}
	manager := channel.NewManager(backend.Store,
		channel.WithSubscriberBuffer(cfg.SubscriberBuffer),
		channel.WithIdleTimeout(cfg.BroadcastIdle),
		channel.WithEncoder(func(s *channel.Session) channel.Encoder {
			return audio.NewFFmpegEncoder(encoderCfg, s, backend.Sources)
		}),
	)
	defer manager.Close()

	if backend.Feed != nil {
		go func() {
			if err := manager.Watch(ctx, backend.Feed); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("频道变更订阅中断", logger.ErrorField(err))
			}
		}()
	}

	var tokens *auth.TokenManager
	if cfg.JWTSecret != "" {
		tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry)
	}
	handler := NewAPIHandler(manager, tokens)

	// 直播流是长连接，不设置 WriteTimeout
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	// 先断开收听者，否则 Shutdown 会一直等待直播连接
	manager.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
