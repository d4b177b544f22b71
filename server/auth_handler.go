package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"LoopFM/logger"
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	usernameKey contextKey = "username"
)

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get the Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		// Check if the header has the correct format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := h.tokens.ParseToken(parts[1])
		if err != nil {
			logger.Debug("token 校验失败", logger.ErrorField(err))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		ctx = context.WithValue(ctx, usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDKey).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetUsernameFromContext 取出 token 中的用户名，没有时返回空串
func GetUsernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// authorize 当前用户必须是频道所有者，失败时已写入响应
func (h *APIHandler) authorize(w http.ResponseWriter, r *http.Request, channelID int64) bool {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		logger.Error("Failed to get user ID from context", logger.ErrorField(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	if err := h.manager.Authorize(r.Context(), channelID, userID); err != nil {
		logger.Warn("拒绝频道控制请求",
			logger.Channel(channelID),
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		writeError(w, r, err)
		return false
	}
	return true
}
