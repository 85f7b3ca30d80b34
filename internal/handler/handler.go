// Package handler 提供 HTTP 路由：WebSocket 入口、健康檢查、遊戲快照與統計
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/system-design/game-coordinator/internal/coordinator"
	"github.com/koopa0/system-design/game-coordinator/internal/events"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
)

// snapshotTimeout 等待協調器回應快照的上限
const snapshotTimeout = 2 * time.Second

// Game 提供遊戲快照
type Game interface {
	Snapshot(ctx context.Context) (coordinator.Snapshot, error)
}

// Hub WebSocket 入口
type Hub interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ConnectionCount() int
}

// EventStats 事件轉送統計
type EventStats interface {
	Stats() events.ForwarderStats
}

// Handler HTTP 請求處理器
type Handler struct {
	game    Game
	hub     Hub
	events  EventStats
	logger  *slog.Logger
	started time.Time
}

// NewHandler 創建 HTTP 處理器
//
// eventStats 可以是 nil（未設定事件匯流排）。
func NewHandler(game Game, hub Hub, eventStats EventStats, logger *slog.Logger) *Handler {
	return &Handler{
		game:    game,
		hub:     hub,
		events:  eventStats,
		logger:  logger,
		started: time.Now(),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// WebSocket 升級需要原始的 ResponseWriter（Hijack），不套用日誌中間件
	mux.HandleFunc("GET /ws", h.hub.ServeWS)

	mux.HandleFunc("GET /api/v1/game", wrap(h.getGame))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// getGame 遊戲快照
func (h *Handler) getGame(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.jsonResponse(w, snap, http.StatusOK)
}

// health 健康檢查
//
// 協調器能在期限內回應快照才算健康。
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.snapshot(r.Context()); err != nil {
		h.jsonResponse(w, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
			"time":   time.Now().Unix(),
		}, http.StatusServiceUnavailable)
		return
	}

	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// statsResponse 統計資訊
type statsResponse struct {
	GameID      string                 `json:"game_id"`
	Phase       string                 `json:"phase"`
	Players     int                    `json:"players"`
	Connections int                    `json:"connections"`
	Coordinator coordinator.Stats      `json:"coordinator"`
	Events      *events.ForwarderStats `json:"events,omitempty"`
	Uptime      string                 `json:"uptime"`
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	resp := statsResponse{
		GameID:      snap.GameID.String(),
		Phase:       string(snap.Phase),
		Players:     len(snap.Players),
		Connections: h.hub.ConnectionCount(),
		Coordinator: snap.Stats,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
	}
	if h.events != nil {
		s := h.events.Stats()
		resp.Events = &s
	}

	h.jsonResponse(w, resp, http.StatusOK)
}

func (h *Handler) snapshot(ctx context.Context) (coordinator.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return h.game.Snapshot(ctx)
}

// handleError 依錯誤類型返回狀態碼
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsUnavailable(err):
		h.errorResponse(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		h.errorResponse(w, "coordinator did not respond in time", http.StatusGatewayTimeout)
	case apperrors.IsNotFound(err):
		h.errorResponse(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("處理請求失敗", "error", err)
		h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
	}
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
