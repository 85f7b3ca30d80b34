package coordinator

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/game-coordinator/internal/protocol"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
)

// Sink 單一連接的發送端
//
// Send 必須是非阻塞的：緩衝區滿或連接已關閉時直接返回錯誤。
type Sink interface {
	Send(msg []byte) error
}

// Registry 連接表 player_id → Sink
//
// 只由協調器的 goroutine 存取，因此沒有鎖。
// 連接順序會被保留，座位分配依這個順序挑選候選人。
type Registry struct {
	sinks  map[uuid.UUID]Sink
	order  []uuid.UUID
	logger *slog.Logger
}

// NewRegistry 創建連接表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sinks:  make(map[uuid.UUID]Sink),
		logger: logger,
	}
}

// Register 註冊連接，已存在時替換 Sink（保留原本的順序）
func (r *Registry) Register(id uuid.UUID, sink Sink) {
	if _, exists := r.sinks[id]; !exists {
		r.order = append(r.order, id)
	}
	r.sinks[id] = sink
}

// Unregister 移除連接，返回是否存在
func (r *Registry) Unregister(id uuid.UUID) bool {
	if _, exists := r.sinks[id]; !exists {
		return false
	}
	delete(r.sinks, id)
	r.order = slices.DeleteFunc(r.order, func(other uuid.UUID) bool { return other == id })
	return true
}

// Has 檢查連接是否存在
func (r *Registry) Has(id uuid.UUID) bool {
	_, exists := r.sinks[id]
	return exists
}

// Len 連接數
func (r *Registry) Len() int {
	return len(r.sinks)
}

// IDs 依連接順序返回所有玩家 ID
func (r *Registry) IDs() []uuid.UUID {
	return slices.Clone(r.order)
}

// Send 單播
func (r *Registry) Send(ctx context.Context, id uuid.UUID, env protocol.Envelope) error {
	sink, exists := r.sinks[id]
	if !exists {
		return apperrors.ErrPlayerNotFound.WithDetails(id.String())
	}

	msg, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	if err := sink.Send(msg); err != nil {
		r.logger.WarnContext(ctx, "訊息投遞失敗",
			"recipient_id", id,
			"type", env.Type,
			"error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeDelivery, "could not deliver message").
			WithDetails(id.String())
	}
	return nil
}

// Broadcast 廣播給所有連接，返回投遞失敗的數量
func (r *Registry) Broadcast(ctx context.Context, env protocol.Envelope) int {
	return r.broadcast(ctx, env, uuid.Nil)
}

// BroadcastExcept 廣播給除了 except 以外的所有連接，返回投遞失敗的數量
func (r *Registry) BroadcastExcept(ctx context.Context, env protocol.Envelope, except uuid.UUID) int {
	return r.broadcast(ctx, env, except)
}

// broadcast 盡力投遞：單一連接失敗只記錄，不影響其他連接
func (r *Registry) broadcast(ctx context.Context, env protocol.Envelope, except uuid.UUID) int {
	recipients := 0
	for _, id := range r.order {
		if id != except {
			recipients++
		}
	}
	if recipients == 0 {
		return 0
	}

	// 只序列化一次
	msg, err := protocol.Encode(env)
	if err != nil {
		r.logger.ErrorContext(ctx, "序列化廣播訊息失敗",
			"type", env.Type,
			"error", err)
		return recipients
	}

	failures := 0
	for _, id := range r.order {
		if id == except {
			continue
		}
		if err := r.sinks[id].Send(msg); err != nil {
			failures++
			r.logger.WarnContext(ctx, "廣播投遞失敗",
				"recipient_id", id,
				"type", env.Type,
				"error", err)
		}
	}
	return failures
}
