// Package events 把協調器廣播的訊息轉送到外部訊息匯流排
//
// 觀戰或稽核用的服務可以訂閱這些事件，而不必連上 WebSocket。
// 事件只是即時的 pub/sub，不做持久化。
//
//	Coordinator ──Publish──→ Forwarder（有界緩衝）──→ NATS / Redis
//
// 協調器只呼叫 Forwarder.Publish（非阻塞），匯流排 I/O 全部在 Forwarder 的 goroutine 上進行。
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/game-coordinator/internal/protocol"
)

// Event 對外發布的遊戲事件
type Event struct {
	GameID uuid.UUID     `json:"game_id"`
	Type   protocol.Type `json:"type"`
	Data   any           `json:"data,omitempty"`
	At     time.Time     `json:"at"`
}

// NewEvent 從出站訊息建立事件
func NewEvent(gameID uuid.UUID, env protocol.Envelope) Event {
	return Event{
		GameID: gameID,
		Type:   env.Type,
		Data:   env.Data,
		At:     time.Now().UTC(),
	}
}

// Publisher 事件發布者
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop 不做任何事的發布者（未設定匯流排時使用）
type Noop struct{}

// Publish 丟棄事件
func (Noop) Publish(context.Context, Event) error { return nil }

// Close 無操作
func (Noop) Close() error { return nil }
