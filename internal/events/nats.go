package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher 透過 core NATS 發布事件
//
// Subject 格式：<prefix>.<game_id>.<type>，例如 game.6f1c….MoveAccepted，
// 訂閱者可以用 game.*.GameOver 或 game.<id>.> 過濾。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher 連接 NATS 並創建發布者
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("game-coordinator"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return NewNATSPublisherWithConn(conn, prefix), nil
}

// NewNATSPublisherWithConn 使用既有連接創建發布者
func NewNATSPublisherWithConn(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "game"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject 返回事件的 subject
func (p *NATSPublisher) Subject(event Event) string {
	return SubjectFor(p.prefix, event)
}

// Publish 發布事件
func (p *NATSPublisher) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("發布到 NATS 失敗: %w", err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連接
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain NATS 連接失敗: %w", err)
	}
	return nil
}

// SubjectFor 組出 <prefix>.<game_id>.<type>
func SubjectFor(prefix string, event Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.GameID, event.Type)
}
