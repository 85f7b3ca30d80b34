package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher 透過 Redis PUBLISH 發布事件
//
// 每局遊戲一個 channel：<prefix>:<game_id>。
// 事件類型放在 payload 的 type 欄位，訂閱者自行過濾。
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// RedisOptions Redis 連接設定
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisPublisher 連接 Redis 並創建發布者
//
// 建立時先 PING 一次，連不上就直接返回錯誤。
func NewRedisPublisher(ctx context.Context, opts RedisOptions, prefix string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		WriteTimeout: opts.WriteTimeout,
		MaxRetries:   1,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("連接 Redis 失敗: %w", err)
	}

	return NewRedisPublisherWithClient(client, prefix), nil
}

// NewRedisPublisherWithClient 使用既有 client 創建發布者
func NewRedisPublisherWithClient(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "game"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Publish 發布事件
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	if err := p.client.Publish(ctx, ChannelFor(p.prefix, event.GameID), data).Err(); err != nil {
		return fmt.Errorf("發布到 Redis 失敗: %w", err)
	}
	return nil
}

// Close 關閉 client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// ChannelFor 組出 <prefix>:<game_id>
func ChannelFor(prefix string, gameID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", prefix, gameID)
}
