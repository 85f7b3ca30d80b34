package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
)

// Forwarder 非同步事件轉送器
//
// Publish 只把事件放進有界緩衝區，真正的發布在 Run 的 goroutine 進行。
// 緩衝區滿時丟棄事件並記錄 Warn，呼叫者永遠不會被匯流排拖慢。
type Forwarder struct {
	target  Publisher
	buffer  chan Event
	timeout time.Duration
	logger  *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// ForwarderStats 轉送統計
type ForwarderStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// NewForwarder 創建事件轉送器
func NewForwarder(target Publisher, bufferSize int, timeout time.Duration, logger *slog.Logger) *Forwarder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Forwarder{
		target:  target,
		buffer:  make(chan Event, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Publish 把事件放進緩衝區（非阻塞）
func (f *Forwarder) Publish(ctx context.Context, event Event) error {
	select {
	case f.buffer <- event:
		return nil
	default:
		f.dropped.Add(1)
		f.logger.WarnContext(ctx, "事件緩衝區滿，丟棄事件",
			"type", event.Type,
			"game_id", event.GameID)
		return apperrors.ErrEventBufferFull
	}
}

// Run 持續轉送事件，直到 ctx 結束
//
// ctx 結束後會把緩衝區中剩下的事件送完再返回。
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case event := <-f.buffer:
			f.forward(ctx, event)
		case <-ctx.Done():
			f.drain()
			return nil
		}
	}
}

// Close 關閉底層發布者
func (f *Forwarder) Close() error {
	return f.target.Close()
}

// Stats 返回轉送統計
func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Published: f.published.Load(),
		Failed:    f.failed.Load(),
		Dropped:   f.dropped.Load(),
		Pending:   len(f.buffer),
	}
}

func (f *Forwarder) forward(parent context.Context, event Event) {
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	if err := f.target.Publish(ctx, event); err != nil {
		f.failed.Add(1)
		f.logger.Warn("發布事件失敗",
			"type", event.Type,
			"game_id", event.GameID,
			"error", err)
		return
	}
	f.published.Add(1)
}

func (f *Forwarder) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-f.buffer:
			f.forward(ctx, event)
		default:
			return
		}
	}
}
