// Package transport 把 WebSocket 連接接到協調器
//
// 每個連接兩個 goroutine：
//
//	readPump：  socket → Coordinator.Message；結束時送出 Disconnect
//	writePump： send channel → socket；定時 Ping
//
// 協調器只透過 Sink.Send 把訊息放進連接自己的緩衝 channel，
// 慢客戶端只會讓自己的緩衝區滿，不會拖慢協調器。
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/text/unicode/norm"

	"github.com/koopa0/system-design/game-coordinator/internal/coordinator"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
	"github.com/koopa0/system-design/game-coordinator/pkg/logger"
)

// DefaultName 沒有提供名稱時使用
const DefaultName = "Guest"

const maxNameLength = 32

// Coordinator 傳輸層需要的協調器操作
type Coordinator interface {
	Connect(ctx context.Context, player coordinator.Player, sink coordinator.Sink) error
	Disconnect(ctx context.Context, id uuid.UUID) error
	Message(ctx context.Context, id uuid.UUID, raw []byte) error
}

// Options 連接參數
type Options struct {
	PingInterval    time.Duration // 發送 Ping 的間隔
	PongWait        time.Duration // 多久沒收到任何資料（包括 Pong）就斷線
	WriteWait       time.Duration // 單次寫入期限
	MaxMessageSize  int64         // 單則訊息上限
	SendBufferSize  int           // 每個連接的發送緩衝
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultOptions 預設連接參數
func DefaultOptions() Options {
	return Options{
		PingInterval:    5 * time.Second,
		PongWait:        10 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageSize:  4096,
		SendBufferSize:  256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Hub WebSocket 連接中心
//
// 只負責連接的生命週期；遊戲相關的狀態都在協調器裡。
// connections 只用於 Stop 時關閉所有連接與統計。
type Hub struct {
	coordinator Coordinator
	opts        Options
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[uuid.UUID]*Connection
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// Connection WebSocket 連接，實作 coordinator.Sink
type Connection struct {
	ID   uuid.UUID
	Name string

	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	mu     sync.Mutex
	closed bool
}

// NewHub 創建 WebSocket Hub
func NewHub(coord Coordinator, opts Options, logger *slog.Logger) *Hub {
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaults.SendBufferSize
	}

	return &Hub{
		coordinator: coord,
		opts:        opts,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
		},
		connections: make(map[uuid.UUID]*Connection),
	}
}

// ServeWS 處理 WebSocket 連接
//
// GET /ws?name=<顯示名稱>；玩家 ID 由伺服器產生。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(r.URL.Query().Get("name"))

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := &Connection{
		ID:   uuid.New(),
		Name: name,
		conn: conn,
		send: make(chan []byte, hub.opts.SendBufferSize),
		hub:  hub,
	}

	hub.register(c)

	// 兩個 pump 都先計入 wg，Connect 等待期間呼叫 Stop 也會等到它們結束
	hub.wg.Add(2)
	go c.writePump()

	// 升級後 r.Context() 隨 handler 返回而取消，連接的 ctx 另外建立
	ctx := logger.WithPlayerID(context.Background(), c.ID.String())
	if err := hub.coordinator.Connect(ctx, coordinator.Player{ID: c.ID, Name: c.Name}, c); err != nil {
		hub.logger.Warn("協調器拒絕連接",
			"player_id", c.ID,
			"error", err)
		hub.unregister(c)
		c.close()
		hub.wg.Done() // readPump 不會啟動
		return
	}

	go c.readPump(ctx)

	hub.logger.Info("WebSocket 連接建立",
		"player_id", c.ID,
		"name", c.Name,
		"remote_addr", r.RemoteAddr)
}

// ConnectionCount 目前連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 關閉所有連接並等待讀寫 goroutine 結束
func (hub *Hub) Stop() {
	hub.mu.Lock()
	conns := make([]*Connection, 0, len(hub.connections))
	for _, c := range hub.connections {
		conns = append(conns, c)
	}
	hub.mu.Unlock()

	// 關閉 send channel 讓 writePump 送出 Close 訊框，readPump 隨之結束
	for _, c := range conns {
		c.close()
	}
	hub.wg.Wait()

	hub.logger.Info("WebSocket Hub 已停止", "connections", len(conns))
}

func (hub *Hub) register(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.connections[c.ID] = c
}

func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if current, exists := hub.connections[c.ID]; exists && current == c {
		delete(hub.connections, c.ID)
	}
}

// Send 把訊息放進發送緩衝（非阻塞）
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apperrors.ErrSinkClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return apperrors.ErrSendBufferFull
	}
}

// close 關閉發送緩衝，可重複呼叫
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 讀取客戶端訊息
//
// 心跳（讀取端）：每收到 Pong 就把讀取期限延長 PongWait。
// 超過 PongWait 沒有任何資料，ReadMessage 返回錯誤，視同斷線。
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(ctx, c.hub.opts.WriteWait)
		defer cancel()
		if err := c.hub.coordinator.Disconnect(disconnectCtx, c.ID); err != nil {
			c.hub.logger.Debug("通知斷線失敗", "player_id", c.ID, "error", err)
		}
		c.hub.unregister(c)
		c.close()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"player_id", c.ID,
					"error", err)
			}
			return
		}

		// 收到任何資料都代表連接仍然活著
		if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait)); err != nil {
			c.hub.logger.Error("設置讀取期限失敗", "error", err)
		}

		if err := c.hub.coordinator.Message(ctx, c.ID, message); err != nil {
			c.hub.logger.Warn("轉交訊息失敗",
				"player_id", c.ID,
				"error", err)
			return
		}
	}
}

// writePump 寫入訊息到客戶端
//
// 心跳（發送端）：每 PingInterval 發送一次 Ping，客戶端自動回覆 Pong。
// send channel 被關閉時送出 Close 訊框後結束。
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 發送緩衝已關閉，嘗試送出關閉訊框（連接可能已斷）
				deadline := time.Now().Add(time.Second)
				if err := c.conn.SetWriteDeadline(deadline); err == nil {
					_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 把緩衝中已有的訊息一起送出，每則訊息仍是獨立的訊框
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.hub.logger.Warn("發送訊息失敗", "player_id", c.ID, "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sanitizeName 整理顯示名稱
//
// NFC 正規化後去掉控制字元，最多保留 maxNameLength 個字元。
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, norm.NFC.String(name))
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}
