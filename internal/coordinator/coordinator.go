// Package coordinator 實現回合制遊戲的協調器
//
// 系統設計問題：
//
//	多個玩家同時連線、斷線、落子，如何保證每個事件看到一致的遊戲狀態？
//
// 核心挑戰：
//  1. 線性化：兩個玩家同時落子，只能有一個先被處理
//  2. 隔離慢客戶端：一個卡住的連接不能拖慢整局遊戲
//  3. 錯誤不擴散：一則壞訊息不能讓協調器停止
//
// 設計方案：
//
//	✅ 單一 goroutine + 有界 inbox channel：所有事件排隊，逐一處理
//	✅ 連接表與規則引擎只在這個 goroutine 上修改（不需要鎖）
//	✅ 投遞走每個連接自己的緩衝 channel，滿了就記錄並跳過
//	✅ 規則引擎介面化：協調器不知道具體是哪種遊戲
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/koopa0/system-design/game-coordinator/internal/events"
	"github.com/koopa0/system-design/game-coordinator/internal/game"
	"github.com/koopa0/system-design/game-coordinator/internal/protocol"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
	"github.com/koopa0/system-design/game-coordinator/pkg/logger"
)

const tracerName = "github.com/koopa0/system-design/game-coordinator/internal/coordinator"

// DefaultInboxSize inbox 預設容量
const DefaultInboxSize = 256

// Player 連線的玩家
type Player struct {
	ID   uuid.UUID
	Name string
}

// PlayerInfo 快照中的玩家資訊
type PlayerInfo struct {
	ID   uuid.UUID `json:"player_id"`
	Name string    `json:"name"`
}

// Stats 協調器統計（只在協調器 goroutine 上更新）
type Stats struct {
	EventsProcessed     uint64 `json:"events_processed"`
	MovesAccepted       uint64 `json:"moves_accepted"`
	MovesRejected       uint64 `json:"moves_rejected"`
	ProtocolErrors      uint64 `json:"protocol_errors"`
	DeliveryFailures    uint64 `json:"delivery_failures"`
	InvariantViolations uint64 `json:"invariant_violations"`
}

// Snapshot 某一時刻的遊戲狀態
//
// 快照也經過 inbox，所以一定落在兩個事件之間。
type Snapshot struct {
	GameID  uuid.UUID    `json:"game_id"`
	Game    string       `json:"game"`
	Phase   game.Phase   `json:"phase"`
	Players []PlayerInfo `json:"players"`
	State   any          `json:"state"`
	Stats   Stats        `json:"stats"`
}

type eventKind int

const (
	eventConnect eventKind = iota + 1
	eventDisconnect
	eventMessage
	eventSnapshot
)

func (k eventKind) String() string {
	switch k {
	case eventConnect:
		return "connect"
	case eventDisconnect:
		return "disconnect"
	case eventMessage:
		return "message"
	case eventSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// event inbox 中的事件
type event struct {
	kind     eventKind
	ctx      context.Context
	player   Player
	sink     Sink
	raw      []byte
	reply    chan error    // connect
	snapshot chan Snapshot // snapshot
}

// Coordinator 遊戲協調器
//
// 擁有連接表與一個規則引擎。Connect / Disconnect / Message 只負責把事件放進 inbox，
// 由 Run 的 goroutine 按 FIFO 順序處理。
type Coordinator struct {
	gameID    uuid.UUID
	engine    game.RuleEngine
	registry  *Registry
	names     map[uuid.UUID]string
	stats     Stats
	publisher events.Publisher
	tracer    trace.Tracer
	logger    *slog.Logger

	inboxSize int
	inbox     chan event
	running   atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// Option 協調器選項
type Option func(*Coordinator)

// WithInboxSize 設定 inbox 容量
func WithInboxSize(size int) Option {
	return func(c *Coordinator) {
		if size > 0 {
			c.inboxSize = size
		}
	}
}

// WithPublisher 設定事件發布者（每個廣播訊息都會轉送一份）
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithTracerProvider 設定 tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithGameID 設定遊戲 ID
func WithGameID(id uuid.UUID) Option {
	return func(c *Coordinator) {
		if id != uuid.Nil {
			c.gameID = id
		}
	}
}

// New 創建協調器
func New(engine game.RuleEngine, log *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		gameID:    uuid.New(),
		engine:    engine,
		registry:  NewRegistry(log),
		names:     make(map[uuid.UUID]string),
		publisher: events.Noop{},
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		logger:    log,
		inboxSize: DefaultInboxSize,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.inbox = make(chan event, c.inboxSize)
	return c
}

// GameID 返回遊戲 ID
func (c *Coordinator) GameID() uuid.UUID {
	return c.gameID
}

// Run 處理 inbox 直到 ctx 結束或 Stop 被呼叫
//
// 只能呼叫一次。
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return apperrors.New(apperrors.ErrCodeInvariant, "coordinator already running")
	}
	defer close(c.done)

	c.logger.Info("協調器啟動",
		"game_id", c.gameID,
		"game", c.engine.Name())

	for {
		select {
		case ev := <-c.inbox:
			c.handle(ev)
		case <-ctx.Done():
			c.logger.Info("協調器停止", "game_id", c.gameID, "reason", ctx.Err())
			return nil
		case <-c.stopCh:
			c.logger.Info("協調器停止", "game_id", c.gameID)
			return nil
		}
	}
}

// Stop 停止協調器
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Done 在 Run 返回後關閉
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Connect 玩家連線
//
// 會等待協調器處理完才返回；同一個 ID 重複連線返回 ALREADY_EXISTS。
func (c *Coordinator) Connect(ctx context.Context, player Player, sink Sink) error {
	reply := make(chan error, 1)
	ev := event{kind: eventConnect, ctx: ctx, player: player, sink: sink, reply: reply}
	if err := c.enqueue(ctx, ev); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return apperrors.ErrCoordinatorStopped
	}
}

// Disconnect 玩家斷線
func (c *Coordinator) Disconnect(ctx context.Context, id uuid.UUID) error {
	return c.enqueue(ctx, event{kind: eventDisconnect, ctx: ctx, player: Player{ID: id}})
}

// Message 玩家送來的原始訊息
func (c *Coordinator) Message(ctx context.Context, id uuid.UUID, raw []byte) error {
	return c.enqueue(ctx, event{kind: eventMessage, ctx: ctx, player: Player{ID: id}, raw: raw})
}

// Snapshot 返回目前的遊戲狀態
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.enqueue(ctx, event{kind: eventSnapshot, ctx: ctx, snapshot: reply}); err != nil {
		return Snapshot{}, err
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-c.done:
		return Snapshot{}, apperrors.ErrCoordinatorStopped
	}
}

// enqueue 放進 inbox；inbox 滿時阻塞直到 ctx 結束
func (c *Coordinator) enqueue(ctx context.Context, ev event) error {
	select {
	case <-c.done:
		return apperrors.ErrCoordinatorStopped
	default:
	}

	select {
	case c.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return apperrors.ErrCoordinatorStopped
	}
}

// handle 處理單一事件（只在 Run 的 goroutine 上執行）
func (c *Coordinator) handle(ev event) {
	if ev.kind == eventSnapshot {
		ev.snapshot <- c.snapshot()
		return
	}

	// 請求的 ctx 可能在處理前就被取消（例如 HTTP 連接已關閉），事件仍然要處理完
	ctx := logger.WithGameID(context.WithoutCancel(ev.ctx), c.gameID.String())
	ctx = logger.WithPlayerID(ctx, ev.player.ID.String())

	ctx, span := c.tracer.Start(ctx, "coordinator."+ev.kind.String(),
		trace.WithAttributes(
			attribute.String("game.id", c.gameID.String()),
			attribute.String("player.id", ev.player.ID.String()),
		))
	defer span.End()

	switch ev.kind {
	case eventConnect:
		// 呼叫者已放棄等待，不能留下沒有人會送 Disconnect 的連接
		err := ev.ctx.Err()
		if err != nil {
			c.logger.WarnContext(ctx, "連線請求已取消，不註冊", "error", err)
		} else {
			err = c.handleConnect(ctx, ev.player, ev.sink)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		ev.reply <- err
	case eventDisconnect:
		c.handleDisconnect(ctx, ev.player.ID)
	case eventMessage:
		c.handleMessage(ctx, span, ev.player.ID, ev.raw)
	}

	c.stats.EventsProcessed++
	span.SetAttributes(attribute.String("game.phase", string(c.engine.Phase())))
}

func (c *Coordinator) handleConnect(ctx context.Context, player Player, sink Sink) error {
	if c.registry.Has(player.ID) {
		c.logger.WarnContext(ctx, "重複連線")
		return apperrors.ErrPlayerAlreadyConnected.WithDetails(player.ID.String())
	}

	c.registry.Register(player.ID, sink)
	c.names[player.ID] = player.Name

	c.logger.InfoContext(ctx, "玩家連線",
		"name", player.Name,
		"connections", c.registry.Len())

	c.unicast(ctx, player.ID, protocol.ConnectionSuccess(player.ID, player.Name))
	c.broadcastExcept(ctx, protocol.ClientConnected(player.ID, player.Name), player.ID)

	if c.engine.Phase() == game.PhaseWaiting && c.registry.Len() >= c.engine.MinPlayers() {
		start, err := c.engine.Init(c.registry.IDs())
		if err != nil {
			c.stats.InvariantViolations++
			c.logger.ErrorContext(ctx, "開局失敗", "error", err)
			return nil
		}
		c.logger.InfoContext(ctx, "遊戲開始", "game", c.engine.Name())
		c.broadcast(ctx, start)
	}

	return nil
}

func (c *Coordinator) handleDisconnect(ctx context.Context, id uuid.UUID) {
	if !c.registry.Unregister(id) {
		c.logger.DebugContext(ctx, "忽略未知玩家的斷線")
		return
	}
	delete(c.names, id)

	// 遊戲進行中斷線不判負，剩下的玩家只會收到通知
	c.logger.InfoContext(ctx, "玩家斷線",
		"phase", c.engine.Phase(),
		"connections", c.registry.Len())

	c.broadcast(ctx, protocol.ClientDisconnected(id))
}

func (c *Coordinator) handleMessage(ctx context.Context, span trace.Span, id uuid.UUID, raw []byte) {
	if !c.registry.Has(id) {
		c.logger.WarnContext(ctx, "忽略未連線玩家的訊息")
		return
	}

	in, err := protocol.Decode(raw)
	if err == nil && in.Type != protocol.TypeMove {
		err = apperrors.ErrMalformedPayload.WithDetails("unexpected type " + string(in.Type))
	}
	if err != nil {
		c.rejectMalformed(ctx, span, id, err)
		return
	}

	outcome, err := c.engine.ApplyMove(id, in.Data)
	if err != nil {
		if apperrors.IsProtocolError(err) {
			c.rejectMalformed(ctx, span, id, err)
			return
		}
		c.stats.InvariantViolations++
		c.logger.ErrorContext(ctx, "規則引擎錯誤", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetAttributes(attribute.String("move.outcome", outcome.Kind.String()))

	switch outcome.Kind {
	case game.Rejected:
		c.stats.MovesRejected++
		span.SetAttributes(attribute.String("move.reject_reason", string(outcome.Reason)))
		c.logger.InfoContext(ctx, "落子被拒", "reason", outcome.Reason)
		if outcome.Reply != nil {
			c.unicast(ctx, id, *outcome.Reply)
		}
	case game.Accepted, game.GameOver:
		c.stats.MovesAccepted++
		for _, env := range outcome.Effects {
			c.broadcast(ctx, env)
		}
		if outcome.Kind == game.GameOver {
			c.logger.InfoContext(ctx, "遊戲結束",
				"draw", outcome.Result.Draw,
				"seat", outcome.Result.Seat.String())
		}
	}
}

func (c *Coordinator) rejectMalformed(ctx context.Context, span trace.Span, id uuid.UUID, err error) {
	c.stats.ProtocolErrors++
	span.SetAttributes(attribute.String("move.outcome", "malformed"))
	c.logger.WarnContext(ctx, "無法解析的訊息", "error", err)
	c.unicast(ctx, id, protocol.Malformed())
}

func (c *Coordinator) unicast(ctx context.Context, id uuid.UUID, env protocol.Envelope) {
	if err := c.registry.Send(ctx, id, env); err != nil {
		c.stats.DeliveryFailures++
	}
}

func (c *Coordinator) broadcast(ctx context.Context, env protocol.Envelope) {
	c.stats.DeliveryFailures += uint64(c.registry.Broadcast(ctx, env))
	c.publish(ctx, env)
}

func (c *Coordinator) broadcastExcept(ctx context.Context, env protocol.Envelope, except uuid.UUID) {
	c.stats.DeliveryFailures += uint64(c.registry.BroadcastExcept(ctx, env, except))
	c.publish(ctx, env)
}

func (c *Coordinator) publish(ctx context.Context, env protocol.Envelope) {
	if err := c.publisher.Publish(ctx, events.NewEvent(c.gameID, env)); err != nil {
		c.logger.DebugContext(ctx, "事件未轉送", "type", env.Type, "error", err)
	}
}

func (c *Coordinator) snapshot() Snapshot {
	ids := c.registry.IDs()
	players := make([]PlayerInfo, 0, len(ids))
	for _, id := range ids {
		players = append(players, PlayerInfo{ID: id, Name: c.names[id]})
	}

	return Snapshot{
		GameID:  c.gameID,
		Game:    c.engine.Name(),
		Phase:   c.engine.Phase(),
		Players: players,
		State:   c.engine.Snapshot(),
		Stats:   c.stats,
	}
}
