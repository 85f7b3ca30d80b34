// Package game 定義回合制遊戲的規則引擎介面與實作
//
// 規則引擎擁有所有遊戲相關的狀態（棋盤、回合數、座位），
// 協調器只透過 RuleEngine 介面驅動它，不知道具體遊戲。
//
// 生命週期（有限狀態機）：
//
//	waiting → in_progress → finished
//
//   - waiting → in_progress：Init 分配座位
//   - in_progress → finished：某次落子產生勝負或和局
//
// 規則引擎不做任何 I/O，所有方法都是同步的，
// 由協調器的單一 goroutine 呼叫，因此不需要鎖。
package game

import (
	"encoding/json"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/game-coordinator/internal/protocol"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
)

// Phase 遊戲階段
type Phase string

const (
	PhaseWaiting    Phase = "waiting"     // 等待玩家
	PhaseInProgress Phase = "in_progress" // 遊戲進行中
	PhaseFinished   Phase = "finished"    // 遊戲結束
)

// RejectReason 落子被拒的原因
type RejectReason string

const (
	ReasonOutOfTurn         RejectReason = "out_of_turn"
	ReasonOutOfBounds       RejectReason = "out_of_bounds"
	ReasonCellOccupied      RejectReason = "cell_occupied"
	ReasonGameNotInProgress RejectReason = "game_not_in_progress"
)

// OutcomeKind 落子結果類型
type OutcomeKind int

const (
	Accepted OutcomeKind = iota + 1
	Rejected
	GameOver
)

// String 返回結果類型名稱
func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case GameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

// Outcome 落子結果
//
//   - Accepted：Effects 廣播給所有人
//   - Rejected：Reply 只回給落子者，狀態不變
//   - GameOver：Effects 廣播給所有人，遊戲進入 finished
type Outcome struct {
	Kind    OutcomeKind
	Reason  RejectReason
	Result  Result
	Effects []protocol.Envelope
	Reply   *protocol.Envelope
}

// Result 遊戲最終結果
type Result struct {
	Draw   bool       `json:"draw"`
	Winner *uuid.UUID `json:"winner,omitempty"`
	Seat   Seat       `json:"seat,omitempty"`
}

// RuleEngine 回合制遊戲的規則引擎
//
// 任何遊戲只要實作這個介面就能被協調器驅動。
type RuleEngine interface {
	// Name 遊戲名稱
	Name() string

	// MinPlayers / MaxPlayers 開局所需的人數範圍
	MinPlayers() int
	MaxPlayers() int

	// Init 分配座位並返回開局訊息
	//
	// 只能呼叫一次，且 players 至少要有 MinPlayers 個不重複的玩家，
	// 否則返回 INVARIANT_VIOLATION 錯誤。
	Init(players []uuid.UUID) (protocol.Envelope, error)

	// ApplyMove 驗證並套用一次落子
	//
	// payload 無法解析時返回 PROTOCOL_ERROR；規則違反不是錯誤，
	// 而是 Kind 為 Rejected 的 Outcome。
	ApplyMove(player uuid.UUID, payload json.RawMessage) (Outcome, error)

	// Phase 目前階段
	Phase() Phase

	// Snapshot 返回可序列化的狀態副本
	Snapshot() any
}

// Factory 建立規則引擎
type Factory func(rng *rand.Rand) RuleEngine

var factories = map[string]Factory{
	"tictactoe": func(rng *rand.Rand) RuleEngine { return NewTicTacToe(rng) },
}

// New 依名稱建立規則引擎
func New(name string, rng *rand.Rand) (RuleEngine, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, apperrors.ErrUnknownGame.WithDetails(name)
	}
	return factory(rng), nil
}

// Names 返回所有已註冊的遊戲名稱
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
