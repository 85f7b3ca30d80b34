package game

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/game-coordinator/internal/protocol"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
)

// Seat 座位（格子狀態也用同一個型別）
type Seat int

const (
	SeatNone Seat = iota // 空格 / 未入座
	SeatA                // X，先手
	SeatB                // O
)

// String 返回座位符號
func (s Seat) String() string {
	switch s {
	case SeatA:
		return "X"
	case SeatB:
		return "O"
	default:
		return ""
	}
}

// MarshalText 以符號序列化
func (s Seat) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const boardSize = 3

// winLines 所有可能連線的座標 {x, y}：3 橫、3 直、2 斜
var winLines = [8][3][2]int{
	{{0, 0}, {1, 0}, {2, 0}},
	{{0, 1}, {1, 1}, {2, 1}},
	{{0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {0, 1}, {0, 2}},
	{{1, 0}, {1, 1}, {1, 2}},
	{{2, 0}, {2, 1}, {2, 2}},
	{{0, 0}, {1, 1}, {2, 2}},
	{{2, 0}, {1, 1}, {0, 2}},
}

// TicTacToe 3×3 井字棋
//
// 狀態：
//   - board[y][x]：格子一旦非空就不再改變
//   - turnIndex：每次成功落子 +1，turnIndex % 2 決定輪到誰（SeatA 先手）
//   - seatA / seatB：Init 時分配一次，之後不變
type TicTacToe struct {
	rng *rand.Rand

	board     [boardSize][boardSize]Seat
	turnIndex int
	seatA     uuid.UUID
	seatB     uuid.UUID
	assigned  bool
	phase     Phase
	result    *Result
}

// NewTicTacToe 創建井字棋引擎
//
// rng 決定座位分配；固定種子可得到可重現的結果。
func NewTicTacToe(rng *rand.Rand) *TicTacToe {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &TicTacToe{
		rng:   rng,
		phase: PhaseWaiting,
	}
}

// Name 遊戲名稱
func (t *TicTacToe) Name() string { return "tictactoe" }

// MinPlayers 最少玩家數
func (t *TicTacToe) MinPlayers() int { return 2 }

// MaxPlayers 最多玩家數
func (t *TicTacToe) MaxPlayers() int { return 2 }

// Phase 目前階段
func (t *TicTacToe) Phase() Phase { return t.phase }

// Init 分配座位
//
// 從前 MaxPlayers 位候選人中隨機抽一個索引 [0, n) 坐 SeatA，另一位坐 SeatB。
func (t *TicTacToe) Init(players []uuid.UUID) (protocol.Envelope, error) {
	if t.assigned {
		return protocol.Envelope{}, apperrors.ErrSeatsAlreadyAssigned
	}
	if len(players) < t.MinPlayers() {
		return protocol.Envelope{}, apperrors.ErrNotEnoughPlayers.
			WithDetails(fmt.Sprintf("have %d, need %d", len(players), t.MinPlayers()))
	}

	candidates := players
	if len(candidates) > t.MaxPlayers() {
		candidates = candidates[:t.MaxPlayers()]
	}
	if candidates[0] == candidates[1] {
		return protocol.Envelope{}, apperrors.ErrNotEnoughPlayers.WithDetails("duplicate player")
	}

	n := t.rng.IntN(len(candidates))
	t.seatA = candidates[n]
	t.seatB = candidates[1-n]
	t.assigned = true
	t.phase = PhaseInProgress

	return protocol.GameStarted(t.seatA, t.seatB), nil
}

// ApplyMove 驗證並套用一次落子
//
// 檢查順序：遊戲階段 → 回合 → 邊界 → 佔用。
func (t *TicTacToe) ApplyMove(player uuid.UUID, payload json.RawMessage) (Outcome, error) {
	move, err := protocol.DecodeMove(payload)
	if err != nil {
		return Outcome{}, err
	}

	if t.phase != PhaseInProgress {
		return reject(ReasonGameNotInProgress, move), nil
	}
	seat := t.SeatOf(player)
	if seat == SeatNone || seat != t.ToMove() {
		return reject(ReasonOutOfTurn, move), nil
	}
	if move.X < 0 || move.X >= boardSize || move.Y < 0 || move.Y >= boardSize {
		return reject(ReasonOutOfBounds, move), nil
	}
	if t.board[move.Y][move.X] != SeatNone {
		return reject(ReasonCellOccupied, move), nil
	}

	t.board[move.Y][move.X] = seat
	t.turnIndex++

	effects := []protocol.Envelope{
		protocol.MoveAccepted(move.X, move.Y, seat.String(), t.turnIndex),
	}

	if line, ok := t.winningLine(seat); ok {
		winner := player
		t.finish(Result{Winner: &winner, Seat: seat})
		effects = append(effects, protocol.GameOverWin(seat.String(), winner, line))
		return Outcome{Kind: GameOver, Result: *t.result, Effects: effects}, nil
	}

	if t.turnIndex == boardSize*boardSize {
		t.finish(Result{Draw: true})
		effects = append(effects, protocol.GameOverDraw())
		return Outcome{Kind: GameOver, Result: *t.result, Effects: effects}, nil
	}

	return Outcome{Kind: Accepted, Effects: effects}, nil
}

// SeatOf 返回玩家的座位，未入座返回 SeatNone
func (t *TicTacToe) SeatOf(player uuid.UUID) Seat {
	if !t.assigned {
		return SeatNone
	}
	switch player {
	case t.seatA:
		return SeatA
	case t.seatB:
		return SeatB
	default:
		return SeatNone
	}
}

// ToMove 返回目前輪到的座位
func (t *TicTacToe) ToMove() Seat {
	if t.turnIndex%2 == 0 {
		return SeatA
	}
	return SeatB
}

// TurnIndex 已成功落子的次數
func (t *TicTacToe) TurnIndex() int { return t.turnIndex }

// Board 返回棋盤副本
func (t *TicTacToe) Board() [boardSize][boardSize]Seat { return t.board }

// Seats 返回座位分配
func (t *TicTacToe) Seats() (seatA, seatB uuid.UUID, ok bool) {
	return t.seatA, t.seatB, t.assigned
}

// State 井字棋狀態快照
type State struct {
	Board     [boardSize][boardSize]Seat `json:"board"`
	TurnIndex int                        `json:"turn_index"`
	ToMove    Seat                       `json:"to_move,omitempty"`
	SeatA     *uuid.UUID                 `json:"seat_a,omitempty"`
	SeatB     *uuid.UUID                 `json:"seat_b,omitempty"`
	Phase     Phase                      `json:"phase"`
	Result    *Result                    `json:"result,omitempty"`
}

// Snapshot 返回狀態副本
func (t *TicTacToe) Snapshot() any {
	state := State{
		Board:     t.board,
		TurnIndex: t.turnIndex,
		Phase:     t.phase,
	}
	if t.phase == PhaseInProgress {
		state.ToMove = t.ToMove()
	}
	if t.assigned {
		a, b := t.seatA, t.seatB
		state.SeatA, state.SeatB = &a, &b
	}
	if t.result != nil {
		r := *t.result
		state.Result = &r
	}
	return state
}

// winningLine 檢查 seat 是否連成一線
func (t *TicTacToe) winningLine(seat Seat) ([][2]int, bool) {
	for _, line := range winLines {
		complete := true
		for _, cell := range line {
			if t.board[cell[1]][cell[0]] != seat {
				complete = false
				break
			}
		}
		if complete {
			return [][2]int{line[0], line[1], line[2]}, true
		}
	}
	return nil, false
}

func (t *TicTacToe) finish(result Result) {
	t.phase = PhaseFinished
	t.result = &result
}

func reject(reason RejectReason, move protocol.MoveData) Outcome {
	reply := protocol.MoveRejected(string(reason), move.X, move.Y)
	return Outcome{Kind: Rejected, Reason: reason, Reply: &reply}
}
