// Package protocol 定義協調器與客戶端之間交換的訊息格式
//
// 所有訊息都是 {"type": ..., "data": ...} 的信封（Envelope），
// type 決定 data 的結構：
//
//	連接生命週期：ConnectionSuccess / ClientConnected / ClientDisconnected
//	遊戲事件：    GameStarted / MoveAccepted / MoveRejected / GameOver
//	客戶端輸入：  Move（唯一接受的入站類型）
package protocol

import (
	"github.com/google/uuid"
)

// Type 訊息類型
type Type string

const (
	TypeConnectionSuccess  Type = "ConnectionSuccess"  // 單播給剛連上的玩家
	TypeClientConnected    Type = "ClientConnected"    // 廣播給其他玩家
	TypeClientDisconnected Type = "ClientDisconnected" // 廣播給剩下的玩家
	TypeGameStarted        Type = "GameStarted"        // 座位分配完成
	TypeMoveAccepted       Type = "MoveAccepted"       // 落子成功（廣播）
	TypeMoveRejected       Type = "MoveRejected"       // 落子被拒（只回給落子者）
	TypeGameOver           Type = "GameOver"           // 勝負或和局
	TypeMove               Type = "Move"               // 客戶端 → 協調器
)

// ReasonMalformedPayload 無法解析的入站訊息的拒絕原因
const ReasonMalformedPayload = "malformed_payload"

// 結果類型
const (
	OutcomeWin  = "win"
	OutcomeDraw = "draw"
)

// Envelope 出站訊息
//
// Data 保留具體的 payload 型別，直到 Encode 時才序列化，
// 方便測試直接斷言內容。
type Envelope struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// PlayerData 玩家資訊
type PlayerData struct {
	PlayerID uuid.UUID `json:"player_id"`
	Name     string    `json:"name,omitempty"`
}

// DisconnectData 斷線通知
type DisconnectData struct {
	PlayerID uuid.UUID `json:"player_id"`
}

// GameStartedData 遊戲開始（座位分配結果）
type GameStartedData struct {
	SeatA uuid.UUID `json:"seat_a"`
	SeatB uuid.UUID `json:"seat_b"`
}

// MoveData 客戶端落子
type MoveData struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MoveAcceptedData 落子成功
type MoveAcceptedData struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Seat      string `json:"seat"`
	TurnIndex int    `json:"turn_index"`
}

// MoveRejectedData 落子被拒
//
// 無法解析的訊息沒有座標，X / Y 為 nil。
type MoveRejectedData struct {
	Reason string `json:"reason"`
	X      *int   `json:"x,omitempty"`
	Y      *int   `json:"y,omitempty"`
}

// GameOverData 遊戲結束
type GameOverData struct {
	Outcome  string     `json:"outcome"`
	Seat     string     `json:"seat,omitempty"`
	PlayerID *uuid.UUID `json:"player_id,omitempty"`
	Line     [][2]int   `json:"line,omitempty"`
}

// ConnectionSuccess 建立 ConnectionSuccess 訊息
func ConnectionSuccess(id uuid.UUID, name string) Envelope {
	return Envelope{Type: TypeConnectionSuccess, Data: PlayerData{PlayerID: id, Name: name}}
}

// ClientConnected 建立 ClientConnected 訊息
func ClientConnected(id uuid.UUID, name string) Envelope {
	return Envelope{Type: TypeClientConnected, Data: PlayerData{PlayerID: id, Name: name}}
}

// ClientDisconnected 建立 ClientDisconnected 訊息
func ClientDisconnected(id uuid.UUID) Envelope {
	return Envelope{Type: TypeClientDisconnected, Data: DisconnectData{PlayerID: id}}
}

// GameStarted 建立 GameStarted 訊息
func GameStarted(seatA, seatB uuid.UUID) Envelope {
	return Envelope{Type: TypeGameStarted, Data: GameStartedData{SeatA: seatA, SeatB: seatB}}
}

// MoveAccepted 建立 MoveAccepted 訊息
func MoveAccepted(x, y int, seat string, turnIndex int) Envelope {
	return Envelope{Type: TypeMoveAccepted, Data: MoveAcceptedData{X: x, Y: y, Seat: seat, TurnIndex: turnIndex}}
}

// MoveRejected 建立帶座標的 MoveRejected 訊息
func MoveRejected(reason string, x, y int) Envelope {
	return Envelope{Type: TypeMoveRejected, Data: MoveRejectedData{Reason: reason, X: &x, Y: &y}}
}

// Malformed 建立無法解析訊息的拒絕回覆
func Malformed() Envelope {
	return Envelope{Type: TypeMoveRejected, Data: MoveRejectedData{Reason: ReasonMalformedPayload}}
}

// GameOverWin 建立勝利訊息
func GameOverWin(seat string, winner uuid.UUID, line [][2]int) Envelope {
	return Envelope{Type: TypeGameOver, Data: GameOverData{
		Outcome:  OutcomeWin,
		Seat:     seat,
		PlayerID: &winner,
		Line:     line,
	}}
}

// GameOverDraw 建立和局訊息
func GameOverDraw() Envelope {
	return Envelope{Type: TypeGameOver, Data: GameOverData{Outcome: OutcomeDraw}}
}
