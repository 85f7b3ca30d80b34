package game_test

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/game-coordinator/internal/game"
	"github.com/koopa0/system-design/game-coordinator/internal/protocol"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func move(x, y int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"x":%d,"y":%d}`, x, y))
}

// startedGame 建立已開局的遊戲，返回 (引擎, SeatA 玩家, SeatB 玩家)
func startedGame(t *testing.T) (*game.TicTacToe, uuid.UUID, uuid.UUID) {
	t.Helper()

	ttt := game.NewTicTacToe(newRNG(42))
	_, err := ttt.Init([]uuid.UUID{uuid.New(), uuid.New()})
	require.NoError(t, err)

	a, b, ok := ttt.Seats()
	require.True(t, ok)
	return ttt, a, b
}

// TestTicTacToe_Init 測試座位分配
func TestTicTacToe_Init(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	ttt := game.NewTicTacToe(newRNG(1))

	assert.Equal(t, game.PhaseWaiting, ttt.Phase())

	env, err := ttt.Init([]uuid.UUID{p1, p2})
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeGameStarted, env.Type)
	assert.Equal(t, game.PhaseInProgress, ttt.Phase())

	a, b, ok := ttt.Seats()
	require.True(t, ok)
	assert.NotEqual(t, a, b)
	assert.ElementsMatch(t, []uuid.UUID{p1, p2}, []uuid.UUID{a, b})
	assert.Equal(t, protocol.GameStartedData{SeatA: a, SeatB: b}, env.Data)
	assert.Equal(t, game.SeatA, ttt.SeatOf(a))
	assert.Equal(t, game.SeatB, ttt.SeatOf(b))
	assert.Equal(t, game.SeatNone, ttt.SeatOf(uuid.New()))
}

// TestTicTacToe_InitInvariants 測試 Init 的前置條件
func TestTicTacToe_InitInvariants(t *testing.T) {
	p := uuid.New()

	tests := []struct {
		name    string
		players []uuid.UUID
	}{
		{name: "no players", players: nil},
		{name: "one player", players: []uuid.UUID{p}},
		{name: "duplicate player", players: []uuid.UUID{p, p}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttt := game.NewTicTacToe(newRNG(1))
			_, err := ttt.Init(tt.players)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvariantViolation(err))
			assert.Equal(t, game.PhaseWaiting, ttt.Phase())
		})
	}

	t.Run("second init", func(t *testing.T) {
		ttt, a, b := startedGame(t)
		_, err := ttt.Init([]uuid.UUID{uuid.New(), uuid.New()})
		require.Error(t, err)
		assert.True(t, apperrors.IsInvariantViolation(err))

		a2, b2, _ := ttt.Seats()
		assert.Equal(t, a, a2)
		assert.Equal(t, b, b2)
	})
}

// TestTicTacToe_InitOnlySeatsFirstCandidates 測試超過人數上限時只從前兩位分配座位
func TestTicTacToe_InitOnlySeatsFirstCandidates(t *testing.T) {
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	ttt := game.NewTicTacToe(newRNG(7))

	_, err := ttt.Init([]uuid.UUID{p1, p2, p3})
	require.NoError(t, err)

	a, b, _ := ttt.Seats()
	assert.ElementsMatch(t, []uuid.UUID{p1, p2}, []uuid.UUID{a, b})
	assert.Equal(t, game.SeatNone, ttt.SeatOf(p3))
}

// TestTicTacToe_DeterministicSeed 測試相同種子得到相同座位
func TestTicTacToe_DeterministicSeed(t *testing.T) {
	players := []uuid.UUID{uuid.New(), uuid.New()}

	for seed := uint64(0); seed < 20; seed++ {
		first := game.NewTicTacToe(newRNG(seed))
		second := game.NewTicTacToe(newRNG(seed))
		_, err := first.Init(players)
		require.NoError(t, err)
		_, err = second.Init(players)
		require.NoError(t, err)

		a1, b1, _ := first.Seats()
		a2, b2, _ := second.Seats()
		assert.Equal(t, a1, a2)
		assert.Equal(t, b1, b2)
	}
}

// TestTicTacToe_SeatDistribution 測試兩位玩家都有機會坐 SeatA
func TestTicTacToe_SeatDistribution(t *testing.T) {
	players := []uuid.UUID{uuid.New(), uuid.New()}
	counts := map[uuid.UUID]int{}

	for seed := uint64(0); seed < 200; seed++ {
		ttt := game.NewTicTacToe(newRNG(seed))
		_, err := ttt.Init(players)
		require.NoError(t, err)
		a, _, _ := ttt.Seats()
		counts[a]++
	}

	assert.Positive(t, counts[players[0]])
	assert.Positive(t, counts[players[1]])
}

// TestTicTacToe_Alternation 測試回合交替與 turnIndex 遞增
func TestTicTacToe_Alternation(t *testing.T) {
	ttt, a, b := startedGame(t)

	assert.Equal(t, game.SeatA, ttt.ToMove())

	out, err := ttt.ApplyMove(a, move(0, 0))
	require.NoError(t, err)
	assert.Equal(t, game.Accepted, out.Kind)
	assert.Equal(t, 1, ttt.TurnIndex())
	assert.Equal(t, game.SeatB, ttt.ToMove())
	require.Len(t, out.Effects, 1)
	assert.Equal(t, protocol.MoveAccepted(0, 0, "X", 1), out.Effects[0])
	assert.Nil(t, out.Reply)

	out, err = ttt.ApplyMove(b, move(1, 1))
	require.NoError(t, err)
	assert.Equal(t, game.Accepted, out.Kind)
	assert.Equal(t, 2, ttt.TurnIndex())
	assert.Equal(t, game.SeatA, ttt.ToMove())
	assert.Equal(t, protocol.MoveAccepted(1, 1, "O", 2), out.Effects[0])
}

// TestTicTacToe_OutOfTurn 測試非當前回合的落子被拒且可重複
func TestTicTacToe_OutOfTurn(t *testing.T) {
	ttt, _, b := startedGame(t)
	before := ttt.Snapshot()

	for range 3 {
		out, err := ttt.ApplyMove(b, move(0, 0))
		require.NoError(t, err)
		assert.Equal(t, game.Rejected, out.Kind)
		assert.Equal(t, game.ReasonOutOfTurn, out.Reason)
		require.NotNil(t, out.Reply)
		assert.Equal(t, protocol.MoveRejected("out_of_turn", 0, 0), *out.Reply)
		assert.Empty(t, out.Effects)
	}

	assert.Equal(t, before, ttt.Snapshot())
}

// TestTicTacToe_SpectatorRejected 測試未入座的玩家不能落子
func TestTicTacToe_SpectatorRejected(t *testing.T) {
	ttt, _, _ := startedGame(t)

	out, err := ttt.ApplyMove(uuid.New(), move(0, 0))
	require.NoError(t, err)
	assert.Equal(t, game.ReasonOutOfTurn, out.Reason)
	assert.Equal(t, 0, ttt.TurnIndex())
}

// TestTicTacToe_OutOfBounds 測試超出棋盤的座標
func TestTicTacToe_OutOfBounds(t *testing.T) {
	coords := [][2]int{{3, 0}, {0, 3}, {-1, 0}, {0, -1}, {100, 100}}

	for _, c := range coords {
		t.Run(fmt.Sprintf("%d,%d", c[0], c[1]), func(t *testing.T) {
			ttt, a, _ := startedGame(t)

			out, err := ttt.ApplyMove(a, move(c[0], c[1]))
			require.NoError(t, err)
			assert.Equal(t, game.Rejected, out.Kind)
			assert.Equal(t, game.ReasonOutOfBounds, out.Reason)
			assert.Equal(t, 0, ttt.TurnIndex())
			assert.Equal(t, game.SeatA, ttt.ToMove())
		})
	}
}

// TestTicTacToe_CellOccupied 測試已佔用的格子不會被覆蓋
func TestTicTacToe_CellOccupied(t *testing.T) {
	ttt, a, b := startedGame(t)

	_, err := ttt.ApplyMove(a, move(1, 1))
	require.NoError(t, err)

	out, err := ttt.ApplyMove(b, move(1, 1))
	require.NoError(t, err)
	assert.Equal(t, game.Rejected, out.Kind)
	assert.Equal(t, game.ReasonCellOccupied, out.Reason)

	board := ttt.Board()
	assert.Equal(t, game.SeatA, board[1][1])
	assert.Equal(t, 1, ttt.TurnIndex())
	assert.Equal(t, game.SeatB, ttt.ToMove())
}

// TestTicTacToe_FilledCellsMatchTurnIndex 測試 N 次成功落子後恰有 N 個非空格
func TestTicTacToe_FilledCellsMatchTurnIndex(t *testing.T) {
	ttt, a, b := startedGame(t)
	players := map[game.Seat]uuid.UUID{game.SeatA: a, game.SeatB: b}
	rng := newRNG(99)

	for attempt := 0; attempt < 200 && ttt.Phase() == game.PhaseInProgress; attempt++ {
		mover := players[ttt.ToMove()]
		if rng.IntN(4) == 0 {
			mover = players[game.SeatA+game.SeatB-ttt.ToMove()]
		}
		_, err := ttt.ApplyMove(mover, move(rng.IntN(4), rng.IntN(4)))
		require.NoError(t, err)

		filled := 0
		board := ttt.Board()
		for y := range board {
			for x := range board[y] {
				if board[y][x] != game.SeatNone {
					filled++
				}
			}
		}
		require.Equal(t, ttt.TurnIndex(), filled)
	}
}

// TestTicTacToe_Win 測試各種連線的勝利判定
func TestTicTacToe_Win(t *testing.T) {
	tests := []struct {
		name  string
		moves [][2]int // SeatA 與 SeatB 交替
		line  [][2]int
		board *[3][3]game.Seat // 非 nil 時檢查最終棋盤
	}{
		{
			name:  "top row with O at (0,1) and (1,2)",
			moves: [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 2}, {2, 0}},
			line:  [][2]int{{0, 0}, {1, 0}, {2, 0}},
			board: &[3][3]game.Seat{
				{game.SeatA, game.SeatA, game.SeatA},
				{game.SeatB, game.SeatNone, game.SeatNone},
				{game.SeatNone, game.SeatB, game.SeatNone},
			},
		},
		{
			name:  "top row",
			moves: [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 0}},
			line:  [][2]int{{0, 0}, {1, 0}, {2, 0}},
		},
		{
			name:  "left column",
			moves: [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0, 2}},
			line:  [][2]int{{0, 0}, {0, 1}, {0, 2}},
		},
		{
			name:  "main diagonal",
			moves: [][2]int{{0, 0}, {1, 0}, {1, 1}, {2, 0}, {2, 2}},
			line:  [][2]int{{0, 0}, {1, 1}, {2, 2}},
		},
		{
			name:  "anti diagonal",
			moves: [][2]int{{2, 0}, {0, 0}, {1, 1}, {1, 0}, {0, 2}},
			line:  [][2]int{{2, 0}, {1, 1}, {0, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttt, a, b := startedGame(t)
			players := []uuid.UUID{a, b}

			var out game.Outcome
			for i, m := range tt.moves {
				var err error
				out, err = ttt.ApplyMove(players[i%2], move(m[0], m[1]))
				require.NoError(t, err)
			}

			last := tt.moves[len(tt.moves)-1]
			assert.Equal(t, game.GameOver, out.Kind)
			assert.Equal(t, game.PhaseFinished, ttt.Phase())
			require.Len(t, out.Effects, 2)
			assert.Equal(t, protocol.MoveAccepted(last[0], last[1], "X", len(tt.moves)), out.Effects[0])
			assert.Equal(t, protocol.GameOverWin("X", a, tt.line), out.Effects[1])
			require.NotNil(t, out.Result.Winner)
			assert.Equal(t, a, *out.Result.Winner)
			assert.Equal(t, game.SeatA, out.Result.Seat)
			assert.False(t, out.Result.Draw)
			if tt.board != nil {
				assert.Equal(t, *tt.board, ttt.Board())
			}
		})
	}
}

// TestTicTacToe_SeatBWins 測試後手勝利
func TestTicTacToe_SeatBWins(t *testing.T) {
	ttt, a, b := startedGame(t)
	moves := []struct {
		player uuid.UUID
		x, y   int
	}{
		{a, 0, 0}, {b, 0, 2}, {a, 1, 0}, {b, 1, 2}, {a, 2, 1}, {b, 2, 2},
	}

	var out game.Outcome
	for _, m := range moves {
		var err error
		out, err = ttt.ApplyMove(m.player, move(m.x, m.y))
		require.NoError(t, err)
	}

	assert.Equal(t, game.GameOver, out.Kind)
	assert.Equal(t, protocol.GameOverWin("O", b, [][2]int{{0, 2}, {1, 2}, {2, 2}}), out.Effects[1])
}

// TestTicTacToe_Draw 測試和局
func TestTicTacToe_Draw(t *testing.T) {
	ttt, a, b := startedGame(t)
	players := []uuid.UUID{a, b}

	// X O X
	// X O O
	// O X X
	moves := [][2]int{{0, 0}, {1, 0}, {2, 0}, {1, 1}, {0, 1}, {2, 1}, {1, 2}, {0, 2}, {2, 2}}

	var out game.Outcome
	for i, m := range moves {
		var err error
		out, err = ttt.ApplyMove(players[i%2], move(m[0], m[1]))
		require.NoError(t, err)
		if i < len(moves)-1 {
			require.Equal(t, game.Accepted, out.Kind, "move %d", i)
		}
	}

	assert.Equal(t, game.GameOver, out.Kind)
	assert.True(t, out.Result.Draw)
	assert.Nil(t, out.Result.Winner)
	assert.Equal(t, game.PhaseFinished, ttt.Phase())
	require.Len(t, out.Effects, 2)
	assert.Equal(t, protocol.GameOverDraw(), out.Effects[1])
}

// TestTicTacToe_NotInProgress 測試開局前與結束後的落子
func TestTicTacToe_NotInProgress(t *testing.T) {
	t.Run("before init", func(t *testing.T) {
		ttt := game.NewTicTacToe(newRNG(1))
		out, err := ttt.ApplyMove(uuid.New(), move(0, 0))
		require.NoError(t, err)
		assert.Equal(t, game.ReasonGameNotInProgress, out.Reason)
	})

	t.Run("after game over", func(t *testing.T) {
		ttt, a, b := startedGame(t)
		players := []uuid.UUID{a, b}
		for i, m := range [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 0}} {
			_, err := ttt.ApplyMove(players[i%2], move(m[0], m[1]))
			require.NoError(t, err)
		}

		out, err := ttt.ApplyMove(b, move(2, 2))
		require.NoError(t, err)
		assert.Equal(t, game.Rejected, out.Kind)
		assert.Equal(t, game.ReasonGameNotInProgress, out.Reason)
		assert.Equal(t, 5, ttt.TurnIndex())
	})
}

// TestTicTacToe_MalformedPayload 測試無法解析的落子
func TestTicTacToe_MalformedPayload(t *testing.T) {
	ttt, a, _ := startedGame(t)

	_, err := ttt.ApplyMove(a, json.RawMessage(`{"x":"a"}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsProtocolError(err))
	assert.Equal(t, 0, ttt.TurnIndex())
}

// TestTicTacToe_Snapshot 測試狀態快照的序列化
func TestTicTacToe_Snapshot(t *testing.T) {
	ttt, a, _ := startedGame(t)
	_, err := ttt.ApplyMove(a, move(2, 1))
	require.NoError(t, err)

	state, ok := ttt.Snapshot().(game.State)
	require.True(t, ok)
	assert.Equal(t, 1, state.TurnIndex)
	assert.Equal(t, game.SeatB, state.ToMove)
	assert.Equal(t, game.SeatA, state.Board[1][2])

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "in_progress", decoded["phase"])
	assert.Equal(t, "O", decoded["to_move"])
	assert.Equal(t, []any{
		[]any{"", "", ""},
		[]any{"", "", "X"},
		[]any{"", "", ""},
	}, decoded["board"])
}

// TestNew 測試依名稱建立引擎
func TestNew(t *testing.T) {
	engine, err := game.New("tictactoe", newRNG(1))
	require.NoError(t, err)
	assert.Equal(t, "tictactoe", engine.Name())
	assert.Equal(t, 2, engine.MinPlayers())
	assert.Equal(t, 2, engine.MaxPlayers())

	_, err = game.New("chess", newRNG(1))
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))

	assert.Equal(t, []string{"tictactoe"}, game.Names())
}
