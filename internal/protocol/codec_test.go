package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/game-coordinator/internal/protocol"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncode_WireFormat 測試出站訊息的線上格式
func TestEncode_WireFormat(t *testing.T) {
	id := uuid.MustParse("6f1c1b52-8d3a-4b7e-9a43-2d0f7a1e5c11")
	other := uuid.MustParse("0b9f2c44-1e6d-4f0a-8c2b-5a7d3e9f1b22")

	tests := []struct {
		name     string
		env      protocol.Envelope
		expected string
	}{
		{
			name:     "connection success",
			env:      protocol.ConnectionSuccess(id, "alice"),
			expected: `{"type":"ConnectionSuccess","data":{"player_id":"6f1c1b52-8d3a-4b7e-9a43-2d0f7a1e5c11","name":"alice"}}`,
		},
		{
			name:     "client disconnected",
			env:      protocol.ClientDisconnected(id),
			expected: `{"type":"ClientDisconnected","data":{"player_id":"6f1c1b52-8d3a-4b7e-9a43-2d0f7a1e5c11"}}`,
		},
		{
			name:     "game started",
			env:      protocol.GameStarted(id, other),
			expected: `{"type":"GameStarted","data":{"seat_a":"6f1c1b52-8d3a-4b7e-9a43-2d0f7a1e5c11","seat_b":"0b9f2c44-1e6d-4f0a-8c2b-5a7d3e9f1b22"}}`,
		},
		{
			name:     "move accepted",
			env:      protocol.MoveAccepted(0, 2, "X", 1),
			expected: `{"type":"MoveAccepted","data":{"x":0,"y":2,"seat":"X","turn_index":1}}`,
		},
		{
			name:     "move rejected keeps zero coordinates",
			env:      protocol.MoveRejected("cell_occupied", 0, 0),
			expected: `{"type":"MoveRejected","data":{"reason":"cell_occupied","x":0,"y":0}}`,
		},
		{
			name:     "malformed rejection has no coordinates",
			env:      protocol.Malformed(),
			expected: `{"type":"MoveRejected","data":{"reason":"malformed_payload"}}`,
		},
		{
			name:     "draw",
			env:      protocol.GameOverDraw(),
			expected: `{"type":"GameOver","data":{"outcome":"draw"}}`,
		},
		{
			name:     "win",
			env:      protocol.GameOverWin("O", id, [][2]int{{0, 0}, {1, 1}, {2, 2}}),
			expected: `{"type":"GameOver","data":{"outcome":"win","seat":"O","player_id":"6f1c1b52-8d3a-4b7e-9a43-2d0f7a1e5c11","line":[[0,0],[1,1],[2,2]]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := protocol.Encode(tt.env)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

// TestEncode_Unserializable 測試無法序列化時回傳錯誤而不是 panic
func TestEncode_Unserializable(t *testing.T) {
	_, err := protocol.Encode(protocol.Envelope{Type: "Broken", Data: make(chan int)})
	require.Error(t, err)
	assert.True(t, apperrors.IsProtocolError(err))
}

// TestDecode 測試入站信封解析
func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantType  protocol.Type
		wantError bool
	}{
		{name: "move", raw: `{"type":"Move","data":{"x":1,"y":2}}`, wantType: protocol.TypeMove},
		{name: "unknown type still decodes", raw: `{"type":"Chat","data":{}}`, wantType: "Chat"},
		{name: "empty", raw: ``, wantError: true},
		{name: "whitespace", raw: "  \n", wantError: true},
		{name: "not json", raw: `hello`, wantError: true},
		{name: "array", raw: `[1,2]`, wantError: true},
		{name: "missing type", raw: `{"data":{"x":1,"y":1}}`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := protocol.Decode([]byte(tt.raw))
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, apperrors.IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, in.Type)
		})
	}
}

// TestDecodeMove 測試落子 data 解析
func TestDecodeMove(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		expected  protocol.MoveData
		wantError bool
	}{
		{name: "valid", data: `{"x":2,"y":0}`, expected: protocol.MoveData{X: 2, Y: 0}},
		{name: "out of range still decodes", data: `{"x":7,"y":-1}`, expected: protocol.MoveData{X: 7, Y: -1}},
		{name: "missing y", data: `{"x":1}`, wantError: true},
		{name: "null", data: `null`, wantError: true},
		{name: "float", data: `{"x":1.5,"y":0}`, wantError: true},
		{name: "string coordinate", data: `{"x":"1","y":0}`, wantError: true},
		{name: "unknown field", data: `{"x":1,"y":1,"z":1}`, wantError: true},
		{name: "empty", data: ``, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			move, err := protocol.DecodeMove(json.RawMessage(tt.data))
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, apperrors.IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, move)
		})
	}
}
