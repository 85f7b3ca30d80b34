package protocol

import (
	"bytes"
	"encoding/json"

	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
)

// Inbound 入站訊息（data 延後解析）
type Inbound struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode 序列化出站訊息
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProtocol, "could not serialize message").
			WithDetails(string(env.Type))
	}
	return data, nil
}

// Decode 解析入站訊息的外層信封
//
// 只檢查結構；type 是否被接受由呼叫者決定。
func Decode(raw []byte) (Inbound, error) {
	var in Inbound
	if len(bytes.TrimSpace(raw)) == 0 {
		return in, apperrors.ErrMalformedPayload.WithDetails("empty message")
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, apperrors.Wrap(err, apperrors.ErrCodeProtocol, "malformed payload")
	}
	if in.Type == "" {
		return in, apperrors.ErrMalformedPayload.WithDetails("missing type")
	}
	return in, nil
}

// DecodeMove 解析 Move 的 data
//
// x / y 都必須存在且為整數；範圍由規則引擎檢查。
func DecodeMove(data json.RawMessage) (MoveData, error) {
	var raw struct {
		X *int `json:"x"`
		Y *int `json:"y"`
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return MoveData{}, apperrors.Wrap(err, apperrors.ErrCodeProtocol, "malformed move")
	}
	if raw.X == nil || raw.Y == nil {
		return MoveData{}, apperrors.ErrMalformedPayload.WithDetails("move requires x and y")
	}

	return MoveData{X: *raw.X, Y: *raw.Y}, nil
}
