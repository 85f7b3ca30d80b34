// Package errors 提供遊戲協調器的錯誤分類
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeProtocol 客戶端送來無法解析的訊息
	ErrCodeProtocol = "PROTOCOL_ERROR"
	// ErrCodeRuleViolation 違反遊戲規則的落子
	ErrCodeRuleViolation = "RULE_VIOLATION"
	// ErrCodeDelivery 訊息無法投遞給某個連接
	ErrCodeDelivery = "DELIVERY_FAILURE"
	// ErrCodeInvariant 協調器內部不變式被破壞
	ErrCodeInvariant = "INVARIANT_VIOLATION"
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeAlreadyExists 資源已存在
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeInvalidInput 無效輸入（配置、參數）
	ErrCodeInvalidInput = "INVALID_INPUT"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Details != "" && e.Err != nil {
		return fmt.Sprintf("[%s] %s (%s): %v", e.Code, e.Message, e.Details, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Details)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本
//
// 預定義錯誤是共用的變數，不能直接修改，所以這裡複製一份。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrPlayerNotFound 玩家不在連接表中（可能已斷線）
	ErrPlayerNotFound = New(ErrCodeNotFound, "player not connected")

	// ErrPlayerAlreadyConnected 同一個玩家 ID 重複連接
	ErrPlayerAlreadyConnected = New(ErrCodeAlreadyExists, "player already connected")

	// ErrMalformedPayload 無法解析的客戶端訊息
	ErrMalformedPayload = New(ErrCodeProtocol, "malformed payload")

	// ErrSerialization 無法序列化的訊息
	ErrSerialization = New(ErrCodeProtocol, "could not serialize message")

	// ErrNotEnoughPlayers 人數不足時就嘗試分配座位
	ErrNotEnoughPlayers = New(ErrCodeInvariant, "not enough players to assign seats")

	// ErrSeatsAlreadyAssigned 座位只能分配一次
	ErrSeatsAlreadyAssigned = New(ErrCodeInvariant, "seats already assigned")

	// ErrSendBufferFull 連接的發送緩衝區已滿
	ErrSendBufferFull = New(ErrCodeDelivery, "send buffer full")

	// ErrSinkClosed 連接已關閉
	ErrSinkClosed = New(ErrCodeDelivery, "connection closed")

	// ErrCoordinatorStopped 協調器已停止
	ErrCoordinatorStopped = New(ErrCodeUnavailable, "coordinator stopped")

	// ErrEventBufferFull 事件轉送緩衝區已滿
	ErrEventBufferFull = New(ErrCodeUnavailable, "event buffer full")

	// ErrUnknownGame 未註冊的遊戲類型
	ErrUnknownGame = New(ErrCodeInvalidInput, "unknown game type")
)

// hasCode 檢查錯誤鏈中是否有指定錯誤碼的 AppError
func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsProtocolError 檢查是否為協議錯誤
func IsProtocolError(err error) bool {
	return hasCode(err, ErrCodeProtocol)
}

// IsRuleViolation 檢查是否為規則違反
func IsRuleViolation(err error) bool {
	return hasCode(err, ErrCodeRuleViolation)
}

// IsDeliveryFailure 檢查是否為投遞失敗
func IsDeliveryFailure(err error) bool {
	return hasCode(err, ErrCodeDelivery)
}

// IsInvariantViolation 檢查是否為不變式違反
func IsInvariantViolation(err error) bool {
	return hasCode(err, ErrCodeInvariant)
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyExists 檢查是否為已存在錯誤
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrCodeAlreadyExists)
}

// IsUnavailable 檢查是否為服務不可用
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsInvalidInput 檢查是否為無效輸入
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}
