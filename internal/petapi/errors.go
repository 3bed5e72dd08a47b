package petapi

import (
	"errors"
	"fmt"
)

// TransportError は通信自体の失敗（接続不可、タイムアウトなど）
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: 通信に失敗: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorDetails は予測エラーに付随する詳細
type ErrorDetails struct {
	Explanation        string  `json:"explanation"`
	ConfidenceDetected float64 `json:"confidence_detected"`
	ConfidenceRequired float64 `json:"confidence_required"`
	Recommendation     string  `json:"recommendation"`
}

// ServerError はサーバーが success=false またはエラーステータスを返した場合のエラー
type ServerError struct {
	Status       int
	Code         string // 機械可読なエラー種別（例: breed_not_recognized）。無い場合は空
	Message      string
	Details      *ErrorDetails
	LimitReached bool
	ImagesCount  int
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("サーバーエラー (status=%d, code=%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("サーバーエラー (status=%d): %s", e.Status, e.Message)
}

// ParseError はレスポンスがJSONとして解釈できない場合のエラー
type ParseError struct {
	Status  int
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("レスポンスの解析に失敗 (status=%d): %v: %q", e.Status, e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsLimitReached はエラーが画像上限到達を示すかを返す
func IsLimitReached(err error) bool {
	var serr *ServerError
	return errors.As(err, &serr) && serr.LimitReached
}
