package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"syscall"
)

var (
	// ErrNotActive はストリームが接続されていない状態で操作した場合のエラー
	ErrNotActive = errors.New("カメラが起動していません")
	// ErrNoFrame はフレームサイズがまだ 0 の場合のエラー
	ErrNoFrame = errors.New("フレームがまだ取得されていません")
	// ErrAutoCaptureRunning は自動キャプチャの二重起動エラー
	ErrAutoCaptureRunning = errors.New("自動キャプチャは既に実行中です")
	// ErrQuotaReached は残り枠が無い状態で自動キャプチャを要求した場合のエラー
	ErrQuotaReached = errors.New("画像の上限に達しています")
	// ErrInvalidCount は撮影枚数が 1 未満の場合のエラー
	ErrInvalidCount = errors.New("撮影枚数は1枚以上である必要があります")
	// ErrInvalidInterval は撮影間隔が範囲外の場合のエラー
	ErrInvalidInterval = errors.New("撮影間隔が範囲外です")
)

// ErrorCategory はカメラアクセス失敗の分類
type ErrorCategory string

const (
	CategoryPermissionDenied ErrorCategory = "permission_denied" // アクセス権限が無い
	CategoryNoDevice         ErrorCategory = "no_device"         // デバイスが存在しない
	CategoryDeviceBusy       ErrorCategory = "device_busy"       // 他のプロセスが使用中
	CategoryUnsupported      ErrorCategory = "unsupported"       // キャプチャ手段が無い
	CategoryUnknown          ErrorCategory = "unknown"
)

// MediaError はカメラアクセスの失敗を表す
// 開始処理はこのエラーで終了し、自動リトライは行わない
type MediaError struct {
	Category ErrorCategory
	Device   string
	Err      error
}

// NewMediaError は新しいMediaErrorを作成する
func NewMediaError(category ErrorCategory, device string, err error) *MediaError {
	return &MediaError{Category: category, Device: device, Err: err}
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("カメラへのアクセスに失敗 (%s): %s", e.Category, e.Device)
	}
	return fmt.Sprintf("カメラへのアクセスに失敗 (%s): %s: %v", e.Category, e.Device, e.Err)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// Message は利用者に表示する対処方法付きのメッセージを返す
func (e *MediaError) Message() string {
	const prefix = "カメラへのアクセスに失敗しました。"
	switch e.Category {
	case CategoryPermissionDenied:
		return prefix + "権限がありません。videoグループへの参加またはデバイスの権限を確認してください。"
	case CategoryNoDevice:
		return prefix + "接続されているカメラが見つかりません。"
	case CategoryDeviceBusy:
		return prefix + "カメラが他のアプリケーションで使用されています。"
	case CategoryUnsupported:
		return prefix + "ffmpeg がインストールされているか確認してください。"
	default:
		if e.Err != nil {
			return prefix + e.Err.Error()
		}
		return prefix + "不明なエラーです。"
	}
}

// CategoryOf はエラーに含まれるMediaErrorの分類を返す
// MediaErrorでない場合は空文字を返す
func CategoryOf(err error) ErrorCategory {
	var merr *MediaError
	if errors.As(err, &merr) {
		return merr.Category
	}
	return ""
}

// ClassifyOpenError はデバイスオープン時のOSエラーを分類する
func ClassifyOpenError(device string, err error) *MediaError {
	var merr *MediaError
	if errors.As(err, &merr) {
		return merr
	}

	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return NewMediaError(CategoryPermissionDenied, device, err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return NewMediaError(CategoryNoDevice, device, err)
	case errors.Is(err, syscall.EBUSY):
		return NewMediaError(CategoryDeviceBusy, device, err)
	case errors.Is(err, exec.ErrNotFound):
		return NewMediaError(CategoryUnsupported, device, err)
	}

	var ferr *ffmpegError
	if errors.As(err, &ferr) {
		return NewMediaError(classifyStderr(ferr.Stderr), device, err)
	}

	return NewMediaError(CategoryUnknown, device, err)
}

// classifyStderr はffmpegの標準エラー出力から分類を推定する
func classifyStderr(stderr string) ErrorCategory {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "permission denied"):
		return CategoryPermissionDenied
	case strings.Contains(s, "no such file or directory"), strings.Contains(s, "no such device"):
		return CategoryNoDevice
	case strings.Contains(s, "device or resource busy"):
		return CategoryDeviceBusy
	default:
		return CategoryUnknown
	}
}

// ffmpegError はffmpeg実行の失敗を標準エラー出力付きで保持する
type ffmpegError struct {
	Err    error
	Stderr string
}

func (e *ffmpegError) Error() string {
	return fmt.Sprintf("%v (stderr: %s)", e.Err, strings.TrimSpace(e.Stderr))
}

func (e *ffmpegError) Unwrap() error {
	return e.Err
}
