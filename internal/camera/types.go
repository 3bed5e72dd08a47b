package camera

import (
	"context"
	"image"
)

// Status はキャプチャセッションの状態を表す
type Status string

const (
	StatusIdle      Status = "idle"      // ストリーム未接続
	StatusStarting  Status = "starting"  // ストリーム取得中
	StatusActive    Status = "active"    // ストリーム接続済み
	StatusCapturing Status = "capturing" // 自動キャプチャ実行中
	StatusStopping  Status = "stopping"  // ストリーム解放中
	StatusError     Status = "error"     // 開始に失敗した
)

// Constraints はストリーム取得時の要求条件
// Width/Height/FrameRate は理想値であり、デバイスが対応しない場合は近い値が使われる
type Constraints struct {
	DeviceID  string // 空の場合は最初に見つかったデバイス
	Width     int    // 理想の幅
	Height    int    // 理想の高さ
	FrameRate int    // 理想のフレームレート
}

// DefaultConstraints はデフォルトの要求条件を返す
func DefaultConstraints() Constraints {
	return Constraints{
		Width:     1280,
		Height:    720,
		FrameRate: 15,
	}
}

// TrackKind はトラックの種類
type TrackKind string

// TrackKindVideo は映像トラック
const TrackKindVideo TrackKind = "video"

// Track はストリームを構成するハードウェアトラック
type Track interface {
	ID() string
	Kind() TrackKind

	// Stop はトラックを停止してハードウェアを解放する。複数回呼んでもよい
	Stop()

	// Stopped はトラックが停止済みかを返す
	Stopped() bool

	// Ended はトラックが停止した時点で閉じられる。ハードウェア側の終了も含む
	Ended() <-chan struct{}
}

// Stream はカメラから取得した映像ストリーム
type Stream interface {
	ID() string
	DeviceID() string
	Tracks() []Track

	// Size は現在のフレームサイズを返す。まだフレームが無い場合は 0, 0
	Size() (width, height int)

	// Frame は現在のフレームを返す
	Frame(ctx context.Context) (image.Image, error)
}

// MediaSource はカメラストリームを取得する
type MediaSource interface {
	// Open は条件に合うストリームを取得する。失敗時は *MediaError を返す
	Open(ctx context.Context, constraints Constraints) (Stream, error)

	// Devices は利用可能なカメラデバイスを列挙する
	Devices(ctx context.Context) ([]DeviceInfo, error)
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device      string       `json:"device"`      // デバイスパス
	Name        string       `json:"name"`        // デバイス名
	Driver      string       `json:"driver"`      // ドライバー名
	Resolutions []Resolution `json:"resolutions"` // サポートされる解像度
	Formats     []string     `json:"formats"`     // サポートされるフォーマット
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// tracksLive はストリームに停止していないトラックが残っているかを返す
func tracksLive(stream Stream) bool {
	if stream == nil {
		return false
	}
	for _, track := range stream.Tracks() {
		if !track.Stopped() {
			return true
		}
	}
	return false
}

// tracksEnded はストリームの全トラックが終了したら閉じられるチャンネルを返す
func tracksEnded(stream Stream) <-chan struct{} {
	ended := make(chan struct{})
	go func() {
		for _, track := range stream.Tracks() {
			<-track.Ended()
		}
		close(ended)
	}()
	return ended
}

// stopTracks はストリームの全トラックを停止する
func stopTracks(stream Stream) {
	if stream == nil {
		return
	}
	for _, track := range stream.Tracks() {
		track.Stop()
	}
}
