package camera

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Frame はキャプチャ済みの1枚の画像
type Frame struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Data       []byte    `json:"-"` // JPEG画像データ
	Thumbnail  []byte    `json:"-"` // プレビュー用の縮小JPEG
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
}

// DataURL はフレームをdata URL形式 (data:image/jpeg;base64,...) で返す
func (f Frame) DataURL() string {
	return jpegDataURL(f.Data)
}

// ThumbnailDataURL はサムネイルをdata URL形式で返す
func (f Frame) ThumbnailDataURL() string {
	return jpegDataURL(f.Thumbnail)
}

func jpegDataURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

// EncoderOptions はフレームのエンコード設定
type EncoderOptions struct {
	JPEGQuality     int // 1-100
	ThumbnailWidth  int
	ThumbnailHeight int
}

// DefaultEncoderOptions はデフォルトのエンコード設定を返す
func DefaultEncoderOptions() EncoderOptions {
	return EncoderOptions{
		JPEGQuality:     90,
		ThumbnailWidth:  160,
		ThumbnailHeight: 120,
	}
}

// FrameEncoder はストリームの現在フレームを画像データに変換する
type FrameEncoder struct {
	opts EncoderOptions
}

// NewFrameEncoder は新しいFrameEncoderを作成する
func NewFrameEncoder(opts EncoderOptions) *FrameEncoder {
	defaults := DefaultEncoderOptions()
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaults.JPEGQuality
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = defaults.ThumbnailWidth
	}
	if opts.ThumbnailHeight <= 0 {
		opts.ThumbnailHeight = defaults.ThumbnailHeight
	}
	return &FrameEncoder{opts: opts}
}

// Encode は画像をオフスクリーンに描画してJPEGとサムネイルを持つFrameを作る
func (e *FrameEncoder) Encode(img image.Image, deviceID string) (Frame, error) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Frame{}, ErrNoFrame
	}

	// オフスクリーンへの描画
	canvas := imaging.Clone(img)

	data, err := e.encodeJPEG(canvas)
	if err != nil {
		return Frame{}, fmt.Errorf("フレームのエンコードに失敗: %w", err)
	}

	thumb := imaging.Fill(canvas, e.opts.ThumbnailWidth, e.opts.ThumbnailHeight, imaging.Center, imaging.Lanczos)
	thumbData, err := e.encodeJPEG(thumb)
	if err != nil {
		return Frame{}, fmt.Errorf("サムネイルのエンコードに失敗: %w", err)
	}

	return Frame{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		Data:       data,
		Thumbnail:  thumbData,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: time.Now(),
	}, nil
}

// EncodePreview はプレビュー用にJPEGだけを生成する
func (e *FrameEncoder) EncodePreview(img image.Image) ([]byte, error) {
	return e.encodeJPEG(img)
}

func (e *FrameEncoder) encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.opts.JPEGQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
