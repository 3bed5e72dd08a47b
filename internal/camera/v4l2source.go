package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

// V4L2Source はffmpegを使うLinux向けのMediaSource実装
type V4L2Source struct {
	discovery Discovery
	logger    *slog.Logger
}

// NewV4L2Source は新しいV4L2Sourceを作成する
func NewV4L2Source(discovery Discovery, logger *slog.Logger) *V4L2Source {
	if discovery == nil {
		discovery = NewLinuxDiscovery()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &V4L2Source{
		discovery: discovery,
		logger:    logger.With("component", "v4l2_source"),
	}
}

// Devices は検出されたカメラデバイスの情報を返す
func (v *V4L2Source) Devices(ctx context.Context) ([]DeviceInfo, error) {
	devices, err := v.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := v.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			v.logger.Warn("デバイス情報の取得に失敗しました", "device", device, "err", err)
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Open はデバイスを確認してからストリーミングを開始する
func (v *V4L2Source) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	device := constraints.DeviceID
	if device == "" {
		devices, err := v.discovery.ScanDevices(ctx)
		if err != nil {
			return nil, NewMediaError(CategoryUnknown, "", err)
		}
		if len(devices) == 0 {
			return nil, NewMediaError(CategoryNoDevice, "", fmt.Errorf("カメラデバイスが見つかりません"))
		}
		device = devices[0]
	}

	// 権限・存在・使用中を先に判定する
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, ClassifyOpenError(device, err)
	}
	_ = f.Close()

	capturer := NewV4L2Capturer(device, constraints.Width, constraints.Height, constraints.FrameRate)

	first, err := capturer.TestCapture(ctx)
	if err != nil {
		return nil, ClassifyOpenError(device, err)
	}

	stream := newV4L2Stream(device, v.logger)
	if err := stream.setLatest(first); err != nil {
		return nil, NewMediaError(CategoryUnknown, device, err)
	}

	if err := stream.start(capturer); err != nil {
		return nil, ClassifyOpenError(device, err)
	}

	width, height := stream.Size()
	v.logger.Info("ストリーミングを開始しました", "device", device, "width", width, "height", height)
	return stream, nil
}

// v4l2Stream はffmpegのMJPEG出力から最新フレームを保持するストリーム
type v4l2Stream struct {
	id       string
	deviceID string
	track    *v4l2Track
	logger   *slog.Logger

	frameChan chan []byte
	errorChan chan error
	wg        sync.WaitGroup

	mu     sync.RWMutex
	latest []byte
	width  int
	height int
}

func newV4L2Stream(device string, logger *slog.Logger) *v4l2Stream {
	return &v4l2Stream{
		id:        uuid.New().String(),
		deviceID:  device,
		logger:    logger,
		frameChan: make(chan []byte, 10),
		errorChan: make(chan error, 5),
	}
}

func (s *v4l2Stream) ID() string       { return s.id }
func (s *v4l2Stream) DeviceID() string { return s.deviceID }
func (s *v4l2Stream) Tracks() []Track  { return []Track{s.track} }

// Size は最新フレームのサイズを返す
func (s *v4l2Stream) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Frame は最新フレームをデコードして返す
func (s *v4l2Stream) Frame(_ context.Context) (image.Image, error) {
	if s.track.Stopped() {
		return nil, ErrNotActive
	}

	s.mu.RLock()
	data := s.latest
	s.mu.RUnlock()

	if data == nil {
		return nil, ErrNoFrame
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// setLatest は最新フレームを更新する。サイズはJPEGヘッダーから取得する
func (s *v4l2Stream) setLatest(frame []byte) error {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("JPEGヘッダーの解析に失敗: %w", err)
	}

	s.mu.Lock()
	s.latest = frame
	s.width = cfg.Width
	s.height = cfg.Height
	s.mu.Unlock()
	return nil
}

// start はffmpegのストリーミングとフレーム転送ゴルーチンを開始する
func (s *v4l2Stream) start(capturer *V4L2Capturer) error {
	ctx, cancel := context.WithCancel(context.Background())

	exited, err := capturer.StartStream(ctx, s.frameChan, s.errorChan)
	if err != nil {
		cancel()
		return err
	}

	s.track = &v4l2Track{
		id:     uuid.New().String(),
		cancel: cancel,
		exited: exited,
		wait:   s.wg.Wait,
		ended:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.forwardFrames(ctx)
	return nil
}

// forwardFrames はキャプチャから届いたフレームを最新フレームとして保持する
func (s *v4l2Stream) forwardFrames(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-s.frameChan:
			if err := s.setLatest(frame); err != nil {
				s.logger.Debug("壊れたフレームを破棄しました", "device", s.deviceID, "err", err)
			}

		case err := <-s.errorChan:
			// ハードウェア側でストリームが終了した
			s.logger.Error("ストリームが停止しました", "device", s.deviceID, "err", err)
			s.track.markEnded()
			return
		}
	}
}

// v4l2Track はffmpegプロセスに対応する映像トラック
type v4l2Track struct {
	id     string
	cancel context.CancelFunc
	exited <-chan struct{}
	wait   func()
	ended  chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	stopped  bool
}

func (t *v4l2Track) ID() string      { return t.id }
func (t *v4l2Track) Kind() TrackKind { return TrackKindVideo }

// Stop はffmpegを終了させ、プロセスと転送ゴルーチンの終了を待つ
func (t *v4l2Track) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.exited
		t.wait()
	})

	t.markEnded()
}

// markEnded はハードウェア側の終了を記録する
func (t *v4l2Track) markEnded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		close(t.ended)
	}
	t.stopped = true
}

// Ended は停止時に閉じられるチャンネルを返す
func (t *v4l2Track) Ended() <-chan struct{} {
	return t.ended
}

// Stopped は停止済みかを返す
func (t *v4l2Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
