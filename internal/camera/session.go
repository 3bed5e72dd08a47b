package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

// SessionOptions はキャプチャセッションの設定
type SessionOptions struct {
	Constraints Constraints
	Encoder     EncoderOptions
	Logger      *slog.Logger
}

// SessionInfo はセッションの状態のスナップショット
type SessionInfo struct {
	Status      Status    `json:"status"`
	Active      bool      `json:"active"`
	DeviceID    string    `json:"device_id,omitempty"`
	StreamID    string    `json:"stream_id,omitempty"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Frames      int       `json:"frames"`
	AutoCapture bool      `json:"auto_capture"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Session は1つのカメラストリームとキャプチャ済みフレームを管理する
//
// ストリームの有無が唯一の真実であり、Active はストリームから導出する。
// Start/Stop は opMu で直列化され、状態は mu で保護される。
type Session struct {
	source      MediaSource
	constraints Constraints
	encoder     *FrameEncoder
	logger      *slog.Logger
	events      *eventHub

	opMu sync.Mutex

	mu        sync.RWMutex
	status    Status
	stream    Stream
	released  chan struct{} // teardown で閉じられ、トラックの監視を止める
	frames    []Frame
	auto      *autoRun
	lastErr   error
	updatedAt time.Time
}

// NewSession は新しいSessionを作成する
func NewSession(source MediaSource, opts SessionOptions) *Session {
	constraints := opts.Constraints
	defaults := DefaultConstraints()
	if constraints.Width <= 0 {
		constraints.Width = defaults.Width
	}
	if constraints.Height <= 0 {
		constraints.Height = defaults.Height
	}
	if constraints.FrameRate <= 0 {
		constraints.FrameRate = defaults.FrameRate
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		source:      source,
		constraints: constraints,
		encoder:     NewFrameEncoder(opts.Encoder),
		logger:      logger.With("component", "capture_session"),
		events:      newEventHub(),
		status:      StatusIdle,
		updatedAt:   time.Now(),
	}
}

// Subscribe はセッションイベントを購読する
// 戻り値の関数で購読を解除する
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// Start はカメラストリームを取得してセッションを有効にする
// 既にストリームがある場合は先に全トラックを停止してから新しいストリームを取得する
func (s *Session) Start(ctx context.Context, deviceID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.teardown(); err != nil {
		return err
	}

	s.setStatus(StatusStarting, nil)

	constraints := s.constraints
	constraints.DeviceID = deviceID

	stream, err := s.source.Open(ctx, constraints)
	if err != nil {
		merr := ClassifyOpenError(deviceID, err)
		s.logger.Warn("カメラの開始に失敗しました", "device", deviceID, "category", merr.Category, "err", err)
		s.setStatus(StatusError, merr)
		s.events.publish(Event{Type: EventError, Err: merr})
		s.setStatus(StatusIdle, nil)
		return merr
	}

	released := make(chan struct{})
	s.mu.Lock()
	s.stream = stream
	s.released = released
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("カメラを開始しました", "device", stream.DeviceID(), "stream", stream.ID())
	s.setStatus(StatusActive, nil)

	go s.watchTracks(stream, released)
	return nil
}

// Stop はストリームの全トラックを停止してセッションを無効にする
// キャプチャ済みのフレームは保持される
func (s *Session) Stop(_ context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.teardown()
}

// teardown は自動キャプチャとストリームを停止する（opMu取得済み前提）
func (s *Session) teardown() error {
	s.cancelAndWait()

	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()

	if stream == nil {
		return nil
	}

	s.setStatus(StatusStopping, nil)

	s.mu.Lock()
	if s.released != nil {
		close(s.released)
		s.released = nil
	}
	s.mu.Unlock()

	stopTracks(stream)
	if tracksLive(stream) {
		return fmt.Errorf("ストリーム %s のトラックを停止できませんでした", stream.ID())
	}

	s.mu.Lock()
	s.stream = nil
	s.mu.Unlock()

	s.logger.Info("カメラを停止しました", "device", stream.DeviceID(), "stream", stream.ID())
	s.setStatus(StatusIdle, nil)
	return nil
}

// watchTracks はハードウェア側で全トラックが終了したらストリームを外して idle に戻す
func (s *Session) watchTracks(stream Stream, released <-chan struct{}) {
	select {
	case <-released:
		return
	case <-tracksEnded(stream):
	}

	s.mu.Lock()
	if s.stream != stream || s.status == StatusStopping {
		s.mu.Unlock()
		return
	}
	s.stream = nil
	s.released = nil
	if s.auto != nil {
		s.auto.cancel()
	}
	from := s.status
	changed := from == StatusActive || from == StatusCapturing
	if changed {
		s.status = StatusIdle
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Warn("カメラのトラックが終了しました", "device", stream.DeviceID(), "stream", stream.ID())
	if changed {
		s.events.publish(Event{Type: EventStateChanged, From: from, To: StatusIdle})
	}
}

// currentStatus はトラックの状態を反映した現在の状態を返す（mu取得済み前提）
func (s *Session) currentStatus() Status {
	if (s.status == StatusActive || s.status == StatusCapturing) && !tracksLive(s.stream) {
		return StatusIdle
	}
	return s.status
}

// Active はストリームが接続されていて、停止していないトラックがあるかを返す
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tracksLive(s.stream)
}

// Status は現在の状態を返す
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStatus()
}

// Info は現在の状態のスナップショットを返す
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		Status:      s.currentStatus(),
		Active:      tracksLive(s.stream),
		Frames:      len(s.frames),
		AutoCapture: s.auto != nil,
		UpdatedAt:   s.updatedAt,
	}
	if s.stream != nil {
		info.DeviceID = s.stream.DeviceID()
		info.StreamID = s.stream.ID()
		info.Width, info.Height = s.stream.Size()
	}
	if s.lastErr != nil {
		var merr *MediaError
		if errors.As(s.lastErr, &merr) {
			info.LastError = merr.Message()
		} else {
			info.LastError = s.lastErr.Error()
		}
	}
	return info
}

// Devices は利用可能なカメラデバイスを返す
func (s *Session) Devices(ctx context.Context) ([]DeviceInfo, error) {
	return s.source.Devices(ctx)
}

// CaptureFrame は現在のフレームをJPEGにエンコードして返す
// ストリームが無い場合は ErrNotActive、フレームサイズが 0 の場合は ErrNoFrame を返す
func (s *Session) CaptureFrame(ctx context.Context) (Frame, error) {
	img, stream, err := s.currentImage(ctx)
	if err != nil {
		return Frame{}, err
	}

	frame, err := s.encoder.Encode(img, stream.DeviceID())
	if err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// CaptureAndStore はフレームをキャプチャしてセッションのフレーム一覧に追加する
func (s *Session) CaptureAndStore(ctx context.Context) (Frame, error) {
	frame, err := s.CaptureFrame(ctx)
	if err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.updatedAt = time.Now()
	s.mu.Unlock()

	stored := frame
	s.events.publish(Event{Type: EventFrameCaptured, Frame: &stored})
	return frame, nil
}

// PreviewFrame はプレビュー用に現在のフレームをJPEGで返す。フレーム一覧には追加しない
func (s *Session) PreviewFrame(ctx context.Context) ([]byte, error) {
	img, _, err := s.currentImage(ctx)
	if err != nil {
		return nil, err
	}
	return s.encoder.EncodePreview(img)
}

// currentImage はキャプチャの前提条件を確認して現在のフレームを取得する
func (s *Session) currentImage(ctx context.Context) (img image.Image, stream Stream, err error) {
	s.mu.RLock()
	stream = s.stream
	s.mu.RUnlock()

	if !tracksLive(stream) {
		return nil, nil, ErrNotActive
	}

	if w, h := stream.Size(); w == 0 || h == 0 {
		return nil, nil, ErrNoFrame
	}

	img, err = stream.Frame(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("フレームの取得に失敗: %w", err)
	}
	return img, stream, nil
}

// Frames はキャプチャ済みフレームのコピーを返す
func (s *Session) Frames() []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frames := make([]Frame, len(s.frames))
	copy(frames, s.frames)
	return frames
}

// ClearFrames はキャプチャ済みフレームを全て破棄する
func (s *Session) ClearFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	s.updatedAt = time.Now()
}

// RemoveFrames は指定IDのフレームを破棄し、破棄した枚数を返す
func (s *Session) RemoveFrames(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}

	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.frames[:0]
	removed := 0
	for _, f := range s.frames {
		if _, ok := remove[f.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	s.frames = kept
	s.updatedAt = time.Now()
	return removed
}

// setStatus は状態を更新して購読者に通知する
func (s *Session) setStatus(to Status, err error) {
	s.mu.Lock()
	from := s.status
	s.status = to
	if err != nil {
		s.lastErr = err
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if from == to && err == nil {
		return
	}
	s.events.publish(Event{Type: EventStateChanged, From: from, To: to, Err: err})
}
