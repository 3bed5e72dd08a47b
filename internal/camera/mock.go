package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/google/uuid"
)

// MockMediaSource はテスト用のMediaSource実装
type MockMediaSource struct {
	mu      sync.Mutex
	devices []string
	width   int
	height  int
	failErr error
	opened  []*MockStream
}

// NewMockMediaSource は新しいMockMediaSourceを作成する
func NewMockMediaSource(devices ...string) *MockMediaSource {
	return &MockMediaSource{
		devices: devices,
		width:   640,
		height:  480,
	}
}

// SetFrameSize はテスト用にフレームサイズを設定する。0 を指定するとフレーム未取得の状態になる
func (m *MockMediaSource) SetFrameSize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.width = width
	m.height = height
}

// FailWith はテスト用にOpenの失敗を設定する。nil で解除する
func (m *MockMediaSource) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Open はモックストリームを作成する
func (m *MockMediaSource) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	device := constraints.DeviceID
	if device == "" {
		if len(m.devices) == 0 {
			return nil, NewMediaError(CategoryNoDevice, "", fmt.Errorf("モック: デバイスがありません"))
		}
		device = m.devices[0]
	}

	found := false
	for _, d := range m.devices {
		if d == device {
			found = true
			break
		}
	}
	if !found {
		return nil, NewMediaError(CategoryNoDevice, device, fmt.Errorf("モック: デバイスが見つかりません"))
	}

	stream := &MockStream{
		id:       uuid.New().String(),
		deviceID: device,
		width:    m.width,
		height:   m.height,
		track:    newMockTrack(),
	}
	m.opened = append(m.opened, stream)
	return stream, nil
}

// Devices はモックデバイス一覧を返す
func (m *MockMediaSource) Devices(_ context.Context) ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]DeviceInfo, 0, len(m.devices))
	for i, d := range m.devices {
		infos = append(infos, DeviceInfo{
			Device:      d,
			Name:        fmt.Sprintf("テストカメラ %d", i+1),
			Driver:      "mock",
			Resolutions: []Resolution{{Width: m.width, Height: m.height}},
			Formats:     []string{"MJPEG"},
		})
	}
	return infos, nil
}

// Opened はこれまでに作成したストリームを返す
func (m *MockMediaSource) Opened() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()

	streams := make([]*MockStream, len(m.opened))
	copy(streams, m.opened)
	return streams
}

// LiveStreams は停止していないストリームの数を返す
func (m *MockMediaSource) LiveStreams() int {
	live := 0
	for _, s := range m.Opened() {
		if tracksLive(s) {
			live++
		}
	}
	return live
}

// MockStream はテスト用のStream実装
type MockStream struct {
	id       string
	deviceID string
	width    int
	height   int
	track    *MockTrack

	mu      sync.Mutex
	frameNo int
}

func (s *MockStream) ID() string       { return s.id }
func (s *MockStream) DeviceID() string { return s.deviceID }
func (s *MockStream) Tracks() []Track  { return []Track{s.track} }

// Size はフレームサイズを返す
func (s *MockStream) Size() (int, int) {
	return s.width, s.height
}

// Frame はフレーム番号ごとに色の変わる単色画像を返す
func (s *MockStream) Frame(_ context.Context) (image.Image, error) {
	if s.track.Stopped() {
		return nil, ErrNotActive
	}

	s.mu.Lock()
	s.frameNo++
	n := s.frameNo
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	c := color.RGBA{R: uint8(n * 40), G: 128, B: uint8(255 - n*40), A: 255}
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

// MockTrack はテスト用のTrack実装
type MockTrack struct {
	id    string
	ended chan struct{}

	mu      sync.Mutex
	stopped bool
	stops   int
}

func newMockTrack() *MockTrack {
	return &MockTrack{id: uuid.New().String(), ended: make(chan struct{})}
}

func (t *MockTrack) ID() string      { return t.id }
func (t *MockTrack) Kind() TrackKind { return TrackKindVideo }

// Stop はトラックを停止する
func (t *MockTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		close(t.ended)
	}
	t.stopped = true
	t.stops++
}

// Ended は停止時に閉じられるチャンネルを返す
func (t *MockTrack) Ended() <-chan struct{} {
	return t.ended
}

// Stopped は停止済みかを返す
func (t *MockTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// StopCount はStopが呼ばれた回数を返す
func (t *MockTrack) StopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Track はストリームのトラックを返す
func (s *MockStream) Track() *MockTrack {
	return s.track
}
