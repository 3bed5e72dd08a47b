package camera

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func jpegBytes(payload string) []byte {
	data := append([]byte{0xFF, 0xD8}, []byte(payload)...)
	return append(data, 0xFF, 0xD9)
}

func TestSplitJPEGFrames(t *testing.T) {
	first := jpegBytes("first")
	second := jpegBytes("second")

	var data []byte
	data = append(data, []byte("garbage")...)
	data = append(data, first...)
	data = append(data, second...)
	data = append(data, 0xFF, 0xD8, 'p', 'a')

	frames, rest := splitJPEGFrames(data)
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], first) || !bytes.Equal(frames[1], second) {
		t.Error("Frames do not match input")
	}
	if !bytes.Equal(rest, []byte{0xFF, 0xD8, 'p', 'a'}) {
		t.Errorf("Unexpected rest: %v", rest)
	}

	// 残りに続きを足すとフレームが完成する
	frames, rest = splitJPEGFrames(append(rest, 'y', 0xFF, 0xD9))
	if len(frames) != 1 || !bytes.Equal(frames[0], jpegBytes("pay")) {
		t.Errorf("Expected completed frame, got %v", frames)
	}
	if len(rest) != 0 {
		t.Errorf("Expected no rest, got %v", rest)
	}
}

func TestSplitJPEGFrames_TrailingMarkerByte(t *testing.T) {
	frames, rest := splitJPEGFrames([]byte{'x', 'y', 0xFF})
	if len(frames) != 0 {
		t.Errorf("Expected no frames, got %d", len(frames))
	}
	if !bytes.Equal(rest, []byte{0xFF}) {
		t.Errorf("Expected trailing 0xFF to be kept, got %v", rest)
	}

	frames, _ = splitJPEGFrames(append(rest, 0xD8, 'z', 0xFF, 0xD9))
	if len(frames) != 1 {
		t.Errorf("Expected frame spanning reads, got %d", len(frames))
	}
}

func TestReadJPEGStream(t *testing.T) {
	var data []byte
	for i := 0; i < 3; i++ {
		data = append(data, jpegBytes(strings.Repeat("x", 100+i))...)
	}

	frameChan := make(chan []byte, 10)
	err := readJPEGStream(context.Background(), bytes.NewReader(data), frameChan)
	if err != nil {
		t.Fatalf("readJPEGStream failed: %v", err)
	}
	close(frameChan)

	count := 0
	for range frameChan {
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 frames, got %d", count)
	}
}

func TestReadJPEGStream_CancelledWhileBlocked(t *testing.T) {
	data := append(jpegBytes("a"), jpegBytes("b")...)
	frameChan := make(chan []byte) // 受信者なし

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- readJPEGStream(ctx, bytes.NewReader(data), frameChan)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil error on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("readJPEGStream did not return after cancel")
	}
}

func TestV4L2Capturer_InputArgs(t *testing.T) {
	capturer := NewV4L2Capturer("/dev/video0", 1280, 720, 15)
	args := strings.Join(capturer.inputArgs(), " ")

	for _, want := range []string{"-f v4l2", "-video_size 1280x720", "-framerate 15", "-i /dev/video0"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected args to contain %q, got %s", want, args)
		}
	}

	args = strings.Join(NewV4L2Capturer("/dev/video1", 0, 0, 0).inputArgs(), " ")
	if strings.Contains(args, "-video_size") || strings.Contains(args, "-framerate") {
		t.Errorf("Expected no size or framerate args, got %s", args)
	}
}
