package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// V4L2Capturer はffmpeg経由でV4L2デバイスからJPEGフレームを取得する
type V4L2Capturer struct {
	devicePath string
	width      int
	height     int
	fps        int
}

// NewV4L2Capturer は新しいV4L2Capturerを作成する
func NewV4L2Capturer(devicePath string, width, height, fps int) *V4L2Capturer {
	return &V4L2Capturer{
		devicePath: devicePath,
		width:      width,
		height:     height,
		fps:        fps,
	}
}

// inputArgs はffmpegの入力側の引数を返す
func (c *V4L2Capturer) inputArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if c.width > 0 && c.height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.width, c.height))
	}
	if c.fps > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.fps))
	}
	return append(args, "-i", c.devicePath)
}

// CaptureFrameAsJPEG は1フレームをキャプチャしてJPEGバイト配列として返す
func (c *V4L2Capturer) CaptureFrameAsJPEG(ctx context.Context) ([]byte, error) {
	args := append(c.inputArgs(),
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2",
		"-",
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &ffmpegError{Err: fmt.Errorf("JPEGフレームキャプチャに失敗: %w", err), Stderr: stderr.String()}
	}
	if stdout.Len() == 0 {
		return nil, ErrNoFrame
	}

	return stdout.Bytes(), nil
}

// TestCapture はデバイスが実際に映像を返すかを確認し、取得したフレームを返す
func (c *V4L2Capturer) TestCapture(ctx context.Context) ([]byte, error) {
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.CaptureFrameAsJPEG(testCtx)
}

// StartStream は連続キャプチャを開始し、ctxがキャンセルされるまでフレームを送り続ける
// 戻り値のチャンネルはffmpegプロセスが終了するとクローズされる
func (c *V4L2Capturer) StartStream(ctx context.Context, frameChan chan<- []byte, errorChan chan<- error) (<-chan struct{}, error) {
	args := append(c.inputArgs(),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &ffmpegError{Err: fmt.Errorf("ffmpegの起動に失敗: %w", err), Stderr: stderr.String()}
	}

	exited := make(chan struct{})
	go func() {
		defer close(exited)

		readErr := readJPEGStream(ctx, stdout, frameChan)
		waitErr := cmd.Wait()

		// コンテキストキャンセルによる終了はエラーとしない
		if ctx.Err() != nil {
			return
		}
		if readErr == nil {
			readErr = waitErr
		}
		if readErr == nil {
			readErr = io.ErrUnexpectedEOF
		}

		select {
		case errorChan <- &ffmpegError{Err: fmt.Errorf("ストリームが終了しました: %w", readErr), Stderr: stderr.String()}:
		default:
		}
	}()

	return exited, nil
}

// readJPEGStream はMJPEGパイプからJPEGフレームを切り出して送信する
func readJPEGStream(ctx context.Context, r io.Reader, frameChan chan<- []byte) error {
	buffer := make([]byte, 256*1024)
	var pending []byte

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			pending = append(pending, buffer[:n]...)

			var frames [][]byte
			frames, pending = splitJPEGFrames(pending)
			for _, frame := range frames {
				select {
				case frameChan <- frame:
				case <-ctx.Done():
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
	}
}

// splitJPEGFrames はバッファから完全なJPEGフレームを取り出し、残りのデータを返す
// 開始マーカーより前のデータは破棄する
func splitJPEGFrames(data []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.Index(data, jpegStart)
		if start == -1 {
			// 末尾の 0xFF は次の読み込みで開始マーカーになりうる
			if len(data) > 0 && data[len(data)-1] == 0xFF {
				return frames, append([]byte(nil), data[len(data)-1:]...)
			}
			return frames, nil
		}

		end := bytes.Index(data[start+len(jpegStart):], jpegEnd)
		if end == -1 {
			return frames, append([]byte(nil), data[start:]...)
		}

		end += start + len(jpegStart) + len(jpegEnd)
		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		frames = append(frames, frame)

		data = data[end:]
	}
}
