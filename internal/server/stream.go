package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"petlens/internal/camera"
	"petlens/internal/notify"
)

// eventPayload はSSEで送るセッションイベント
type eventPayload struct {
	camera.Event
	Error string `json:"error,omitempty"`
}

// events はセッションイベントをServer-Sent Eventsで配信する
// 接続直後に現在の状態を status イベントとして送る
func (h *handler) events(c *gin.Context) {
	events, unsubscribe := h.deps.Session.Subscribe(16)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("status", h.deps.Session.Info())
	c.Writer.Flush()

	var notifications <-chan notify.Update
	if h.deps.Notifier != nil {
		ch, stop := h.deps.Notifier.Subscribe()
		defer stop()
		notifications = ch
	}

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), eventPayload{Event: ev, Error: ev.ErrorMessage()})
			return true
		case update, ok := <-notifications:
			if !ok {
				notifications = nil
				return true
			}
			c.SSEvent("notifications", update)
			return true
		}
	})
}

// preview は接続中のストリームをMJPEGで配信する
func (h *handler) preview(c *gin.Context) {
	if !h.deps.Session.Active() {
		h.sessionError(c, camera.ErrNotActive)
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	fps := h.config.Camera.FPS
	if fps <= 0 {
		fps = camera.DefaultConstraints().FrameRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		frame, err := h.deps.Session.PreviewFrame(ctx)
		switch {
		case errors.Is(err, camera.ErrNoFrame):
			// 最初のフレームが届くまで待つ
		case err != nil:
			h.logger.Debug("プレビューを終了します", "err", err)
			return
		default:
			if err := writeMJPEGPart(writer, frame); err != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// writeMJPEGPart はMJPEGの1フレーム分を書き込む
func writeMJPEGPart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
