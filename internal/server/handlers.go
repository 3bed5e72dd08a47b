package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"petlens/internal/camera"
	"petlens/internal/config"
	"petlens/internal/petapi"
	"petlens/internal/predict"
)

// handler はAPIエンドポイントを実装する
type handler struct {
	config *config.Config
	deps   Deps
	logger *slog.Logger
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string               `json:"error"`
	Message   string               `json:"message"`
	Category  camera.ErrorCategory `json:"category,omitempty"`
	Details   *petapi.ErrorDetails `json:"details,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// FrameResponse はキャプチャしたフレームの応答
type FrameResponse struct {
	camera.Frame
	DataURL      string `json:"data_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type startRequest struct {
	DeviceID string `json:"device_id"`
}

type captureRequest struct {
	PetID string `json:"pet_id"`
}

type autoCaptureRequest struct {
	Count           int     `json:"count" binding:"required,min=1"`
	IntervalSeconds float64 `json:"interval_seconds" binding:"required,gt=0"`
	PetID           string  `json:"pet_id" binding:"required"`
}

type saveRequest struct {
	PetID string `json:"pet_id" binding:"required"`
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (h *handler) status(c *gin.Context) {
	resp := gin.H{
		"status": "running",
		"server": gin.H{
			"host": h.config.Server.Host,
			"port": h.config.Server.Port,
		},
		"session":   h.deps.Session.Info(),
		"timestamp": time.Now(),
	}
	if h.deps.Notifier != nil {
		resp["notifications"] = h.deps.Notifier.Latest()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) devices(c *gin.Context) {
	devices, err := h.deps.Session.Devices(c.Request.Context())
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *handler) notifications(c *gin.Context) {
	if h.deps.Notifier == nil {
		writeError(c, http.StatusNotFound, "notifications_disabled", "通知は無効です")
		return
	}
	c.JSON(http.StatusOK, h.deps.Notifier.Latest())
}

// startSession はカメラを開始する。既に開始済みの場合はストリームを取り直す
func (h *handler) startSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = h.config.Camera.Device
	}

	if err := h.deps.Session.Start(c.Request.Context(), deviceID); err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Session.Info())
}

func (h *handler) stopSession(c *gin.Context) {
	if err := h.deps.Session.Stop(c.Request.Context()); err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Session.Info())
}

// capture は1枚キャプチャして保存待ちに加える
// pet_id が指定された場合は残り枠を確認してから撮影する
func (h *handler) capture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if req.PetID != "" {
		remaining, _, err := h.remaining(c.Request.Context(), req.PetID)
		if err != nil {
			h.apiError(c, err)
			return
		}
		if remaining <= 0 {
			h.sessionError(c, camera.ErrQuotaReached)
			return
		}
	}

	frame, err := h.deps.Session.CaptureAndStore(c.Request.Context())
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, FrameResponse{
		Frame:        frame,
		DataURL:      frame.DataURL(),
		ThumbnailURL: frame.ThumbnailDataURL(),
	})
}

// startAutoCapture は残り枠をサーバーと同期してから自動キャプチャを開始する
func (h *handler) startAutoCapture(c *gin.Context) {
	var req autoCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	remaining, pending, err := h.remaining(c.Request.Context(), req.PetID)
	if err != nil {
		h.apiError(c, err)
		return
	}

	opts := camera.AutoCaptureOptions{
		Count:       req.Count,
		Interval:    time.Duration(req.IntervalSeconds * float64(time.Second)),
		Remaining:   remaining,
		MinInterval: h.config.Capture.MinInterval,
		MaxInterval: h.config.Capture.MaxInterval,
	}

	// 応答後も続けるため、リクエストのキャンセルは引き継がない
	ctx := context.WithoutCancel(c.Request.Context())
	results, err := h.deps.Session.StartAutoCapture(ctx, opts)
	if err != nil {
		h.sessionError(c, err)
		return
	}

	go func() {
		result := <-results
		if result.Err != nil {
			h.logger.Warn("自動キャプチャが失敗しました", "pet_id", req.PetID, "captured", result.Captured, "err", result.Err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"pet_id":    req.PetID,
		"requested": opts.Count,
		"effective": camera.EffectiveCount(opts.Count, opts.Remaining),
		"remaining": remaining,
		"pending":   pending,
		"interval":  opts.Interval.String(),
	})
}

// remaining はサーバーの残り枠から未保存のフレーム数を引いた値を返す
func (h *handler) remaining(ctx context.Context, petID string) (int, int, error) {
	quota, err := h.deps.Tracker.Sync(ctx, petID)
	if err != nil {
		return 0, 0, err
	}
	pending := len(h.deps.Session.Frames())
	return max(0, quota.Remaining()-pending), pending, nil
}

func (h *handler) cancelAutoCapture(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": h.deps.Session.CancelAutoCapture()})
}

func (h *handler) frames(c *gin.Context) {
	frames := h.deps.Session.Frames()
	resp := make([]FrameResponse, 0, len(frames))
	for _, f := range frames {
		resp = append(resp, FrameResponse{Frame: f, ThumbnailURL: f.ThumbnailDataURL()})
	}
	c.JSON(http.StatusOK, gin.H{"frames": resp, "count": len(resp)})
}

func (h *handler) clearFrames(c *gin.Context) {
	h.deps.Session.ClearFrames()
	c.Status(http.StatusNoContent)
}

// save はキャプチャ済みフレームをアップロードし、保存できたフレームを破棄する
func (h *handler) save(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	frames := h.deps.Session.Frames()
	if len(frames) == 0 {
		writeError(c, http.StatusBadRequest, "no_frames", "保存する画像がありません")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.deps.Tracker.Sync(ctx, req.PetID); err != nil {
		h.apiError(c, err)
		return
	}

	report, err := h.deps.Saver.SaveAll(ctx, req.PetID, frames)
	if err != nil {
		h.apiError(c, err)
		return
	}

	h.deps.Session.RemoveFrames(report.SavedIDs...)
	c.JSON(http.StatusOK, report)
}

// recognize は現在のフレームでペットを識別する
func (h *handler) recognize(c *gin.Context) {
	frame, err := h.deps.Session.CaptureFrame(c.Request.Context())
	if err != nil {
		h.sessionError(c, err)
		return
	}

	result, err := h.deps.API.Recognize(c.Request.Context(), frame.Data)
	if err != nil {
		h.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identified":  result.Identified(),
		"recognition": result,
	})
}

// predict は現在のフレームの品種などを予測する
func (h *handler) predict(c *gin.Context) {
	frame, err := h.deps.Session.CaptureFrame(c.Request.Context())
	if err != nil {
		h.sessionError(c, err)
		return
	}

	result, err := h.deps.API.Predict(c.Request.Context(), frame.Data)
	if err != nil {
		var serr *petapi.ServerError
		if errors.As(err, &serr) && serr.Code == predict.CodeBreedNotRecognized {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error:     serr.Code,
				Message:   predict.ErrorText(serr),
				Details:   serr.Details,
				Timestamp: time.Now(),
			})
			return
		}
		if serr != nil {
			h.apiError(c, err)
			return
		}
		h.logger.Warn("予測に失敗しました", "err", err)
		writeError(c, http.StatusBadGateway, "api_unavailable", predict.Describe(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"predictions": predict.Interpret(result.Predictions, h.config.API.ConfidenceThreshold),
	})
}

func (h *handler) quota(c *gin.Context) {
	quota, err := h.deps.Tracker.Sync(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pet_id":    c.Param("id"),
		"limit":     quota.Limit,
		"count":     quota.Count,
		"remaining": quota.Remaining(),
		"reached":   quota.Reached(),
	})
}

func (h *handler) train(c *gin.Context) {
	result, err := h.deps.API.TrainModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// sessionError はセッション操作のエラーをHTTPステータスに対応付ける
func (h *handler) sessionError(c *gin.Context, err error) {
	var merr *camera.MediaError
	if errors.As(err, &merr) {
		status := http.StatusInternalServerError
		switch merr.Category {
		case camera.CategoryPermissionDenied:
			status = http.StatusForbidden
		case camera.CategoryNoDevice:
			status = http.StatusNotFound
		case camera.CategoryDeviceBusy:
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{
			Error:     string(merr.Category),
			Message:   merr.Message(),
			Category:  merr.Category,
			Timestamp: time.Now(),
		})
		return
	}

	switch {
	case errors.Is(err, camera.ErrNotActive):
		writeError(c, http.StatusConflict, "not_active", err.Error())
	case errors.Is(err, camera.ErrNoFrame):
		writeError(c, http.StatusConflict, "no_frame", err.Error())
	case errors.Is(err, camera.ErrAutoCaptureRunning):
		writeError(c, http.StatusConflict, "auto_capture_running", err.Error())
	case errors.Is(err, camera.ErrQuotaReached):
		writeError(c, http.StatusConflict, "limit_reached", err.Error())
	case errors.Is(err, camera.ErrInvalidCount), errors.Is(err, camera.ErrInvalidInterval):
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.Error("セッション操作に失敗しました", "path", c.FullPath(), "err", err)
		writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// apiError はペットIDサーバーとの通信エラーを応答する
func (h *handler) apiError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		writeError(c, http.StatusServiceUnavailable, "cancelled", err.Error())
		return
	}

	var serr *petapi.ServerError
	if errors.As(err, &serr) {
		status := http.StatusBadGateway
		if serr.LimitReached {
			status = http.StatusConflict
		}
		code := serr.Code
		if code == "" {
			code = "api_error"
		}
		c.JSON(status, ErrorResponse{
			Error:     code,
			Message:   serr.Message,
			Details:   serr.Details,
			Timestamp: time.Now(),
		})
		return
	}

	h.logger.Warn("ペットIDサーバーへの要求に失敗しました", "path", c.FullPath(), "err", err)
	writeError(c, http.StatusBadGateway, "api_unavailable", err.Error())
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}
