package cmd

import (
	"fmt"
	"log/slog"

	"petlens/internal/camera"
	"petlens/internal/config"
	"petlens/internal/enrollment"
	"petlens/internal/petapi"
)

// app はコマンド間で共有するコンポーネント
type app struct {
	config  *config.Config
	logger  *slog.Logger
	session *camera.Session
	client  *petapi.Client
	tracker *enrollment.Tracker
	saver   *enrollment.Saver
}

// newApp は設定を読み込み、実機カメラを使うコンポーネントを組み立てる
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}
	return newAppWithConfig(cfg)
}

func newAppWithConfig(cfg *config.Config) (*app, error) {
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	source := camera.NewV4L2Source(camera.NewLinuxDiscovery(), logger)
	session := camera.NewSession(source, camera.SessionOptions{
		Constraints: camera.Constraints{
			Width:     cfg.Camera.Width,
			Height:    cfg.Camera.Height,
			FrameRate: cfg.Camera.FPS,
		},
		Encoder: camera.EncoderOptions{
			JPEGQuality:     cfg.Camera.JPEGQuality,
			ThumbnailWidth:  cfg.Camera.ThumbnailWidth,
			ThumbnailHeight: cfg.Camera.ThumbnailHeight,
		},
		Logger: logger,
	})

	client, err := petapi.NewClient(petapi.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		CSRFToken: cfg.API.CSRFToken,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("APIクライアントの作成に失敗しました: %w", err)
	}

	tracker := enrollment.NewTracker(client, cfg.Capture.QuotaLimit, logger)
	return &app{
		config:  cfg,
		logger:  logger,
		session: session,
		client:  client,
		tracker: tracker,
		saver:   enrollment.NewSaver(client, tracker, cfg.Capture.MaxUploadErrors, logger),
	}, nil
}
