package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"petlens/internal/camera"
	"petlens/internal/config"
	"petlens/internal/enrollment"
	"petlens/internal/notify"
	"petlens/internal/petapi"
)

// PetAPI はサーバーから利用するペットIDサーバーの操作
type PetAPI interface {
	Recognize(ctx context.Context, jpeg []byte) (*petapi.Recognition, error)
	Predict(ctx context.Context, jpeg []byte) (*petapi.PredictResult, error)
	TrainModel(ctx context.Context, petID string) (*petapi.TrainResult, error)
}

// Deps はサーバーが利用するコンポーネント
type Deps struct {
	Session  *camera.Session
	Tracker  *enrollment.Tracker
	Saver    *enrollment.Saver
	API      PetAPI
	Notifier *notify.Poller // nil の場合は通知を扱わない
	Logger   *slog.Logger
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	deps       Deps
	logger     *slog.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger.With("component", "http_server"),
	}
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter はHTTPルートを設定する
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	h := &handler{
		config: s.config,
		deps:   s.deps,
		logger: s.logger,
	}

	router.GET("/health", h.health)

	api := router.Group("/api")
	api.GET("/status", h.status)
	api.GET("/devices", h.devices)
	api.GET("/notifications", h.notifications)

	session := api.Group("/session")
	session.POST("/start", h.startSession)
	session.POST("/stop", h.stopSession)
	session.POST("/capture", h.capture)
	session.POST("/auto-capture", h.startAutoCapture)
	session.DELETE("/auto-capture", h.cancelAutoCapture)
	session.GET("/frames", h.frames)
	session.DELETE("/frames", h.clearFrames)
	session.POST("/save", h.save)
	session.POST("/recognize", h.recognize)
	session.POST("/predict", h.predict)
	session.GET("/events", h.events)
	session.GET("/preview", h.preview)

	pets := api.Group("/pets/:id")
	pets.GET("/quota", h.quota)
	pets.POST("/train", h.train)

	return router
}

// requestLogger はリクエストごとにアクセスログを出力する
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("リクエストを処理しました",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は指定したリスナーでサーバーを起動し、終了するまで待機する
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Start(ctx); err != nil {
			s.logger.Warn("通知のポーリングを開始できませんでした", "err", err)
		}
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 自動キャプチャを止めてカメラを解放してからHTTPサーバーを閉じる
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Stop(ctx); err != nil {
			s.logger.Warn("通知のポーリングの停止に失敗しました", "err", err)
		}
	}

	if s.deps.Session != nil {
		if err := s.deps.Session.Stop(ctx); err != nil {
			s.logger.Warn("カメラの停止に失敗しました", "err", err)
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
