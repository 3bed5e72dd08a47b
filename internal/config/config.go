package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Camera  CameraConfig  `yaml:"camera"`
	Capture CaptureConfig `yaml:"capture"`
	API     APIConfig     `yaml:"api"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`          // リッスンするホスト
	Port int    `yaml:"port" validate:"gte=0,lte=65535"` // リッスンするポート番号（0 はランダム）

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト（0 はストリーミング用に無効）
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Device string `yaml:"device"` // デバイスパス (例: /dev/video0)。空の場合は最初に見つかったデバイス

	// 理想の解像度とフレームレート
	Width  int `yaml:"width" validate:"gte=0"`
	Height int `yaml:"height" validate:"gte=0"`
	FPS    int `yaml:"fps" validate:"gte=1,lte=60"`

	// エンコード設定
	JPEGQuality     int `yaml:"jpeg_quality" validate:"gte=1,lte=100"`
	ThumbnailWidth  int `yaml:"thumbnail_width" validate:"gte=1"`
	ThumbnailHeight int `yaml:"thumbnail_height" validate:"gte=1"`
}

// CaptureConfig は撮影と登録の設定
type CaptureConfig struct {
	DefaultCount    int           `yaml:"default_count" validate:"gte=1"`
	DefaultInterval time.Duration `yaml:"default_interval"`
	MinInterval     time.Duration `yaml:"min_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`

	QuotaLimit      int `yaml:"quota_limit" validate:"gte=1"`     // ペット1匹あたりの生体画像の上限
	MaxUploadErrors int `yaml:"max_upload_errors" validate:"gte=0"` // 一括保存を中断するまでに許容する失敗数
}

// APIConfig はペットIDサーバーAPIの設定
type APIConfig struct {
	BaseURL             string        `yaml:"base_url" validate:"required,url"`
	Timeout             time.Duration `yaml:"timeout"`
	CSRFToken           string        `yaml:"csrf_token"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" validate:"gte=0,lte=100"`
}

// NotifyConfig は通知件数のポーリング設定
type NotifyConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Width:           1280,
			Height:          720,
			FPS:             15,
			JPEGQuality:     90,
			ThumbnailWidth:  160,
			ThumbnailHeight: 120,
		},
		Capture: CaptureConfig{
			DefaultCount:    5,
			DefaultInterval: 2 * time.Second,
			MinInterval:     1 * time.Second,
			MaxInterval:     10 * time.Second,
			QuotaLimit:      20,
			MaxUploadErrors: 3,
		},
		API: APIConfig{
			BaseURL:             "http://localhost:8000",
			Timeout:             30 * time.Second,
			ConfidenceThreshold: 70,
		},
		Notify: NotifyConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
// PETLENS_CONFIG にYAMLファイルのパスが指定されていればそれを使う
func Load() (*Config, error) {
	return LoadFile(os.Getenv("PETLENS_CONFIG"))
}

// LoadFile は デフォルト値 → YAMLファイル → .env → 環境変数 の順に設定を読み込む
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %s: %w", path, err)
		}
	}

	// .env は任意。既存の環境変数は上書きしない
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)

	port, err := getEnvAsIntOrDefault("PORT", c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Port = port

	c.API.BaseURL = getEnvOrDefault("PETLENS_API_URL", c.API.BaseURL)
	c.API.CSRFToken = getEnvOrDefault("PETLENS_CSRF_TOKEN", c.API.CSRFToken)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Log.Level = strings.ToLower(getEnvOrDefault("LOG_LEVEL", c.Log.Level))
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("無効な設定値 %s=%v (%s)", fe.Namespace(), fe.Value(), fe.Tag())
		}
		return err
	}

	capture := c.Capture
	if capture.MinInterval <= 0 {
		return fmt.Errorf("撮影間隔の下限は正の値である必要があります: %s", capture.MinInterval)
	}
	if capture.MaxInterval < capture.MinInterval {
		return fmt.Errorf("撮影間隔の上限が下限より小さい: %s < %s", capture.MaxInterval, capture.MinInterval)
	}
	if capture.DefaultInterval < capture.MinInterval || capture.DefaultInterval > capture.MaxInterval {
		return fmt.Errorf("既定の撮影間隔が範囲外です: %s (%s〜%s)",
			capture.DefaultInterval, capture.MinInterval, capture.MaxInterval)
	}
	if capture.DefaultCount > capture.QuotaLimit {
		return fmt.Errorf("既定の撮影枚数が上限を超えています: %d > %d", capture.DefaultCount, capture.QuotaLimit)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("APIタイムアウトは正の値である必要があります: %s", c.API.Timeout)
	}
	if c.Notify.Enabled && c.Notify.Interval <= 0 {
		return fmt.Errorf("通知のポーリング間隔は正の値である必要があります: %s", c.Notify.Interval)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("サーバーのタイムアウトが負の値です")
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SlogLevel はログレベルをslogのレベルに変換する
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger は設定に従ったロガーを標準エラー出力に作成する
func (l LogConfig) NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l.SlogLevel()}))
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("環境変数 %s が整数ではありません: %q", key, value)
	}
	return intVal, nil
}
