package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv はテスト中に設定へ影響する環境変数を空にする
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PETLENS_CONFIG", "SERVER_HOST", "PORT", "PETLENS_API_URL", "PETLENS_CSRF_TOKEN", "CAMERA_DEVICE", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("デフォルトポートが一致しません: got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}

	if cfg.Camera.Width != 1280 || cfg.Camera.Height != 720 {
		t.Errorf("理想の解像度が一致しません: got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}

	if cfg.Capture.QuotaLimit != 20 {
		t.Errorf("画像上限が一致しません: got %d, want 20", cfg.Capture.QuotaLimit)
	}
	if cfg.Capture.MaxUploadErrors != 3 {
		t.Errorf("許容エラー数が一致しません: got %d, want 3", cfg.Capture.MaxUploadErrors)
	}
	if cfg.Capture.MinInterval != time.Second || cfg.Capture.MaxInterval != 10*time.Second {
		t.Errorf("撮影間隔の範囲が一致しません: %s〜%s", cfg.Capture.MinInterval, cfg.Capture.MaxInterval)
	}

	if cfg.API.ConfidenceThreshold != 70 {
		t.Errorf("信頼度の閾値が一致しません: got %v", cfg.API.ConfidenceThreshold)
	}
	if cfg.Notify.Interval != 30*time.Second {
		t.Errorf("通知のポーリング間隔が一致しません: got %s", cfg.Notify.Interval)
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{"正常な設定", func(c *Config) {}, false},
		{"無効なポート番号", func(c *Config) { c.Server.Port = 99999 }, true},
		{"ホストなし", func(c *Config) { c.Server.Host = "" }, true},
		{"無効なJPEG品質", func(c *Config) { c.Camera.JPEGQuality = 101 }, true},
		{"撮影枚数0", func(c *Config) { c.Capture.DefaultCount = 0 }, true},
		{"上限を超える既定枚数", func(c *Config) { c.Capture.DefaultCount = 25 }, true},
		{"撮影間隔の上下限が逆", func(c *Config) { c.Capture.MaxInterval = 500 * time.Millisecond }, true},
		{"既定の撮影間隔が範囲外", func(c *Config) { c.Capture.DefaultInterval = 20 * time.Second }, true},
		{"API URLなし", func(c *Config) { c.API.BaseURL = "" }, true},
		{"無効なAPI URL", func(c *Config) { c.API.BaseURL = "not a url" }, true},
		{"閾値が範囲外", func(c *Config) { c.API.ConfidenceThreshold = 150 }, true},
		{"APIタイムアウト0", func(c *Config) { c.API.Timeout = 0 }, true},
		{"無効なログレベル", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"通知無効ならポーリング間隔0でも可", func(c *Config) {
			c.Notify.Enabled = false
			c.Notify.Interval = 0
		}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	if actual := cfg.ServerAddress(); actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("PETLENS_API_URL", "https://vet.example.com")
	t.Setenv("PETLENS_CSRF_TOKEN", "token123")
	t.Setenv("CAMERA_DEVICE", "/dev/video2")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d", cfg.Server.Port)
	}
	if cfg.API.BaseURL != "https://vet.example.com" {
		t.Errorf("環境変数のAPI URLが反映されていません: got %s", cfg.API.BaseURL)
	}
	if cfg.API.CSRFToken != "token123" {
		t.Errorf("環境変数のCSRFトークンが反映されていません: got %s", cfg.API.CSRFToken)
	}
	if cfg.Camera.Device != "/dev/video2" {
		t.Errorf("環境変数のデバイスが反映されていません: got %s", cfg.Camera.Device)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("ログレベルが反映されていません: got %s", cfg.Log.Level)
	}
}

func TestInvalidPortEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")

	if _, err := Load(); err == nil {
		t.Error("整数でないポートでエラーが期待されました")
	}
}

// TestLoadFile はYAMLファイルの読み込みと環境変数の優先順位をテストする
func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "petlens.yaml")
	content := `
server:
  port: 9090
camera:
  device: /dev/video4
  fps: 30
capture:
  default_count: 8
  default_interval: 3s
  quota_limit: 20
api:
  base_url: https://pets.example.org
  timeout: 15s
notify:
  interval: 1m
log:
  level: warn
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("設定ファイルの書き込みに失敗しました: %v", err)
	}

	t.Setenv("PORT", "7070")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定ファイルの読み込みに失敗しました: %v", err)
	}

	// 環境変数がファイルより優先される
	if cfg.Server.Port != 7070 {
		t.Errorf("ポートが一致しません: got %d, want 7070", cfg.Server.Port)
	}
	// ファイルに無い項目はデフォルト値のまま
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("ホストが一致しません: got %s", cfg.Server.Host)
	}
	if cfg.Camera.Device != "/dev/video4" || cfg.Camera.FPS != 30 {
		t.Errorf("カメラ設定が一致しません: %+v", cfg.Camera)
	}
	if cfg.Camera.Width != 1280 {
		t.Errorf("デフォルトの幅が失われています: got %d", cfg.Camera.Width)
	}
	if cfg.Capture.DefaultCount != 8 || cfg.Capture.DefaultInterval != 3*time.Second {
		t.Errorf("撮影設定が一致しません: %+v", cfg.Capture)
	}
	if cfg.API.BaseURL != "https://pets.example.org" || cfg.API.Timeout != 15*time.Second {
		t.Errorf("API設定が一致しません: %+v", cfg.API)
	}
	if cfg.Notify.Interval != time.Minute {
		t.Errorf("通知間隔が一致しません: got %s", cfg.Notify.Interval)
	}
	if cfg.Log.SlogLevel() != slog.LevelWarn {
		t.Errorf("ログレベルが一致しません: got %s", cfg.Log.Level)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("存在しないファイルでエラーが期待されました")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("設定ファイルの書き込みに失敗しました: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("不正なYAMLでエラーが期待されました")
	}

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("capture:\n  quota_limit: 0\n"), 0o600); err != nil {
		t.Fatalf("設定ファイルの書き込みに失敗しました: %v", err)
	}
	if _, err := LoadFile(invalid); err == nil {
		t.Error("検証エラーが期待されました")
	}
}
