package petapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// サーバーのエンドポイント
const (
	pathUploadBiometric   = "/mascota/upload-biometria-base64/"
	pathStats             = "/mascota/%s/stats/"
	pathTrainModel        = "/mascota/train-model/%s/"
	pathRecognize         = "/scanner/upload-recognition/"
	pathPredict           = "/api/predict-image/"
	pathNotificationCount = "/auth/api/notifications/count/"
)

// 生体画像の種別
const biometricType = "biometrica"

// レスポンスの読み込み上限
const maxResponseSize = 10 << 20

// Options はクライアントの設定
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	CSRFToken  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client はペットIDサーバーのAPIクライアント
type Client struct {
	baseURL    *url.URL
	csrfToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient は新しいClientを作成する
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("無効なAPI URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("無効なAPI URL: %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    base,
		csrfToken:  opts.CSRFToken,
		httpClient: httpClient,
		logger:     logger.With("component", "petapi"),
	}, nil
}

// UploadBiometric はJPEG画像をペットの生体画像として登録する
func (c *Client) UploadBiometric(ctx context.Context, petID string, jpeg []byte) (*UploadResult, error) {
	form := url.Values{}
	form.Set("imagen_base64", "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(jpeg))
	form.Set("mascota_id", petID)
	form.Set("tipo", biometricType)

	var result UploadResult
	err := c.do(ctx, http.MethodPost, pathUploadBiometric,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats はペットの登録済み生体画像数などを取得する
func (c *Client) Stats(ctx context.Context, petID string) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf(pathStats, url.PathEscape(petID)), nil, "", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// TrainModel はペットの認識モデルの学習を要求する
func (c *Client) TrainModel(ctx context.Context, petID string) (*TrainResult, error) {
	var result TrainResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf(pathTrainModel, url.PathEscape(petID)), nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Recognize はJPEG画像からペットを照合する
func (c *Client) Recognize(ctx context.Context, jpeg []byte) (*Recognition, error) {
	form := url.Values{}
	form.Set("imagen_base64", "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(jpeg))

	var result Recognition
	err := c.do(ctx, http.MethodPost, pathRecognize,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Predict はJPEG画像から品種・成長段階・体型を予測する
func (c *Client) Predict(ctx context.Context, jpeg []byte) (*PredictResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="capture.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("マルチパートの作成に失敗: %w", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, fmt.Errorf("画像の書き込みに失敗: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("マルチパートの作成に失敗: %w", err)
	}

	var result PredictResult
	if err := c.do(ctx, http.MethodPost, pathPredict, &body, writer.FormDataContentType(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// NotificationCount は未読通知の件数を取得する
func (c *Client) NotificationCount(ctx context.Context) (*NotificationCount, error) {
	var count NotificationCount
	if err := c.do(ctx, http.MethodGet, pathNotificationCount, nil, "", &count); err != nil {
		return nil, err
	}
	return &count, nil
}

// envelope はすべてのレスポンスに共通するフィールド
type envelope struct {
	Success      *bool         `json:"success"`
	Error        string        `json:"error"`
	Message      string        `json:"message"`
	Details      *ErrorDetails `json:"details"`
	LimitReached bool          `json:"limit_reached"`
	ImagesCount  int           `json:"images_count"`
}

// do はリクエストを送信し、レスポンスを out にデコードする
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	op := method + " " + path
	endpoint := c.baseURL.String() + path

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: リクエストの作成に失敗: %w", op, err)
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Request-ID", requestID)
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("レスポンスの読み込みに失敗: %w", err)}
	}

	c.logger.Debug("APIリクエスト", "op", op, "status", resp.StatusCode,
		"request_id", requestID, "elapsed", time.Since(start))

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &ParseError{Status: resp.StatusCode, Snippet: snippet(data), Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest || (env.Success != nil && !*env.Success) {
		return newServerError(resp.StatusCode, env)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{Status: resp.StatusCode, Snippet: snippet(data), Err: err}
	}
	return nil
}

// newServerError はエラーレスポンスからServerErrorを作る
// error と message の両方がある場合は error を種別、message を表示用の文言とみなす
func newServerError(status int, env envelope) *ServerError {
	serr := &ServerError{
		Status:       status,
		Message:      env.Error,
		Details:      env.Details,
		LimitReached: env.LimitReached,
		ImagesCount:  env.ImagesCount,
	}
	if env.Error != "" && env.Message != "" {
		serr.Code = env.Error
		serr.Message = env.Message
	}
	if serr.Message == "" {
		serr.Message = http.StatusText(status)
	}
	return serr
}

// snippet はエラー表示用にレスポンスの先頭を返す
func snippet(data []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// IsTransport は通信エラーかを返す
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}
