package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"petlens/internal/petapi"
)

// DefaultLimit はペット1匹あたりの生体画像の上限
const DefaultLimit = 20

// Quota は生体画像の上限と現在の枚数
type Quota struct {
	Limit int `json:"limit"`
	Count int `json:"count"`
}

// Remaining は残り枠を返す
func (q Quota) Remaining() int {
	return max(0, q.Limit-q.Count)
}

// Reached は上限に達しているかを返す
func (q Quota) Reached() bool {
	return q.Count >= q.Limit
}

// Clamp は目標枚数を残り枠に収める
func (q Quota) Clamp(target int) int {
	return max(0, min(target, q.Remaining()))
}

// StatsClient は登録状況を取得する
type StatsClient interface {
	Stats(ctx context.Context, petID string) (*petapi.Stats, error)
}

// Tracker はペットごとの登録済み枚数を保持する
// サーバーの値を正とし、Sync で再同期する
type Tracker struct {
	client StatsClient
	limit  int
	logger *slog.Logger

	mu     sync.RWMutex
	counts map[string]int
}

// NewTracker は新しいTrackerを作成する
func NewTracker(client StatsClient, limit int, logger *slog.Logger) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		client: client,
		limit:  limit,
		logger: logger.With("component", "enrollment_tracker"),
		counts: make(map[string]int),
	}
}

// Sync はサーバーから登録済み枚数を取得し直す
func (t *Tracker) Sync(ctx context.Context, petID string) (Quota, error) {
	if petID == "" {
		return Quota{}, errors.New("ペットIDが指定されていません")
	}

	stats, err := t.client.Stats(ctx, petID)
	if err != nil {
		return t.Quota(petID), fmt.Errorf("登録状況の取得に失敗: %w", err)
	}

	t.set(petID, stats.ImagesCount)
	t.logger.Debug("登録状況を同期しました", "pet_id", petID, "images_count", stats.ImagesCount)
	return t.Quota(petID), nil
}

// Quota は現在把握している枠を返す
func (t *Tracker) Quota(petID string) Quota {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Quota{Limit: t.limit, Count: t.counts[petID]}
}

// Observe はアップロード結果の枚数を反映する
func (t *Tracker) Observe(petID string, result *petapi.UploadResult) {
	if result == nil {
		return
	}
	count := result.ImagesCount
	if result.LimitReached && count < t.limit {
		count = t.limit
	}
	t.set(petID, count)
}

// ObserveError は上限到達エラーの枚数を反映する
func (t *Tracker) ObserveError(petID string, err error) {
	var serr *petapi.ServerError
	if !errors.As(err, &serr) || !serr.LimitReached {
		return
	}
	t.set(petID, max(serr.ImagesCount, t.limit))
}

func (t *Tracker) set(petID string, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[petID] = count
}
