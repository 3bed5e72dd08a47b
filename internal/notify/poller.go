// Package notify は未読通知件数を定期的に取得する
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"petlens/internal/petapi"
)

// DefaultInterval は通知件数のポーリング間隔
const DefaultInterval = 30 * time.Second

// ErrAlreadyRunning はポーラーの二重起動エラー
var ErrAlreadyRunning = errors.New("通知のポーリングは既に実行中です")

// Counter は未読通知件数を取得する
type Counter interface {
	NotificationCount(ctx context.Context) (*petapi.NotificationCount, error)
}

// Update は通知件数の更新
type Update struct {
	Count            int       `json:"count"`
	HasNotifications bool      `json:"has_notifications"`
	Badge            string    `json:"badge"`
	Time             time.Time `json:"time"`
}

// Badge はバッジに表示する文字列を返す。0件の場合は空、99件を超える場合は "99+"
func Badge(count int) string {
	switch {
	case count <= 0:
		return ""
	case count > 99:
		return "99+"
	default:
		return strconv.Itoa(count)
	}
}

// Poller は通知件数を定期的に取得して購読者に配信する
type Poller struct {
	counter  Counter
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	latest  Update
	subs    map[int]chan Update
	nextSub int
}

// NewPoller は新しいPollerを作成する
func NewPoller(counter Counter, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		counter:  counter,
		interval: interval,
		logger:   logger.With("component", "notify_poller"),
		subs:     make(map[int]chan Update),
	}
}

// Start はポーリングを開始する。最初の取得はすぐに行う
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.pollLoop(ctx, p.stopCh)

	p.logger.Info("通知のポーリングを開始しました", "interval", p.interval)
	return nil
}

// Stop はポーリングを停止し、ループの終了を待つ
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Info("通知のポーリングを停止しました")
	return nil
}

// Latest は最後に取得した通知件数を返す
func (p *Poller) Latest() Update {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Subscribe は通知件数の更新を購読する
func (p *Poller) Subscribe() (<-chan Update, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Update, 1)
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
}

// Poll は通知件数を1回取得して配信する
func (p *Poller) Poll(ctx context.Context) (Update, error) {
	count, err := p.counter.NotificationCount(ctx)
	if err != nil {
		return Update{}, err
	}

	update := Update{
		Count:            count.Count,
		HasNotifications: count.HasNotifications,
		Badge:            Badge(count.Count),
		Time:             time.Now(),
	}

	p.mu.Lock()
	p.latest = update
	for _, ch := range p.subs {
		// 最新の値だけを残す
		select {
		case <-ch:
		default:
		}
		ch <- update
	}
	p.mu.Unlock()

	return update, nil
}

// pollLoop は interval ごとに通知件数を取得する。エラーはログに記録して続行する
func (p *Poller) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("通知件数の取得に失敗しました", "err", err)
		}

		select {
		case <-ctx.Done():
			// Stop を経由せずに終了した場合も再開できるようにする
			p.mu.Lock()
			if p.stopCh == stopCh {
				p.running = false
			}
			p.mu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}
