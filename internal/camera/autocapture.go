package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// 撮影間隔の既定の範囲
const (
	DefaultMinInterval = 1 * time.Second
	DefaultMaxInterval = 10 * time.Second
)

// AutoCaptureOptions は自動キャプチャの設定
type AutoCaptureOptions struct {
	Count     int           // 要求枚数
	Interval  time.Duration // 撮影間隔
	Remaining int           // 残り枠（上限 - 現在枚数 - 未保存のフレーム数）

	// 撮影間隔の許容範囲。0 の場合は既定値
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Validate は設定を検証する
func (o AutoCaptureOptions) Validate() error {
	if o.Count < 1 {
		return ErrInvalidCount
	}

	minInterval, maxInterval := o.MinInterval, o.MaxInterval
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}
	if o.Interval < minInterval || o.Interval > maxInterval {
		return fmt.Errorf("%w: %s (%s〜%s)", ErrInvalidInterval, o.Interval, minInterval, maxInterval)
	}

	if o.Remaining <= 0 {
		return ErrQuotaReached
	}
	return nil
}

// EffectiveCount は実際に撮影する枚数 min(count, remaining) を返す
func EffectiveCount(count, remaining int) int {
	if remaining < 0 {
		remaining = 0
	}
	return max(0, min(count, remaining))
}

// AutoCaptureResult は自動キャプチャの結果
type AutoCaptureResult struct {
	Requested int      `json:"requested"`
	Effective int      `json:"effective"`
	Captured  int      `json:"captured"`
	FrameIDs  []string `json:"frame_ids"`
	Cancelled bool     `json:"cancelled"`
	Err       error    `json:"-"`
}

// Clamped は残り枠によって枚数が減らされたかを返す
func (r AutoCaptureResult) Clamped() bool {
	return r.Effective < r.Requested
}

// autoRun は実行中の自動キャプチャ
type autoRun struct {
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	result   AutoCaptureResult
}

func (r *autoRun) cancel() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// StartAutoCapture は自動キャプチャを開始し、結果を受け取るチャンネルを返す
//
// 各サイクルは前回のキャプチャと保存が終わってから次をスケジュールするため、
// キャプチャが重なることはない。キャンセルは次のサイクルの前に反映される。
func (s *Session) StartAutoCapture(ctx context.Context, opts AutoCaptureOptions) (<-chan AutoCaptureResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !tracksLive(s.stream) {
		s.mu.Unlock()
		return nil, ErrNotActive
	}
	if s.auto != nil {
		s.mu.Unlock()
		return nil, ErrAutoCaptureRunning
	}

	run := &autoRun{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		result: AutoCaptureResult{
			Requested: opts.Count,
			Effective: EffectiveCount(opts.Count, opts.Remaining),
		},
	}
	s.auto = run
	from := s.status
	s.status = StatusCapturing
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.events.publish(Event{Type: EventStateChanged, From: from, To: StatusCapturing})

	if run.result.Clamped() {
		s.logger.Info("残り枠に合わせて撮影枚数を調整しました",
			"requested", run.result.Requested, "effective", run.result.Effective)
	}

	started := run.result
	s.events.publish(Event{Type: EventAutoCaptureStarted, Auto: &started})

	results := make(chan AutoCaptureResult, 1)
	go func() {
		s.autoCaptureLoop(ctx, run, opts.Interval)
		results <- run.result
		close(results)
	}()

	return results, nil
}

// RunAutoCapture は自動キャプチャを実行し、終了まで待機する
func (s *Session) RunAutoCapture(ctx context.Context, opts AutoCaptureOptions) (AutoCaptureResult, error) {
	results, err := s.StartAutoCapture(ctx, opts)
	if err != nil {
		return AutoCaptureResult{}, err
	}
	result := <-results
	return result, result.Err
}

// CancelAutoCapture は自動キャプチャのスケジュールを止める
// キャプチャ済みのフレームはそのまま残る。実行中でなかった場合は false を返す
func (s *Session) CancelAutoCapture() bool {
	s.mu.RLock()
	run := s.auto
	s.mu.RUnlock()

	if run == nil {
		return false
	}
	run.cancel()
	return true
}

// cancelAndWait は自動キャプチャを止めてループの終了を待つ
func (s *Session) cancelAndWait() {
	s.mu.RLock()
	run := s.auto
	s.mu.RUnlock()

	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

// autoCaptureLoop は interval ごとに1枚ずつキャプチャする
func (s *Session) autoCaptureLoop(ctx context.Context, run *autoRun, interval time.Duration) {
	defer s.finishAutoCapture(run)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	// キャプチャ処理自体は途中で中断しない
	captureCtx := context.WithoutCancel(ctx)

	for run.result.Captured < run.result.Effective {
		select {
		case <-run.stopCh:
			run.result.Cancelled = true
			return
		case <-ctx.Done():
			run.result.Cancelled = true
			return
		case <-timer.C:
		}

		frame, err := s.CaptureAndStore(captureCtx)
		if err != nil {
			s.logger.Error("自動キャプチャでエラーが発生しました", "captured", run.result.Captured, "err", err)
			run.result.Err = fmt.Errorf("自動キャプチャ %d 枚目: %w", run.result.Captured+1, err)
			s.events.publish(Event{Type: EventError, Err: run.result.Err})
			return
		}

		run.result.Captured++
		run.result.FrameIDs = append(run.result.FrameIDs, frame.ID)

		if run.result.Captured < run.result.Effective {
			timer.Reset(interval)
		}
	}
}

// finishAutoCapture は自動キャプチャの後処理を行う
func (s *Session) finishAutoCapture(run *autoRun) {
	s.mu.Lock()
	if s.auto == run {
		s.auto = nil
	}
	capturing := s.status == StatusCapturing
	live := tracksLive(s.stream)
	s.mu.Unlock()

	if capturing {
		if live {
			s.setStatus(StatusActive, nil)
		} else {
			s.setStatus(StatusIdle, nil)
		}
	}

	result := run.result
	s.events.publish(Event{Type: EventAutoCaptureFinished, Auto: &result, Err: result.Err})

	s.logger.Info("自動キャプチャを終了しました",
		"captured", result.Captured, "effective", result.Effective, "cancelled", result.Cancelled)
	close(run.done)
}
