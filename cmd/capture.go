package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"petlens/internal/camera"
	"petlens/internal/enrollment"
)

type captureOptions struct {
	device   string
	petID    string
	count    int
	interval time.Duration
	save     bool
	outDir   string
}

func newCaptureCmd() *cobra.Command {
	var opts captureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "カメラから自動キャプチャを行う",
		Long: `カメラを開始し、指定した間隔で画像を撮影します。

--pet を指定するとペットIDサーバーから登録済み画像数を取得し、
上限を超えないように撮影枚数を減らします。--save を指定すると
撮影した画像を生体画像として登録します。`,
		Example: `  # 2秒間隔で5枚撮影してディレクトリに書き出す
  petlens capture --count 5 --interval 2s --out ./frames

  # ペット 42 の生体画像として撮影して登録する
  petlens capture --pet 42 --count 10 --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("count") {
				opts.count = a.config.Capture.DefaultCount
			}
			if !cmd.Flags().Changed("interval") {
				opts.interval = a.config.Capture.DefaultInterval
			}
			if opts.device == "" {
				opts.device = a.config.Camera.Device
			}
			return runCapture(cmd.Context(), cmd.OutOrStdout(), a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "カメラデバイス (例: /dev/video0)")
	cmd.Flags().StringVar(&opts.petID, "pet", "", "登録先のペットID")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 5, "撮影枚数")
	cmd.Flags().DurationVarP(&opts.interval, "interval", "i", 2*time.Second, "撮影間隔 (1s〜10s)")
	cmd.Flags().BoolVar(&opts.save, "save", false, "撮影した画像をペットIDサーバーに登録する")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "撮影した画像を書き出すディレクトリ")

	return cmd
}

// runCapture はカメラを開始して自動キャプチャを行い、必要なら登録まで行う
func runCapture(ctx context.Context, out io.Writer, a *app, opts captureOptions) error {
	if opts.save && opts.petID == "" {
		return fmt.Errorf("--save には --pet の指定が必要です")
	}

	remaining := opts.count
	if opts.petID != "" {
		quota, err := a.tracker.Sync(ctx, opts.petID)
		if err != nil {
			return fmt.Errorf("登録済み画像数の取得に失敗しました: %w", err)
		}
		remaining = quota.Remaining()
		fmt.Fprintf(out, "ペット %s: 登録済み %d/%d 枚\n", opts.petID, quota.Count, quota.Limit)
	}

	if err := a.session.Start(ctx, opts.device); err != nil {
		return err
	}
	defer func() {
		if err := a.session.Stop(context.Background()); err != nil {
			a.logger.Warn("カメラの停止に失敗しました", "err", err)
		}
	}()

	result, err := a.session.RunAutoCapture(ctx, camera.AutoCaptureOptions{
		Count:       opts.count,
		Interval:    opts.interval,
		Remaining:   remaining,
		MinInterval: a.config.Capture.MinInterval,
		MaxInterval: a.config.Capture.MaxInterval,
	})
	if result.Clamped() {
		fmt.Fprintf(out, "残り枠に合わせて %d 枚に減らしました\n", result.Effective)
	}
	fmt.Fprintf(out, "%d 枚撮影しました\n", result.Captured)
	if err != nil {
		return err
	}

	frames := a.session.Frames()
	if opts.outDir != "" {
		if err := writeFrames(opts.outDir, frames); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s に書き出しました\n", opts.outDir)
	}

	if !opts.save {
		return nil
	}

	report, err := a.saver.SaveAll(ctx, opts.petID, frames)
	if err != nil {
		return err
	}
	printReport(out, report)
	if report.Aborted {
		return fmt.Errorf("保存に %d 回失敗したため中断しました", report.Failed)
	}
	return nil
}

func writeFrames(dir string, frames []camera.Frame) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)
	}
	for i, f := range frames {
		name := fmt.Sprintf("%s_%02d.jpg", f.CapturedAt.Format("20060102_150405"), i+1)
		if err := os.WriteFile(filepath.Join(dir, name), f.Data, 0o644); err != nil {
			return fmt.Errorf("画像の書き出しに失敗しました: %w", err)
		}
	}
	return nil
}

func printReport(out io.Writer, r enrollment.Report) {
	fmt.Fprintf(out, "登録: %d 枚 / 失敗: %d 枚 / 登録済み合計: %d 枚\n", r.Saved, r.Failed, r.ImagesCount)
	if r.LimitReached {
		fmt.Fprintln(out, "画像の上限に達しました")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  - %s\n", e)
	}
}
