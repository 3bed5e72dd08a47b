package enrollment

import (
	"context"
	"fmt"
	"log/slog"

	"petlens/internal/camera"
	"petlens/internal/petapi"
)

// DefaultMaxErrors は一括保存を中断するまでに許容する失敗数
const DefaultMaxErrors = 3

// Uploader は生体画像をアップロードする
type Uploader interface {
	UploadBiometric(ctx context.Context, petID string, jpeg []byte) (*petapi.UploadResult, error)
}

// Report は一括保存の結果
type Report struct {
	PetID        string   `json:"pet_id"`
	Attempted    int      `json:"attempted"`
	Saved        int      `json:"saved"`
	Failed       int      `json:"failed"`
	SavedIDs     []string `json:"saved_ids"`
	Aborted      bool     `json:"aborted"`
	LimitReached bool     `json:"limit_reached"`
	ImagesCount  int      `json:"images_count"`
	Errors       []string `json:"errors,omitempty"`
}

// Partial は一部だけ保存できた場合に true を返す
func (r Report) Partial() bool {
	return r.Saved > 0 && r.Saved < r.Attempted
}

// Saver はキャプチャしたフレームを順番にアップロードする
type Saver struct {
	uploader  Uploader
	tracker   *Tracker
	maxErrors int
	logger    *slog.Logger
}

// NewSaver は新しいSaverを作成する。maxErrors が負の場合は既定値を使う
func NewSaver(uploader Uploader, tracker *Tracker, maxErrors int, logger *slog.Logger) *Saver {
	if maxErrors < 0 {
		maxErrors = DefaultMaxErrors
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{
		uploader:  uploader,
		tracker:   tracker,
		maxErrors: maxErrors,
		logger:    logger.With("component", "enrollment_saver"),
	}
}

// SaveAll はフレームを1枚ずつアップロードする
//
// 上限に達した時点で停止する。失敗が maxErrors を超えると中断し、
// それまでの結果を返す。
func (s *Saver) SaveAll(ctx context.Context, petID string, frames []camera.Frame) (Report, error) {
	report := Report{PetID: petID}
	if petID == "" {
		return report, fmt.Errorf("ペットIDが指定されていません")
	}

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			report.ImagesCount = s.tracker.Quota(petID).Count
			return report, err
		}

		if s.tracker.Quota(petID).Reached() {
			report.LimitReached = true
			break
		}

		report.Attempted++
		result, err := s.uploader.UploadBiometric(ctx, petID, frame.Data)
		if err != nil {
			if petapi.IsLimitReached(err) {
				s.tracker.ObserveError(petID, err)
				report.LimitReached = true
				break
			}

			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			s.logger.Warn("画像の保存に失敗しました", "pet_id", petID, "frame", frame.ID, "failed", report.Failed, "err", err)

			if report.Failed > s.maxErrors {
				report.Aborted = true
				s.logger.Error("失敗が多すぎるため保存を中断しました", "pet_id", petID, "failed", report.Failed)
				break
			}
			continue
		}

		report.Saved++
		report.SavedIDs = append(report.SavedIDs, frame.ID)
		s.tracker.Observe(petID, result)

		if result.LimitReached {
			report.LimitReached = true
			break
		}
	}

	report.ImagesCount = s.tracker.Quota(petID).Count
	s.logger.Info("画像を保存しました", "pet_id", petID, "saved", report.Saved,
		"failed", report.Failed, "images_count", report.ImagesCount)
	return report, nil
}
