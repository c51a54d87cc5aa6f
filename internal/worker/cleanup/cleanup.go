// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 有効期限を過ぎたセッションと、保持期間（デフォルト7日）を超過した
// 完了済みWebhook配信レコードを定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションの削除を抽象化するインターフェース。
// repository.SessionRepository のサブセットを受け付ける。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// DeliveryPurger は完了済み配信レコードの削除を抽象化するインターフェース。
// repository.DeliveryRepository のサブセットを受け付ける。
type DeliveryPurger interface {
	DeleteFinished(ctx context.Context, olderThan time.Time) (int64, error)
}

// CleanupJob は期限切れセッションと古い配信レコードの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessions      SessionPurger
	deliveries    DeliveryPurger
	logger        *slog.Logger
	RetentionDays int // 完了済み配信レコードの保持日数（デフォルト: 7）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// 配信レコードのデフォルト保持日数は7日。
func NewCleanupJob(sessions SessionPurger, deliveries DeliveryPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		deliveries:    deliveries,
		logger:        logger,
		RetentionDays: 7,
	}
}

// Run は期限切れセッションと保持期間を超過した完了済み配信レコードを削除する。
// セッションはexpires_atが現在時刻より過去のものをDELETEする。
// 配信レコードはdelivered/failedで確定し、RetentionDays日前より古いものをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedSessions, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -j.RetentionDays)
	deletedDeliveries, err := j.deliveries.DeleteFinished(ctx, cutoff)
	if err != nil {
		j.logger.Error("完了済み配信レコードの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("完了済み配信レコードの削除に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Int64("deleted_deliveries", deletedDeliveries),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
