// Package dispatch はWebhook配信のバックグラウンド処理を提供する。
// スケジューラ、ディスパッチャー、リトライ/バックオフ戦略を含む。
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/repository"
)

// claimBatchSize は1サイクルで取得する配送レコードの最大件数。
const claimBatchSize = 100

// claimLease は取得した配送レコードの占有期間。
// ワーカーが配信中にクラッシュしても、この期間の経過後に別のワーカーが再取得できる。
const claimLease = 5 * time.Minute

// DeliveryDispatcherService はWebhook配信の実行インターフェース。
type DeliveryDispatcherService interface {
	// Dispatch は配送レコードを1件配信し、結果に応じて状態を更新する。
	Dispatch(ctx context.Context, delivery *model.WebhookDelivery) error
}

// Scheduler はWebhook配信のスケジューリングと並列制御を行う。
// 一定間隔のティッカーで配信期限が到来したレコードを取得し、
// semaphoreパターンで最大並列数を制御しながら配信を実行する。
type Scheduler struct {
	deliveryRepo   repository.DeliveryRepository
	dispatcher     DeliveryDispatcherService
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	deliveryRepo repository.DeliveryRepository,
	dispatcher DeliveryDispatcherService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		deliveryRepo:   deliveryRepo,
		dispatcher:     dispatcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、以降はコンテキストがキャンセルされるまで周期実行を続ける。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("Webhook配信スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	runCycle := func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("配信サイクルの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
	runCycle()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Webhook配信スケジューラを停止しました")
			return
		case <-ticker.C:
			runCycle()
		}
	}
}

// RunOnce は配信期限が到来した配送レコードを1回取得し、並列で配信を実行する。
// 個別配送の失敗はログに記録するのみで、エラーとして返さない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 配信対象を取得（FOR UPDATE SKIP LOCKED + lease）
	deliveries, err := s.deliveryRepo.ClaimDue(ctx, claimBatchSize, claimLease)
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		return nil
	}

	s.logger.Info("配信サイクルを開始します",
		slog.Int("delivery_count", len(deliveries)),
	)

	// バッファ付きチャネルで同時配信数を制限する
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, delivery := range deliveries {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.dispatchOne(ctx, delivery)
		}()
	}
	wg.Wait()

	s.logger.Info("配信サイクルが完了しました",
		slog.Int("delivery_count", len(deliveries)),
		slog.Float64("duration_ms", float64(time.Since(start))/float64(time.Millisecond)),
	)
	return nil
}

// dispatchOne は配送レコードを1件配信し、失敗をログに残す。
func (s *Scheduler) dispatchOne(ctx context.Context, delivery *model.WebhookDelivery) {
	if err := s.dispatcher.Dispatch(ctx, delivery); err != nil {
		s.logger.Error("Webhook配信処理に失敗しました",
			slog.String("delivery_id", delivery.ID),
			slog.String("user_id", delivery.UserID),
			slog.String("error", err.Error()),
		)
	}
}
