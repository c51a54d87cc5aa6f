package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/metrics"
	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/repository"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Dispatcher は個別の配送レコードのHTTP配信を行う。
// 配信先URLと署名シークレットは配信時点のWebhook設定から読み直すため、
// キュー投入後のURL変更や無効化が未配信分にも反映される。
type Dispatcher struct {
	deliveryRepo repository.DeliveryRepository
	webhookRepo  repository.WebhookRepository
	ssrfGuard    SSRFValidator
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	timeout      time.Duration
	maxBodySize  int64
	maxAttempts  int
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(
	deliveryRepo repository.DeliveryRepository,
	webhookRepo repository.WebhookRepository,
	ssrfGuard SSRFValidator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
	maxAttempts int,
) *Dispatcher {
	return &Dispatcher{
		deliveryRepo: deliveryRepo,
		webhookRepo:  webhookRepo,
		ssrfGuard:    ssrfGuard,
		collector:    collector,
		logger:       logger,
		timeout:      timeout,
		maxBodySize:  maxBodySize,
		maxAttempts:  maxAttempts,
	}
}

// Dispatch は配送レコードを1件配信し、結果に応じて状態を更新する。
// DeliveryDispatcherServiceインターフェースを実装する。
// 呼び出し時点でClaimDueによりattemptsは加算済み（今回が何回目の試行か）。
func (d *Dispatcher) Dispatch(ctx context.Context, delivery *model.WebhookDelivery) error {
	start := time.Now()

	// 配信時点のWebhook設定を読み直す
	webhook, err := d.webhookRepo.FindByUserID(ctx, delivery.UserID)
	if err != nil {
		return fmt.Errorf("Webhook設定の取得に失敗しました: %w", err)
	}
	if webhook == nil || !webhook.Enabled {
		d.logger.Info("Webhookが削除または無効化されているため配信を打ち切ります",
			slog.String("delivery_id", delivery.ID),
			slog.String("user_id", delivery.UserID),
		)
		d.collector.RecordDeliveryFailure("unregistered")
		return d.deliveryRepo.MarkFailed(ctx, delivery.ID, "Webhookが削除または無効化されています")
	}

	// SSRF検証（登録後にDNSが付け替えられた場合もクライアント側Dialerで遮断される）
	if err := d.ssrfGuard.ValidateURL(webhook.URL); err != nil {
		d.logger.Error("SSRF検証に失敗しました",
			slog.String("delivery_id", delivery.ID),
			slog.String("url", webhook.URL),
			slog.String("error", err.Error()),
		)
		d.collector.RecordDeliveryFailure("blocked_url")
		return d.deliveryRepo.MarkFailed(ctx, delivery.ID, fmt.Sprintf("SSRF検証失敗: %s", err.Error()))
	}

	// HTTPリクエスト構築
	client := d.ssrfGuard.NewSafeClient(d.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Paises/1.0 Webhook")
	req.Header.Set("X-Paises-Delivery", delivery.ID)
	req.Header.Set("X-Paises-Signature", SignPayload(webhook.Secret, delivery.Payload))

	// HTTPリクエスト実行
	resp, err := client.Do(req)
	if err != nil {
		d.logger.Warn("Webhook配信のHTTPリクエストに失敗しました",
			slog.String("delivery_id", delivery.ID),
			slog.String("url", webhook.URL),
			slog.Int("attempt", delivery.Attempts),
			slog.String("error", err.Error()),
		)
		return d.retryOrFail(ctx, delivery, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()))
	}
	defer resp.Body.Close()

	// レスポンスボディは読み捨てる（コネクション再利用のため、上限付き）
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, d.maxBodySize))

	duration := time.Since(start)

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case DeliveryResultOK:
		d.collector.RecordDeliverySuccess()
		d.collector.RecordDeliveryLatency(duration)
		d.logger.Info("Webhook配信が完了しました",
			slog.String("delivery_id", delivery.ID),
			slog.String("user_id", delivery.UserID),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("attempt", delivery.Attempts),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return d.deliveryRepo.MarkDelivered(ctx, delivery.ID)

	case DeliveryResultBackoff:
		d.logger.Warn("Webhook配信にバックオフを適用します",
			slog.String("delivery_id", delivery.ID),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("attempt", delivery.Attempts),
		)
		return d.retryOrFail(ctx, delivery, fmt.Sprintf("HTTPステータス %d", resp.StatusCode))

	default:
		// 429を除く4xx: 受信側の拒否は再試行しても回復しない
		d.logger.Warn("Webhook配信が恒久的に拒否されました",
			slog.String("delivery_id", delivery.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		d.collector.RecordDeliveryFailure("permanent")
		return d.deliveryRepo.MarkFailed(ctx, delivery.ID,
			fmt.Sprintf("HTTPステータス %d により配信を打ち切りました", resp.StatusCode))
	}
}

// retryOrFail は再試行回数の上限を確認し、上限内なら指数バックオフで
// 再スケジュール、超過していれば恒久失敗として記録する。
func (d *Dispatcher) retryOrFail(ctx context.Context, delivery *model.WebhookDelivery, reason string) error {
	if delivery.Attempts >= d.maxAttempts {
		d.logger.Warn("再試行上限に達したためWebhook配信を打ち切ります",
			slog.String("delivery_id", delivery.ID),
			slog.Int("attempts", delivery.Attempts),
		)
		d.collector.RecordDeliveryFailure("max_attempts")
		return d.deliveryRepo.MarkFailed(ctx, delivery.ID,
			fmt.Sprintf("再試行上限（%d回）に達しました: %s", d.maxAttempts, reason))
	}

	d.collector.RecordDeliveryFailure("retryable")
	nextAttemptAt := time.Now().UTC().Add(CalculateBackoff(delivery.Attempts))
	return d.deliveryRepo.Reschedule(ctx, delivery.ID, nextAttemptAt, reason)
}

// SignPayload はペイロードのHMAC-SHA256署名を計算する。
// 受信側はX-Paises-Signatureヘッダーの値と照合してリクエストを検証できる。
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
