// Package webhook はWebhook設定の管理と変更イベントの配送キュー投入を提供する。
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/repository"
	"github.com/matgal21/app-paises-visitados/internal/security"
)

// Service はWebhook設定と配送アウトボックスのサービス。
type Service struct {
	webhookRepo  repository.WebhookRepository
	deliveryRepo repository.DeliveryRepository
	guard        security.SSRFGuardService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	webhookRepo repository.WebhookRepository,
	deliveryRepo repository.DeliveryRepository,
	guard security.SSRFGuardService,
) *Service {
	return &Service{
		webhookRepo:  webhookRepo,
		deliveryRepo: deliveryRepo,
		guard:        guard,
	}
}

// Register は指定URLへのWebhookを登録する。既存の登録は上書きされる（1ユーザー1件）。
// URLはユーザー入力のため、保存前にSSRF防止の静的検証を通す。
// 署名用シークレットは初回登録時に生成し、再登録時は既存のものを引き継ぐ
// （URLの変更や有効/無効の切り替えで受信側の署名検証が壊れないようにする）。
func (s *Service) Register(ctx context.Context, userID, rawURL string, enabled bool) (*model.Webhook, error) {
	if err := s.guard.ValidateURL(rawURL); err != nil {
		if errors.Is(err, security.ErrURLBlocked) {
			return nil, model.NewSSRFBlockedError()
		}
		return nil, model.NewInvalidURLError(err.Error())
	}

	existing, err := s.webhookRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Webhook設定の取得に失敗しました: %w", err)
	}

	secret := ""
	if existing != nil {
		secret = existing.Secret
	}
	if secret == "" {
		secret, err = generateSecret()
		if err != nil {
			return nil, fmt.Errorf("署名用シークレットの生成に失敗しました: %w", err)
		}
	}

	webhook := &model.Webhook{
		UserID:  userID,
		URL:     rawURL,
		Secret:  secret,
		Enabled: enabled,
	}
	if err := s.webhookRepo.Upsert(ctx, webhook); err != nil {
		return nil, fmt.Errorf("Webhook設定の保存に失敗しました: %w", err)
	}

	slog.Info("Webhookを登録しました",
		slog.String("user_id", userID),
		slog.String("url", rawURL),
		slog.Bool("enabled", enabled),
	)
	return webhook, nil
}

// Get はユーザーのWebhook設定を返す。未登録の場合はWEBHOOK_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.Webhook, error) {
	webhook, err := s.webhookRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Webhook設定の取得に失敗しました: %w", err)
	}
	if webhook == nil {
		return nil, model.NewWebhookNotFoundError()
	}
	return webhook, nil
}

// Delete はユーザーのWebhook設定と未配信の配送レコードを削除する。
// 未登録の場合はWEBHOOK_NOT_FOUNDを返す。
func (s *Service) Delete(ctx context.Context, userID string) error {
	webhook, err := s.webhookRepo.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("Webhook設定の取得に失敗しました: %w", err)
	}
	if webhook == nil {
		return model.NewWebhookNotFoundError()
	}

	if err := s.deliveryRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("配送レコードの削除に失敗しました: %w", err)
	}
	if err := s.webhookRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("Webhook設定の削除に失敗しました: %w", err)
	}

	slog.Info("Webhookを削除しました", slog.String("user_id", userID))
	return nil
}

// EnqueueChange は変更イベントを配送アウトボックスにpendingで登録する。
// Webhookが未登録または無効の場合は何もしない。
// 配信先URLとシークレットは配信時に読み直すため、ここではペイロードのみを保存する。
func (s *Service) EnqueueChange(ctx context.Context, change model.VisitedChange) error {
	webhook, err := s.webhookRepo.FindByUserID(ctx, change.UserID)
	if err != nil {
		return fmt.Errorf("Webhook設定の取得に失敗しました: %w", err)
	}
	if webhook == nil || !webhook.Enabled {
		return nil
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("配送ペイロードのシリアライズに失敗しました: %w", err)
	}

	delivery := &model.WebhookDelivery{
		ID:            uuid.New().String(),
		UserID:        change.UserID,
		Payload:       payload,
		Status:        model.DeliveryStatusPending,
		Attempts:      0,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := s.deliveryRepo.Enqueue(ctx, delivery); err != nil {
		return fmt.Errorf("配送レコードの登録に失敗しました: %w", err)
	}

	slog.Debug("Webhook配送をキューに投入しました",
		slog.String("user_id", change.UserID),
		slog.String("event_id", change.EventID),
		slog.String("delivery_id", delivery.ID),
	)
	return nil
}

// generateSecret はHMAC署名用の暗号学的に安全なシークレットを生成する。
// 32バイトの乱数を64文字の16進数文字列として返す。
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
