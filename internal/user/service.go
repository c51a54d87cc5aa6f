// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/repository"
	"github.com/matgal21/app-paises-visitados/internal/security"
)

// maxDisplayNameLength は表示名の最大文字数（ルーン数）。
const maxDisplayNameLength = 50

// VisitedDeleter は訪問国レコードの一括削除インターフェース。
type VisitedDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// WebhookDeleter はWebhook設定の一括削除インターフェース。
type WebhookDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// DeliveryDeleter はWebhook配信レコードの一括削除インターフェース。
type DeliveryDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
// プロフィール更新と退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo        repository.UserRepository
	sessionRepo     repository.SessionRepository
	visitedDeleter  VisitedDeleter
	webhookDeleter  WebhookDeleter
	deliveryDeleter DeliveryDeleter
	sanitizer       security.NameSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	visitedDeleter VisitedDeleter,
	webhookDeleter WebhookDeleter,
	deliveryDeleter DeliveryDeleter,
	sanitizer security.NameSanitizerService,
) *Service {
	return &Service{
		userRepo:        userRepo,
		sessionRepo:     sessionRepo,
		visitedDeleter:  visitedDeleter,
		webhookDeleter:  webhookDeleter,
		deliveryDeleter: deliveryDeleter,
		sanitizer:       sanitizer,
	}
}

// UpdateProfile は表示名を更新する。
// 表示名はHTMLタグを除去した上で保存される。除去後に空になる場合、
// および50文字を超える場合はINVALID_DISPLAY_NAMEエラーを返す。
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	clean := s.sanitizer.Sanitize(displayName)
	if clean == "" {
		return nil, model.NewInvalidDisplayNameError("表示名が空です")
	}
	if utf8.RuneCountInString(clean) > maxDisplayNameLength {
		return nil, model.NewInvalidDisplayNameError(
			fmt.Sprintf("表示名は%d文字以内で入力してください", maxDisplayNameLength))
	}

	if err := s.userRepo.UpdateDisplayName(ctx, userID, clean); err != nil {
		return nil, fmt.Errorf("表示名の更新に失敗しました: %w", err)
	}

	slog.Info("表示名を更新しました",
		slog.String("user_id", userID),
	)

	user.DisplayName = clean
	return user, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: visited_countries → webhook_deliveries → webhooks → sessions → user
// DynamoDBバックエンドには外部キー制約がないため、サービス層で明示的に削除する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. 訪問国レコードを削除
	if s.visitedDeleter != nil {
		if err := s.visitedDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("訪問国レコードの削除に失敗しました: %w", err)
		}
	}

	// 2. Webhook配信レコードを削除（webhooksより先に削除する）
	if s.deliveryDeleter != nil {
		if err := s.deliveryDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("Webhook配信レコードの削除に失敗しました: %w", err)
		}
	}

	// 3. Webhook設定を削除
	if s.webhookDeleter != nil {
		if err := s.webhookDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("Webhook設定の削除に失敗しました: %w", err)
		}
	}

	// 4. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 5. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
