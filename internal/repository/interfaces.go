// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。
	// 大文字小文字は区別しない。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateDisplayName は表示名を更新する。
	UpdateDisplayName(ctx context.Context, id, displayName string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、visited_countries、webhooks、webhook_deliveriesは
	// CASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// VisitedRepository は訪問国データの永続化インターフェース。
// ユーザーごとに1レコードで、国コード配列は常に重複なし・昇順ソート済みを前提とする。
type VisitedRepository interface {
	// Get は指定ユーザーの訪問国セットを取得する。レコードが存在しない場合はnilを返す。
	Get(ctx context.Context, userID string) (*model.VisitedSet, error)

	// EnsureExists は指定ユーザーの空の訪問国レコードを作成する。
	// 既に存在する場合は何もしない（冪等）。
	EnsureExists(ctx context.Context, userID string) error

	// ToggleCode は国コードの有無を反転し、更新後の配列を返す。
	// 含まれていれば取り除き、含まれていなければソート順を保って追加する。
	// 反転は1レコードに対して原子的に行われる。
	ToggleCode(ctx context.Context, userID, code string) ([]string, error)

	// ReplaceCodes は訪問国配列全体を置き換える。
	// 呼び出し側で正規化（重複除去・昇順ソート）済みであること。
	ReplaceCodes(ctx context.Context, userID string, codes []string) error

	// DeleteByUserID は指定ユーザーの訪問国レコードを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// WebhookRepository はWebhook設定の永続化インターフェース。
type WebhookRepository interface {
	// Upsert はWebhook設定を作成または更新する。ユーザーごとに1件。
	Upsert(ctx context.Context, webhook *model.Webhook) error

	// FindByUserID は指定ユーザーのWebhook設定を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Webhook, error)

	// DeleteByUserID は指定ユーザーのWebhook設定を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// DeliveryRepository はWebhook配信アウトボックスの永続化インターフェース。
type DeliveryRepository interface {
	// Enqueue は配信レコードをpending状態で登録する。
	Enqueue(ctx context.Context, delivery *model.WebhookDelivery) error

	// ClaimDue は配信期限が到来したpendingレコードを最大limit件取得する。
	// FOR UPDATE SKIP LOCKEDで多重取得を防ぎ、取得と同時にattemptsを加算して
	// next_attempt_atをlease分だけ先送りする。ワーカーが途中で落ちても
	// lease経過後に別のワーカーが再取得できる。
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error)

	// MarkDelivered は配信成功を記録する。
	MarkDelivered(ctx context.Context, id string) error

	// MarkFailed は恒久的な配信失敗を記録する。以後の再試行は行われない。
	MarkFailed(ctx context.Context, id, lastError string) error

	// Reschedule は次回再試行時刻を設定して失敗理由を記録する。statusはpendingのまま。
	Reschedule(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error

	// DeleteFinished は指定時刻より前に完了（delivered/failed）したレコードを削除し、
	// 削除件数を返す。
	DeleteFinished(ctx context.Context, olderThan time.Time) (int64, error)

	// DeleteByUserID は指定ユーザーの全配信レコードを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
