package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// PostgresWebhookRepo はPostgreSQLを使用したWebhook設定リポジトリ。
type PostgresWebhookRepo struct {
	db *sql.DB
}

// NewPostgresWebhookRepo はPostgresWebhookRepoを生成する。
func NewPostgresWebhookRepo(db *sql.DB) *PostgresWebhookRepo {
	return &PostgresWebhookRepo{db: db}
}

var _ WebhookRepository = (*PostgresWebhookRepo)(nil)

// Upsert はWebhook設定を作成または更新する。ユーザーごとに1件。
func (r *PostgresWebhookRepo) Upsert(ctx context.Context, webhook *model.Webhook) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhooks (user_id, url, secret, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE
		 SET url = EXCLUDED.url, secret = EXCLUDED.secret,
		     enabled = EXCLUDED.enabled, updated_at = now()`,
		webhook.UserID, webhook.URL, webhook.Secret, webhook.Enabled,
		webhook.CreatedAt, webhook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert webhook: %w", err)
	}
	return nil
}

// FindByUserID は指定ユーザーのWebhook設定を取得する。見つからない場合はnilを返す。
func (r *PostgresWebhookRepo) FindByUserID(ctx context.Context, userID string) (*model.Webhook, error) {
	webhook := &model.Webhook{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, url, secret, enabled, created_at, updated_at
		 FROM webhooks WHERE user_id = $1`,
		userID,
	).Scan(&webhook.UserID, &webhook.URL, &webhook.Secret, &webhook.Enabled,
		&webhook.CreatedAt, &webhook.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find webhook: %w", err)
	}

	return webhook, nil
}

// DeleteByUserID は指定ユーザーのWebhook設定を削除する。
func (r *PostgresWebhookRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM webhooks WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}
