package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// PostgresDeliveryRepo はPostgreSQLを使用したWebhook配信アウトボックスリポジトリ。
type PostgresDeliveryRepo struct {
	db *sql.DB
}

// NewPostgresDeliveryRepo はPostgresDeliveryRepoを生成する。
func NewPostgresDeliveryRepo(db *sql.DB) *PostgresDeliveryRepo {
	return &PostgresDeliveryRepo{db: db}
}

var _ DeliveryRepository = (*PostgresDeliveryRepo)(nil)

// Enqueue は配信レコードをpending状態で登録する。
// payloadはJSONBカラムのため、byteaとして送られないようテキストに変換して渡す。
func (r *PostgresDeliveryRepo) Enqueue(ctx context.Context, delivery *model.WebhookDelivery) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries
		     (id, user_id, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		delivery.ID, delivery.UserID, string(delivery.Payload), delivery.Status,
		delivery.Attempts, delivery.NextAttemptAt, delivery.LastError,
		delivery.CreatedAt, delivery.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	return nil
}

// ClaimDue は配信期限が到来したpendingレコードを最大limit件取得する。
// サブクエリのFOR UPDATE SKIP LOCKEDで多重取得を防ぎ、取得と同時に
// attemptsを加算してnext_attempt_atをlease分先送りする。
// ワーカーが配信中に落ちてもlease経過後に別のワーカーが再取得できる。
func (r *PostgresDeliveryRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE webhook_deliveries
		 SET attempts = attempts + 1,
		     next_attempt_at = now() + $2 * interval '1 second',
		     updated_at = now()
		 WHERE id IN (
		     SELECT id FROM webhook_deliveries
		     WHERE status = 'pending' AND next_attempt_at <= now()
		     ORDER BY next_attempt_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, user_id, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at`,
		limit, int64(lease.Seconds()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.WebhookDelivery
	for rows.Next() {
		d := &model.WebhookDelivery{}
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.Payload, &d.Status, &d.Attempts,
			&d.NextAttemptAt, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}

	return deliveries, nil
}

// MarkDelivered は配信成功を記録する。
func (r *PostgresDeliveryRepo) MarkDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'delivered', last_error = '', updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark delivery as delivered: %w", err)
	}
	return nil
}

// MarkFailed は恒久的な配信失敗を記録する。以後の再試行は行われない。
func (r *PostgresDeliveryRepo) MarkFailed(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to mark delivery as failed: %w", err)
	}
	return nil
}

// Reschedule は次回再試行時刻を設定して失敗理由を記録する。statusはpendingのまま。
func (r *PostgresDeliveryRepo) Reschedule(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET next_attempt_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`,
		id, nextAttemptAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule delivery: %w", err)
	}
	return nil
}

// DeleteFinished は指定時刻より前に完了したレコードを削除し、削除件数を返す。
func (r *PostgresDeliveryRepo) DeleteFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_deliveries
		 WHERE status IN ('delivered', 'failed') AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished deliveries: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// DeleteByUserID は指定ユーザーの全配信レコードを削除する。
func (r *PostgresDeliveryRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_deliveries WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user deliveries: %w", err)
	}
	return nil
}
