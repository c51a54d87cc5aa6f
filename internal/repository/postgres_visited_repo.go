package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// PostgresVisitedRepo はPostgreSQLを使用した訪問国リポジトリ。
// country_codesカラムはTEXT[]で、pq.Arrayを介して読み書きする。
type PostgresVisitedRepo struct {
	db *sql.DB
}

// NewPostgresVisitedRepo はPostgresVisitedRepoを生成する。
func NewPostgresVisitedRepo(db *sql.DB) *PostgresVisitedRepo {
	return &PostgresVisitedRepo{db: db}
}

var _ VisitedRepository = (*PostgresVisitedRepo)(nil)

// Get は指定ユーザーの訪問国セットを取得する。レコードが存在しない場合はnilを返す。
func (r *PostgresVisitedRepo) Get(ctx context.Context, userID string) (*model.VisitedSet, error) {
	set := &model.VisitedSet{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, country_codes, created_at, updated_at
		 FROM visited_countries WHERE user_id = $1`,
		userID,
	).Scan(&set.UserID, pq.Array(&set.CountryCodes), &set.CreatedAt, &set.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find visited record: %w", err)
	}

	// 空配列はnilではなく空スライスとして返す
	if set.CountryCodes == nil {
		set.CountryCodes = []string{}
	}

	return set, nil
}

// EnsureExists は指定ユーザーの空の訪問国レコードを作成する。
// 既に存在する場合は何もしない（冪等）。
func (r *PostgresVisitedRepo) EnsureExists(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO visited_countries (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure visited record: %w", err)
	}
	return nil
}

// ToggleCode は国コードの有無を反転し、更新後の配列を返す。
// 反転は1文のUPDATEで行われるため、同一レコードへの並行トグルでも
// 配列の破損は起きない。追加時はソート順を維持する。
func (r *PostgresVisitedRepo) ToggleCode(ctx context.Context, userID, code string) ([]string, error) {
	var codes []string
	err := r.db.QueryRowContext(ctx,
		`UPDATE visited_countries
		 SET country_codes = CASE
		         WHEN $2 = ANY(country_codes) THEN array_remove(country_codes, $2)
		         ELSE (SELECT array_agg(c ORDER BY c) FROM unnest(array_append(country_codes, $2)) AS c)
		     END,
		     updated_at = now()
		 WHERE user_id = $1
		 RETURNING country_codes`,
		userID, code,
	).Scan(pq.Array(&codes))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("visited record not found: %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to toggle country code: %w", err)
	}

	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

// ReplaceCodes は訪問国配列全体を置き換える。レコードが無ければ作成する。
func (r *PostgresVisitedRepo) ReplaceCodes(ctx context.Context, userID string, codes []string) error {
	if codes == nil {
		codes = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO visited_countries (user_id, country_codes)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET country_codes = EXCLUDED.country_codes, updated_at = now()`,
		userID, pq.Array(codes),
	)
	if err != nil {
		return fmt.Errorf("failed to replace country codes: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの訪問国レコードを削除する。
func (r *PostgresVisitedRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM visited_countries WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete visited record: %w", err)
	}
	return nil
}
