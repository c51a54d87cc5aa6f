// Package visited は訪問国リストの管理機能を提供する。
package visited

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/matgal21/app-paises-visitados/internal/country"
	"github.com/matgal21/app-paises-visitados/internal/metrics"
	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/repository"
)

// ChangePublisher は変更イベントのSSE購読者への配信先。
type ChangePublisher interface {
	Publish(change model.VisitedChange)
}

// ChangeNotifier は変更イベントのWebhook配送キューへの投入先。
type ChangeNotifier interface {
	EnqueueChange(ctx context.Context, change model.VisitedChange) error
}

// Service は訪問国セットの取得・トグル・置換のサービス。
type Service struct {
	repo      repository.VisitedRepository
	publisher ChangePublisher
	notifier  ChangeNotifier
	collector metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.VisitedRepository,
	publisher ChangePublisher,
	notifier ChangeNotifier,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		notifier:  notifier,
		collector: collector,
	}
}

// ToggleResult はToggleの戻り値。
type ToggleResult struct {
	CountryCodes []string
	Added        bool
	EventID      string
}

// Get はユーザーの訪問国セットを返す。
// レコードが存在しない場合は空のセットを一度だけ作成してから返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.VisitedSet, error) {
	set, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("訪問国リストの取得に失敗しました: %w", err)
	}
	if set != nil {
		return set, nil
	}

	// 初回アクセス時のみ空のリストを作成する（既存データは上書きしない）
	if err := s.repo.EnsureExists(ctx, userID); err != nil {
		return nil, fmt.Errorf("訪問国リストの初期化に失敗しました: %w", err)
	}
	slog.Info("訪問国リストを初期化しました", slog.String("user_id", userID))

	set, err = s.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("訪問国リストの取得に失敗しました: %w", err)
	}
	if set == nil {
		return nil, errors.New("訪問国リストの初期化後にレコードが見つかりません")
	}
	return set, nil
}

// Toggle は指定された国の訪問済み状態を反転して永続化する。
// 未訪問なら追加、訪問済みなら削除となり、同じ国を2回トグルすると元のセットに戻る。
// 変更はSSE購読者とWebhook配送キューに配信される。
func (s *Service) Toggle(ctx context.Context, userID, rawCode string) (*ToggleResult, error) {
	code := country.Normalize(rawCode)
	if !country.Exists(code) {
		return nil, model.NewCountryNotFoundError(code)
	}

	if err := s.repo.EnsureExists(ctx, userID); err != nil {
		return nil, fmt.Errorf("訪問国リストの初期化に失敗しました: %w", err)
	}

	codes, err := s.repo.ToggleCode(ctx, userID, code)
	if err != nil {
		return nil, fmt.Errorf("訪問国の切り替えに失敗しました: %w", err)
	}

	added := containsCode(codes, code)
	kind := model.ChangeKindRemoved
	if added {
		kind = model.ChangeKindAdded
	}

	change := s.newChange(userID, kind, code, codes)
	s.dispatch(ctx, change)
	s.collector.RecordToggle(string(kind))

	slog.Info("訪問国を切り替えました",
		slog.String("user_id", userID),
		slog.String("country_code", code),
		slog.Bool("added", added),
	)

	return &ToggleResult{
		CountryCodes: codes,
		Added:        added,
		EventID:      change.EventID,
	}, nil
}

// Replace は訪問国セット全体を指定されたコード群で置き換える。
// コードは正規化・重複排除・昇順ソートされ、不明なコードが
// 含まれる場合は何も書き込まずエラーを返す。
func (s *Service) Replace(ctx context.Context, userID string, rawCodes []string) ([]string, error) {
	codes, err := normalizeCodes(rawCodes)
	if err != nil {
		return nil, err
	}

	if err := s.repo.EnsureExists(ctx, userID); err != nil {
		return nil, fmt.Errorf("訪問国リストの初期化に失敗しました: %w", err)
	}

	if err := s.repo.ReplaceCodes(ctx, userID, codes); err != nil {
		return nil, fmt.Errorf("訪問国リストの置換に失敗しました: %w", err)
	}

	change := s.newChange(userID, model.ChangeKindReplaced, "", codes)
	s.dispatch(ctx, change)
	s.collector.RecordReplace()

	slog.Info("訪問国リストを置換しました",
		slog.String("user_id", userID),
		slog.Int("count", len(codes)),
	)

	return codes, nil
}

// newChange は変更イベントを生成する。
// EventIDはULIDで、辞書順が発行順と一致するためSSEのLast-Event-ID
// リプレイとWebhookペイロードの両方で同一IDを使う。
func (s *Service) newChange(userID string, kind model.ChangeKind, code string, codes []string) model.VisitedChange {
	return model.VisitedChange{
		EventID:      ulid.Make().String(),
		UserID:       userID,
		Kind:         kind,
		CountryCode:  code,
		CountryCodes: codes,
		OccurredAt:   time.Now().UTC(),
	}
}

// dispatch は変更イベントをSSE購読者とWebhook配送キューに渡す。
// 配送キュー投入の失敗は警告ログに留め、本体の更新操作は成功扱いとする。
func (s *Service) dispatch(ctx context.Context, change model.VisitedChange) {
	s.publisher.Publish(change)

	if err := s.notifier.EnqueueChange(ctx, change); err != nil {
		slog.Warn("Webhook配送キューへの投入に失敗しました",
			slog.String("user_id", change.UserID),
			slog.String("event_id", change.EventID),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeCodes は国コード群を正規化し、重複を除いて昇順に整列する。
// 不明なコードが含まれる場合はエラーを返す。
func normalizeCodes(rawCodes []string) ([]string, error) {
	seen := make(map[string]bool, len(rawCodes))
	codes := make([]string, 0, len(rawCodes))
	for _, raw := range rawCodes {
		code := country.Normalize(raw)
		if !country.Exists(code) {
			return nil, model.NewCountryNotFoundError(code)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
