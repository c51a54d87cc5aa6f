// Package model はドメインモデルを定義する。
package model

import "time"

// VisitedSet はユーザーごとの訪問国ドキュメントを表す。
// ユーザーIDをキーとする1行に、訪問国コードの配列を保持する。
// CountryCodesは常に非nil（空スライスを含む）で、重複なし・昇順ソート済み。
type VisitedSet struct {
	UserID       string
	CountryCodes []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contains は指定された国コードが訪問済みかを返す。
func (v *VisitedSet) Contains(code string) bool {
	for _, c := range v.CountryCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ChangeKind は訪問国セットの変更種別を表す。
type ChangeKind string

const (
	// ChangeKindSnapshot は購読開始時に送る現在のスナップショット。
	ChangeKindSnapshot ChangeKind = "snapshot"
	// ChangeKindAdded は国が訪問済みに追加された変更。
	ChangeKindAdded ChangeKind = "added"
	// ChangeKindRemoved は国が訪問済みから外された変更。
	ChangeKindRemoved ChangeKind = "removed"
	// ChangeKindReplaced は配列全体が置換された変更。
	ChangeKindReplaced ChangeKind = "replaced"
)

// VisitedChange は訪問国セットの1回の変更イベントを表す。
// リアルタイム購読（SSE）とWebhook通知の両方で配信される。
type VisitedChange struct {
	EventID      string     `json:"event_id"`
	UserID       string     `json:"user_id"`
	Kind         ChangeKind `json:"kind"`
	CountryCode  string     `json:"country_code,omitempty"`
	CountryCodes []string   `json:"country_codes"`
	OccurredAt   time.Time  `json:"occurred_at"`
}
