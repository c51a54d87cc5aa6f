package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は表示名のサニタイズ機能のインターフェースを定義する。
// プロフィール更新時のユーザー入力に使用される。
type NameSanitizerService interface {
	// Sanitize は表示名からHTMLタグを全て除去し、プレーンテキストを返す。
	// scriptタグやイベント属性を含むあらゆるマークアップが除去される。
	// 前後の空白は取り除かれ、連続する空白は1つにまとめられる。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、全てのHTML要素が除去される。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名からHTMLタグを全て除去し、プレーンテキストを返す。
// StrictPolicyはエンティティ参照（&amp;等）にエスケープするため、
// JSONで返すプレーンテキストとして扱えるよう元の文字に戻す。
func (s *nameSanitizer) Sanitize(raw string) string {
	stripped := s.policy.Sanitize(raw)
	unescaped := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(unescaped), " ")
}
