// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, visited, webhook, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthInvalidEmail     = "AUTH_INVALID_EMAIL"
	ErrCodeAuthUserNotFound     = "AUTH_USER_NOT_FOUND"
	ErrCodeAuthWrongPassword    = "AUTH_WRONG_PASSWORD"
	ErrCodeAuthEmailInUse       = "AUTH_EMAIL_IN_USE"
	ErrCodeAuthWeakPassword     = "AUTH_WEAK_PASSWORD"
	ErrCodeAuthNotConfigured    = "AUTH_NOT_CONFIGURED"
	ErrCodeAuthTooManyAttempts  = "AUTH_TOO_MANY_ATTEMPTS"
	ErrCodeAuthFailed           = "AUTH_FAILED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeCSRFTokenInvalid     = "CSRF_TOKEN_INVALID"
	ErrCodeCountryNotFound      = "COUNTRY_NOT_FOUND"
	ErrCodeOffline              = "OFFLINE"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternal             = "INTERNAL_ERROR"
	ErrCodeStreamingUnsupported = "STREAMING_UNSUPPORTED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeSSRFBlocked          = "SSRF_BLOCKED"
	ErrCodeWebhookNotFound      = "WEBHOOK_NOT_FOUND"
	ErrCodeInvalidDisplayName   = "INVALID_DISPLAY_NAME"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
)

// NewAuthError は認証エラーコードに対応するローカライズ済みエラーを生成する。
// コードとユーザー向けメッセージの対応表はここに一元化されており、
// 未知のコードには汎用の認証失敗エラーを返す。
// AUTH_NOT_CONFIGUREDのActionにはセットアップ手順を含める。
// クライアントはこのコードを受け取った場合にセットアップ案内パネルを表示する。
func NewAuthError(code string) *APIError {
	switch code {
	case ErrCodeAuthInvalidEmail:
		return &APIError{
			Code:     ErrCodeAuthInvalidEmail,
			Message:  "メールアドレスの形式が正しくありません。",
			Category: "auth",
			Action:   "正しい形式のメールアドレスを入力してください。",
		}
	case ErrCodeAuthUserNotFound:
		return &APIError{
			Code:     ErrCodeAuthUserNotFound,
			Message:  "このメールアドレスのユーザーは登録されていません。",
			Category: "auth",
			Action:   "メールアドレスを確認するか、新規登録してください。",
		}
	case ErrCodeAuthWrongPassword:
		return &APIError{
			Code:     ErrCodeAuthWrongPassword,
			Message:  "パスワードが間違っています。",
			Category: "auth",
			Action:   "パスワードを確認して再度お試しください。",
		}
	case ErrCodeAuthEmailInUse:
		return &APIError{
			Code:     ErrCodeAuthEmailInUse,
			Message:  "このメールアドレスは既に使用されています。",
			Category: "auth",
			Action:   "ログインするか、別のメールアドレスで登録してください。",
		}
	case ErrCodeAuthWeakPassword:
		return &APIError{
			Code:     ErrCodeAuthWeakPassword,
			Message:  "パスワードが脆弱です。",
			Category: "auth",
			Action:   "8文字以上のパスワードを設定してください。",
		}
	case ErrCodeAuthNotConfigured:
		return &APIError{
			Code:     ErrCodeAuthNotConfigured,
			Message:  "メール/パスワード認証が有効になっていません。",
			Category: "auth",
			Action:   "サーバー管理者に連絡し、環境変数 AUTH_EMAIL_ENABLED=true を設定してアプリケーションを再起動してもらってください。",
		}
	case ErrCodeAuthTooManyAttempts:
		return &APIError{
			Code:     ErrCodeAuthTooManyAttempts,
			Message:  "ログイン試行回数が上限に達しました。",
			Category: "auth",
			Action:   "しばらく待ってから再度お試しください。",
		}
	default:
		return &APIError{
			Code:     ErrCodeAuthFailed,
			Message:  "認証に失敗しました。",
			Category: "auth",
			Action:   "入力内容を確認し、しばらく待ってから再度お試しください。",
		}
	}
}

// AuthErrorMessage は認証エラーコードに対応するユーザー向けメッセージを返す。
// 未知のコードには汎用メッセージを返す。
func AuthErrorMessage(code string) string {
	return NewAuthError(code).Message
}

// NewUnauthorizedError は未認証エラーを生成する。
// セッションCookieの欠落・期限切れ・無効のいずれでも同じ内容を返し、
// 失効理由をクライアントに開示しない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewCountryNotFoundError は未知の国コードエラーを生成する。
func NewCountryNotFoundError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeCountryNotFound,
		Message:  fmt.Sprintf("指定された国コードが見つかりません: %s", code),
		Category: "validation",
		Action:   "ISO 3166-1 alpha-2形式の国コード（例: JP, BR）を指定してください。",
	}
}

// NewOfflineError はデータストア接続不能エラーを生成する。
// ネットワーク断やDB停止など、オフライン由来の失敗を汎用エラーと区別する。
func NewOfflineError() *APIError {
	return &APIError{
		Code:     ErrCodeOffline,
		Message:  "データストアに接続できません。オフラインの可能性があります。",
		Category: "system",
		Action:   "接続状態を確認し、復旧後に再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
// Retry-Afterヘッダーの付与はハンドラ側の責務とする。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく時間をおいてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 障害の詳細はログにのみ残し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewStreamingUnsupportedError はSSE非対応接続エラーを生成する。
func NewStreamingUnsupportedError() *APIError {
	return &APIError{
		Code:     ErrCodeStreamingUnsupported,
		Message:  "ストリーミングに対応していない接続です。",
		Category: "system",
		Action:   "SSE対応のクライアントで接続してください。",
	}
}

// NewInvalidRequestError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewWebhookNotFoundError はWebhook未登録エラーを生成する。
func NewWebhookNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeWebhookNotFound,
		Message:  "Webhookが登録されていません。",
		Category: "webhook",
		Action:   "先にWebhook URLを登録してください。",
	}
}

// NewInvalidDisplayNameError は無効な表示名エラーを生成する。
func NewInvalidDisplayNameError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDisplayName,
		Message:  fmt.Sprintf("無効な表示名です: %s", reason),
		Category: "validation",
		Action:   "1〜50文字の表示名を入力してください。HTMLタグは使用できません。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
