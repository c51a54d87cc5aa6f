package dispatch

import "time"

// DeliveryResult はHTTPステータスコードに基づく配信結果の分類。
type DeliveryResult int

const (
	// DeliveryResultOK は配信成功（2xx）。
	DeliveryResultOK DeliveryResult = iota
	// DeliveryResultPermanent は再試行しない失敗（429を除く4xx）。
	DeliveryResultPermanent
	// DeliveryResultBackoff はバックオフ付き再試行が必要なステータス（408/429/5xx）。
	DeliveryResultBackoff
)

const (
	// initialBackoff は指数バックオフの初回遅延（30秒）。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = 1 * time.Hour
)

// ClassifyHTTPStatus はHTTPステータスコードを配信結果に分類する。
// 受信側の実装不備（4xx）は再試行しても回復しないため恒久失敗とし、
// タイムアウト・レート制限・サーバーエラーのみ再試行する。
func ClassifyHTTPStatus(statusCode int) DeliveryResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return DeliveryResultOK
	case statusCode == 408 || statusCode == 429:
		return DeliveryResultBackoff
	case statusCode >= 500:
		return DeliveryResultBackoff
	default:
		return DeliveryResultPermanent
	}
}

// CalculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回30秒、2倍ずつ増加、最大1時間。attemptは完了済みの試行回数（1始まり）。
func CalculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
