package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/metrics"
)

// statusRecorder はhttp.ResponseWriterをラップし、ハンドラが確定した
// ステータスコードをログとメトリクスのために保持する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// record は最初に確定したステータスコードだけを保持する。
func (sr *statusRecorder) record(code int) {
	if sr.written {
		return
	}
	sr.statusCode = code
	sr.written = true
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.record(code)
	sr.ResponseWriter.WriteHeader(code)
}

// Write はWriteHeader未呼び出しの書き込みを暗黙の200として記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.record(http.StatusOK)
	return sr.ResponseWriter.Write(b)
}

// Flush はバッファ済みレスポンスをクライアントへ送出する。
// SSEエンドポイントはこのラッパー越しにhttp.Flusherを必要とする。
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap はhttp.ResponseController経由の操作を下層のResponseWriterに委譲する。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// NewLoggingMiddleware はリクエスト1件ごとにJSON構造化ログを出力するミドルウェアを返す。
// ログレベルはレスポンスに応じて変わり、5xxはError、4xxはWarn、それ以外はInfoで出力する。
// collectorが非nilの場合はステータスコードをメトリクスにも記録する。
func NewLoggingMiddleware(logger *slog.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			if collector != nil {
				collector.RecordHTTPStatus(rec.statusCode)
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(time.Since(start))/float64(time.Millisecond)),
			}
			if userID, err := UserIDFromContext(r.Context()); err == nil {
				attrs = append(attrs, slog.String("user_id", userID))
			}

			logger.LogAttrs(r.Context(), levelForStatus(rec.statusCode), "http_request", attrs...)
		})
	}
}

// levelForStatus は5xxをError、4xxをWarn、それ以外をInfoに対応付ける。
func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
