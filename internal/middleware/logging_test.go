package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// captureLog はロギングミドルウェア越しにリクエストを1件処理し、
// 出力されたJSONログを解析して返す。
func captureLog(t *testing.T, inner http.HandlerFunc, mutate func(*http.Request) *http.Request) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := NewLoggingMiddleware(logger, nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/visited", nil)
	if mutate != nil {
		req = mutate(req)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが揃うことを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	entry := captureLog(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, nil)

	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/api/visited" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/visited")
	}
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %q, want %q", entry["msg"], "http_request")
	}
	duration, ok := entry["duration_ms"].(float64)
	if !ok {
		t.Fatalf("duration_ms = %v, want float", entry["duration_ms"])
	}
	if duration < 0 {
		t.Errorf("duration_ms = %v, should be >= 0", duration)
	}
}

// TestLoggingMiddleware_UserIDField はセッションの有無でuser_idフィールドが切り替わることを検証する。
func TestLoggingMiddleware_UserIDField(t *testing.T) {
	inner := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}

	t.Run("認証済みリクエストはuser_idを含む", func(t *testing.T) {
		entry := captureLog(t, inner, func(req *http.Request) *http.Request {
			return req.WithContext(ContextWithUserID(req.Context(), "user-123"))
		})
		if entry["user_id"] != "user-123" {
			t.Errorf("user_id = %q, want %q", entry["user_id"], "user-123")
		}
	})

	t.Run("未認証リクエストはuser_idを含まない", func(t *testing.T) {
		entry := captureLog(t, inner, nil)
		if _, ok := entry["user_id"]; ok {
			t.Errorf("user_id should be absent, got %q", entry["user_id"])
		}
	})
}

// TestLoggingMiddleware_StatusAndLevel はステータスコードの記録とログレベルの対応を検証する。
// WriteHeaderを呼ばずにWriteした場合は暗黙の200として扱う。
func TestLoggingMiddleware_StatusAndLevel(t *testing.T) {
	tests := []struct {
		name       string
		respond    http.HandlerFunc
		wantStatus float64
		wantLevel  string
	}{
		{
			name: "201はINFO",
			respond: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			},
			wantStatus: 201,
			wantLevel:  "INFO",
		},
		{
			name: "404はWARN",
			respond: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantStatus: 404,
			wantLevel:  "WARN",
		},
		{
			name: "429はWARN",
			respond: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantStatus: 429,
			wantLevel:  "WARN",
		},
		{
			name: "500はERROR",
			respond: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: 500,
			wantLevel:  "ERROR",
		},
		{
			name: "WriteHeaderなしのWriteは200",
			respond: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("hello"))
			},
			wantStatus: 200,
			wantLevel:  "INFO",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := captureLog(t, tt.respond, nil)
			if entry["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %v", entry["status"], tt.wantStatus)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %q, want %q", entry["level"], tt.wantLevel)
			}
		})
	}
}

// statusCollector はRecordHTTPStatusの呼び出しを記録するテスト用コレクター。
type statusCollector struct {
	statuses []int
}

func (c *statusCollector) RecordAuthOutcome(_ string)            {}
func (c *statusCollector) RecordToggle(_ string)                 {}
func (c *statusCollector) RecordReplace()                        {}
func (c *statusCollector) RecordStreamConnected()                {}
func (c *statusCollector) RecordStreamDisconnected()             {}
func (c *statusCollector) RecordDeliverySuccess()                {}
func (c *statusCollector) RecordDeliveryFailure(_ string)        {}
func (c *statusCollector) RecordDeliveryLatency(_ time.Duration) {}

func (c *statusCollector) RecordHTTPStatus(statusCode int) {
	c.statuses = append(c.statuses, statusCode)
}

// TestLoggingMiddleware_RecordsHTTPStatusMetric はステータスコードがメトリクスへ渡ることを検証する。
func TestLoggingMiddleware_RecordsHTTPStatusMetric(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	collector := &statusCollector{}

	handler := NewLoggingMiddleware(logger, collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/visited", nil))

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusNotFound {
		t.Errorf("recorded statuses = %v, want [404]", collector.statuses)
	}
}

// TestLoggingMiddleware_FlusherPassthrough はラッパー越しにhttp.Flusherが利用できることを検証する。
// SSEエンドポイントはこの特性に依存する。
func TestLoggingMiddleware_FlusherPassthrough(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	flusherAvailable := false
	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f, ok := w.(http.Flusher); ok {
			flusherAvailable = true
			f.Flush()
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/visited/stream", nil))

	if !flusherAvailable {
		t.Error("http.Flusher should be available through the logging middleware")
	}
	if !w.Flushed {
		t.Error("Flush should be delegated to the underlying ResponseWriter")
	}
}
