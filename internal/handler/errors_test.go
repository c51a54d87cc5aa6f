package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// エラーコードとHTTPステータスの対応表を検証する。
func TestStatusForAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{"オフラインは503", model.NewOfflineError(), http.StatusServiceUnavailable},
		{"未認証は401", model.NewUnauthorizedError(), http.StatusUnauthorized},
		{"国コード不明は404", model.NewCountryNotFoundError("XX"), http.StatusNotFound},
		{"Webhook未登録は404", model.NewWebhookNotFoundError(), http.StatusNotFound},
		{"URL不正は400", model.NewInvalidURLError("スキームが不正"), http.StatusBadRequest},
		{"SSRFブロックは403", model.NewSSRFBlockedError(), http.StatusForbidden},
		{"表示名不正は422", model.NewInvalidDisplayNameError("長すぎます"), http.StatusUnprocessableEntity},
		{"メール使用済みは409", model.NewAuthError(model.ErrCodeAuthEmailInUse), http.StatusConflict},
		{"試行超過は429", model.NewAuthError(model.ErrCodeAuthTooManyAttempts), http.StatusTooManyRequests},
		{"未知コードは500", &model.APIError{Code: "SOMETHING_NEW"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForAPIError(tt.err); got != tt.want {
				t.Errorf("statusForAPIError(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

// 想定外のエラーは内部詳細を漏らさず500に落とすことを検証する。
func TestHandleServiceError_NonAPIError_Returns500(t *testing.T) {
	w := httptest.NewRecorder()

	handleServiceError(w, errors.New("unexpected failure"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := w.Body.String(); strings.Contains(body, "unexpected failure") {
		t.Errorf("response should not leak internal error details: %s", body)
	}
}

// ラップされたAPIErrorも検出されることを検証する。
func TestHandleServiceError_WrappedAPIError_Unwraps(t *testing.T) {
	w := httptest.NewRecorder()

	wrapped := fmt.Errorf("service: %w", model.NewCountryNotFoundError("ZZ"))
	handleServiceError(w, wrapped)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
