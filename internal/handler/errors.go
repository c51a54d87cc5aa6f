package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/matgal21/app-paises-visitados/internal/database"
	"github.com/matgal21/app-paises-visitados/internal/middleware"
	"github.com/matgal21/app-paises-visitados/internal/model"
)

// writeUnauthorized は未認証エラーレスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	middleware.WriteUnauthorized(w)
}

// writeInvalidRequestBody はリクエストボディ解析失敗のエラーレスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// データストアへの接続障害はOFFLINEエラーとして503で返し、その他の想定外エラーと区別する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, statusForAPIError(apiErr), apiErr)
		return
	}

	if database.IsConnectivityError(err) {
		slog.Warn("datastore unreachable", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewOfflineError())
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// statusForAPIError はAPIErrorコードをHTTPステータスコードに対応付ける。
// 未知のコードは500として扱う。
func statusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeOffline, model.ErrCodeAuthNotConfigured:
		return http.StatusServiceUnavailable
	case model.ErrCodeAuthTooManyAttempts:
		return http.StatusTooManyRequests
	case model.ErrCodeAuthEmailInUse:
		return http.StatusConflict
	case model.ErrCodeAuthInvalidEmail, model.ErrCodeAuthWeakPassword, model.ErrCodeInvalidDisplayName:
		return http.StatusUnprocessableEntity
	case model.ErrCodeAuthUserNotFound, model.ErrCodeAuthWrongPassword, model.ErrCodeAuthFailed, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeCountryNotFound, model.ErrCodeWebhookNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
