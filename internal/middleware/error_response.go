package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// ErrorResponseBody は全エンドポイント共通のエラーレスポンス形式。
// 原因カテゴリと対処方法を含み、クライアントはこれを前提にエラー表示を組み立てる。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はAPIErrorを統一フォーマットのJSONとして書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// APIErrorとはJSONタグのみ異なるため型変換で写せる
	if err := json.NewEncoder(w).Encode(ErrorResponseBody(*apiErr)); err != nil {
		slog.Error("failed to encode error response",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()))
	}
}

// WriteInternalServerError は500の統一レスポンスを書き込む。
// 障害の詳細は呼び出し側がログに残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// WriteUnauthorized は401の統一レスポンスを書き込む。
func WriteUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}
