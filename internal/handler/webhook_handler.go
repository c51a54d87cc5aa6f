package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matgal21/app-paises-visitados/internal/middleware"
	"github.com/matgal21/app-paises-visitados/internal/model"
)

// WebhookServiceInterface はWebhookハンドラーが必要とするサービスインターフェース。
type WebhookServiceInterface interface {
	// Register はWebhookを登録する。既存の登録は上書きされる。
	Register(ctx context.Context, userID, rawURL string, enabled bool) (*model.Webhook, error)
	// Get はユーザーのWebhook設定を取得する。
	Get(ctx context.Context, userID string) (*model.Webhook, error)
	// Delete はユーザーのWebhook設定を削除する。
	Delete(ctx context.Context, userID string) error
}

// WebhookHandler はWebhook管理のHTTPハンドラー。
type WebhookHandler struct {
	service WebhookServiceInterface
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(service WebhookServiceInterface) *WebhookHandler {
	return &WebhookHandler{
		service: service,
	}
}

// registerWebhookRequest はWebhook登録リクエストのボディ。
// enabledを省略した場合は有効として扱う。
type registerWebhookRequest struct {
	URL     string `json:"url"`
	Enabled *bool  `json:"enabled"`
}

// webhookResponse はWebhook設定のAPIレスポンス。
// 署名検証用のシークレットは登録者本人にのみ返す。
type webhookResponse struct {
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegisterWebhook はWebhookの登録または更新を処理する。
// PUT /api/webhook
func (h *WebhookHandler) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req registerWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.URL == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	webhook, err := h.service.Register(r.Context(), userID, req.URL, enabled)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toWebhookResponse(webhook))
}

// GetWebhook はユーザーのWebhook設定を返す。
// GET /api/webhook
func (h *WebhookHandler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	webhook, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toWebhookResponse(webhook))
}

// DeleteWebhook はユーザーのWebhook設定を削除する。
// DELETE /api/webhook
func (h *WebhookHandler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.service.Delete(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetupWebhookRoutes はWebhook管理関連のルーティングを設定したchi.Routerを返す。
// writeMiddleware が nil でない場合、PUT /api/webhook に書き込み専用レート制限を適用する。
func SetupWebhookRoutes(service WebhookServiceInterface, writeMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	h := NewWebhookHandler(service)

	r.Route("/api/webhook", func(r chi.Router) {
		r.Get("/", h.GetWebhook)
		r.Delete("/", h.DeleteWebhook)

		if writeMiddleware != nil {
			r.With(writeMiddleware).Put("/", h.RegisterWebhook)
		} else {
			r.Put("/", h.RegisterWebhook)
		}
	})

	return r
}

// toWebhookResponse はmodel.WebhookからAPIレスポンスに変換する。
func toWebhookResponse(webhook *model.Webhook) webhookResponse {
	return webhookResponse{
		URL:       webhook.URL,
		Secret:    webhook.Secret,
		Enabled:   webhook.Enabled,
		CreatedAt: webhook.CreatedAt,
		UpdatedAt: webhook.UpdatedAt,
	}
}
