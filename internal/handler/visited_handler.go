package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matgal21/app-paises-visitados/internal/middleware"
	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/visited"
)

// VisitedServiceInterface は訪問国ハンドラーが必要とするサービスインターフェース。
type VisitedServiceInterface interface {
	// Get はユーザーの訪問国セットを返す。存在しない場合は空のセットを作成する。
	Get(ctx context.Context, userID string) (*model.VisitedSet, error)
	// Toggle は指定された国の訪問済み状態を反転する。
	Toggle(ctx context.Context, userID, code string) (*visited.ToggleResult, error)
	// Replace は訪問国セット全体を置き換える。
	Replace(ctx context.Context, userID string, codes []string) ([]string, error)
}

// VisitedHandler は訪問国管理のHTTPハンドラー。
type VisitedHandler struct {
	service VisitedServiceInterface
}

// NewVisitedHandler はVisitedHandlerを生成する。
func NewVisitedHandler(service VisitedServiceInterface) *VisitedHandler {
	return &VisitedHandler{
		service: service,
	}
}

// replaceVisitedRequest は訪問国セット置換リクエストのボディ。
type replaceVisitedRequest struct {
	CountryCodes []string `json:"country_codes"`
}

// visitedResponse は訪問国セットのAPIレスポンス。
type visitedResponse struct {
	CountryCodes []string  `json:"country_codes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// toggleResponse はトグル結果のAPIレスポンス。
type toggleResponse struct {
	CountryCodes []string `json:"country_codes"`
	Added        bool     `json:"added"`
	EventID      string   `json:"event_id"`
}

// replaceResponse は置換結果のAPIレスポンス。
type replaceResponse struct {
	CountryCodes []string `json:"country_codes"`
}

// GetVisited はユーザーの訪問国セットを返す。
// GET /api/visited
func (h *VisitedHandler) GetVisited(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	set, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toVisitedResponse(set))
}

// ToggleCountry は指定された国の訪問済み状態を反転する。
// POST /api/visited/{code}/toggle
// 未認証の場合は書き込みを一切行わず401を返す。
func (h *VisitedHandler) ToggleCountry(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	code := chi.URLParam(r, "code")

	result, err := h.service.Toggle(r.Context(), userID, code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toggleResponse{
		CountryCodes: result.CountryCodes,
		Added:        result.Added,
		EventID:      result.EventID,
	})
}

// ReplaceVisited は訪問国セット全体を置き換える。
// PUT /api/visited
func (h *VisitedHandler) ReplaceVisited(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req replaceVisitedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	// 空配列（全クリア）は許可するが、フィールド自体の省略は誤操作とみなす
	if req.CountryCodes == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "country_codesフィールドが指定されていません。",
			Category: "validation",
			Action:   "訪問国コードの配列（空配列を含む）を指定してください。",
		})
		return
	}

	codes, err := h.service.Replace(r.Context(), userID, req.CountryCodes)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(replaceResponse{CountryCodes: codes})
}

// SetupVisitedRoutes は訪問国管理関連のルーティングを設定したchi.Routerを返す。
// writeMiddleware が nil でない場合、書き込み系エンドポイントに書き込み専用レート制限を適用する。
func SetupVisitedRoutes(service VisitedServiceInterface, writeMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	h := NewVisitedHandler(service)

	r.Route("/api/visited", func(r chi.Router) {
		r.Get("/", h.GetVisited)

		if writeMiddleware != nil {
			r.With(writeMiddleware).Put("/", h.ReplaceVisited)
			r.With(writeMiddleware).Post("/{code}/toggle", h.ToggleCountry)
		} else {
			r.Put("/", h.ReplaceVisited)
			r.Post("/{code}/toggle", h.ToggleCountry)
		}
	})

	return r
}

// toVisitedResponse はmodel.VisitedSetからAPIレスポンスに変換する。
func toVisitedResponse(set *model.VisitedSet) visitedResponse {
	return visitedResponse{
		CountryCodes: set.CountryCodes,
		UpdatedAt:    set.UpdatedAt,
	}
}
