package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/matgal21/app-paises-visitados/internal/database"
)

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	pinger database.Pinger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(pinger database.Pinger) *HealthHandler {
	return &HealthHandler{
		pinger: pinger,
	}
}

// healthResponse はヘルスチェックのAPIレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

// Check はデータストアへの疎通を含むヘルスチェックを行う。
// GET /health
// データストアに到達できない場合は503でstatus=offlineを返す。
// コンテナのヘルスチェックとフロントエンドのオフライン判定の両方で使う。
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := database.CheckConnectivity(r.Context(), h.pinger); err != nil {
		slog.Warn("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(healthResponse{Status: "offline"})
		return
	}

	json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
}
