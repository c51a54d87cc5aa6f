package handler

import (
	"encoding/json"
	"net/http"

	"github.com/matgal21/app-paises-visitados/internal/country"
)

// CountryHandler は国カタログのHTTPハンドラー。
// カタログはバイナリに埋め込まれた静的データのため、認証不要で公開する。
type CountryHandler struct{}

// NewCountryHandler はCountryHandlerを生成する。
func NewCountryHandler() *CountryHandler {
	return &CountryHandler{}
}

// countryResponse は国カタログ1件のAPIレスポンス。
type countryResponse struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ListCountries は選択可能な全ての国をコード昇順で返す。
// GET /api/countries
func (h *CountryHandler) ListCountries(w http.ResponseWriter, r *http.Request) {
	countries := country.All()
	resp := make([]countryResponse, 0, len(countries))
	for _, c := range countries {
		resp = append(resp, countryResponse{Code: c.Code, Name: c.Name})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(resp)
}
