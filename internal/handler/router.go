package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matgal21/app-paises-visitados/internal/database"
	"github.com/matgal21/app-paises-visitados/internal/metrics"
	"github.com/matgal21/app-paises-visitados/internal/middleware"
	"github.com/matgal21/app-paises-visitados/internal/realtime"
)

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface, config AuthHandlerConfig, collector metrics.MetricsCollector) http.Handler {
	r := chi.NewRouter()
	h := NewAuthHandler(service, config, collector)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})

	return r
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger
	Collector         metrics.MetricsCollector

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 訪問国
	VisitedService  VisitedServiceInterface
	Hub             *realtime.Hub
	StreamHeartbeat time.Duration

	// Webhook
	WebhookService WebhookServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// ヘルスチェック
	Pinger database.Pinger

	// メトリクス公開（nilの場合は/metricsを公開しない）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通のミドルウェアスタック（外側から順に）:
//
//	Recovery → Logging → SecurityHeaders → CORS
//
// 認証が必要なルートにはさらに Session → CSRF → RateLimit(General) を適用し、
// 書き込み系エンドポイントには書き込み専用レート制限を追加する。
// 認証ルート（/auth/*）はセッション確立前のためCSRF検証の対象外とする。
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, deps.Collector)
	visitedHandler := NewVisitedHandler(deps.VisitedService)
	streamHandler := NewStreamHandler(deps.VisitedService, deps.Hub, deps.Collector, deps.StreamHeartbeat)
	webhookHandler := NewWebhookHandler(deps.WebhookService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	countryHandler := NewCountryHandler()
	healthHandler := NewHealthHandler(deps.Pinger)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/countries", countryHandler.ListCountries)
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 認証ルート（CSRF検証の対象外）
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		writeLimit := deps.RateLimiter.WriteMiddleware()

		// 訪問国管理
		r.Route("/api/visited", func(r chi.Router) {
			r.Get("/", visitedHandler.GetVisited)
			r.With(writeLimit).Put("/", visitedHandler.ReplaceVisited)
			r.With(writeLimit).Post("/{code}/toggle", visitedHandler.ToggleCountry)

			// SSEストリーム
			r.Get("/stream", streamHandler.Stream)
		})

		// Webhook管理
		r.Route("/api/webhook", func(r chi.Router) {
			r.Get("/", webhookHandler.GetWebhook)
			r.With(writeLimit).Put("/", webhookHandler.RegisterWebhook)
			r.Delete("/", webhookHandler.DeleteWebhook)
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Patch("/me", userHandler.UpdateProfile)
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
