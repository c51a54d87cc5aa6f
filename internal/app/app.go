package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"github.com/matgal21/app-paises-visitados/internal/auth"
	"github.com/matgal21/app-paises-visitados/internal/config"
	"github.com/matgal21/app-paises-visitados/internal/database"
	"github.com/matgal21/app-paises-visitados/internal/handler"
	"github.com/matgal21/app-paises-visitados/internal/logger"
	"github.com/matgal21/app-paises-visitados/internal/mailer"
	"github.com/matgal21/app-paises-visitados/internal/metrics"
	"github.com/matgal21/app-paises-visitados/internal/middleware"
	"github.com/matgal21/app-paises-visitados/internal/realtime"
	"github.com/matgal21/app-paises-visitados/internal/repository"
	"github.com/matgal21/app-paises-visitados/internal/security"
	"github.com/matgal21/app-paises-visitados/internal/user"
	"github.com/matgal21/app-paises-visitados/internal/visited"
	"github.com/matgal21/app-paises-visitados/internal/webhook"
	"github.com/matgal21/app-paises-visitados/internal/worker/cleanup"
	"github.com/matgal21/app-paises-visitados/internal/worker/dispatch"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前からログを使えるよう既定レベルで開始する）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルでロガーを再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通確認まで行う。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	webhookRepo := repository.NewPostgresWebhookRepo(db)
	deliveryRepo := repository.NewPostgresDeliveryRepo(db)

	// 訪問国ストアのみSTORAGE_BACKENDで切り替え可能
	var visitedRepo repository.VisitedRepository
	switch cfg.StorageBackend {
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		visitedRepo = repository.NewDynamoVisitedRepo(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable)
		slog.Info("visited store backend: dynamodb", slog.String("table", cfg.DynamoTable))
	default:
		visitedRepo = repository.NewPostgresVisitedRepo(db)
	}

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewNameSanitizer()

	// 4. メトリクスとリアルタイム配信基盤の初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	hub := realtime.NewHub(cfg.StreamReplayBuffer)

	// 5. メール送信の初期化（APIキー未設定時はNoop）
	var m mailer.Mailer
	if cfg.ResendAPIKey != "" {
		m = mailer.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom)
	} else {
		m = mailer.NewNoopMailer()
	}

	// 6. ドメインサービスの初期化
	authService := auth.NewService(userRepo, sessionRepo, m, auth.ServiceConfig{
		Enabled:       cfg.AuthEmailEnabled,
		SessionMaxAge: cfg.SessionMaxAge,
		MaxAttempts:   cfg.LoginMaxAttempts,
		AttemptWindow: cfg.LoginAttemptWindow,
	})
	webhookService := webhook.NewService(webhookRepo, deliveryRepo, ssrfGuard)
	visitedService := visited.NewService(visitedRepo, hub, webhookService, collector)
	userService := user.NewService(userRepo, sessionRepo, visitedRepo, webhookRepo, deliveryRepo, sanitizer)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigFromLimits(cfg.RateLimitGeneral, cfg.RateLimitWrite),
	)
	defer rateLimiter.Stop()

	deps := handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:    slog.Default(),
		Collector: collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		VisitedService:  visitedService,
		Hub:             hub,
		StreamHeartbeat: cfg.StreamHeartbeat,

		WebhookService: webhookService,
		UserService:    userService,

		Pinger:         db,
		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	// SSEストリームを維持するためWriteTimeoutは設定しない（ハートビートで死活監視）
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}
	// 長寿命のSSE接続でFDを使い切らないよう同時接続数に上限を設ける
	ln = netutil.LimitListener(ln, cfg.ServerMaxConns)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Int("max_conns", cfg.ServerMaxConns),
		)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	// BaseContextのキャンセルで全SSEストリームを終了させてからShutdownする
	cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、Webhook配信スケジューラとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	webhookRepo := repository.NewPostgresWebhookRepo(db)
	deliveryRepo := repository.NewPostgresDeliveryRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()

	// 4. 配信ディスパッチャの初期化
	// ワーカーはHTTPサーバーを持たないためメトリクスはNoop（配信結果は構造化ログで追跡する）
	dispatcher := dispatch.NewDispatcher(
		deliveryRepo, webhookRepo, ssrfGuard, metrics.Noop,
		slog.Default(), cfg.WebhookTimeout, cfg.WebhookMaxBody, cfg.WebhookMaxAttempts,
	)

	// 5. スケジューラの起動
	scheduler := dispatch.NewScheduler(
		deliveryRepo, dispatcher, slog.Default(), cfg.WebhookMaxConcurrent,
	)

	// 6. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, deliveryRepo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("dispatch_interval", cfg.WebhookDispatchInterval),
		slog.Int("max_concurrent", cfg.WebhookMaxConcurrent),
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップジョブを一定間隔でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(cfg.SessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 配信スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.WebhookDispatchInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost:"+port+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL は接続URLからパスワードを除いた表示用文字列を返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
