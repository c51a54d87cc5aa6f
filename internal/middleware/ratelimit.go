package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	WriteRate       rate.Limit    // 書き込み操作のレート（req/sec）。60/60 = 1 req/sec
	WriteBurst      int           // 書き込み操作のバーストサイズ
	CleanupInterval time.Duration // 遊休エントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、書き込み操作（トグル・一括置換・Webhook登録）60 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		WriteRate:       rate.Limit(60.0 / 60.0), // 1 req/sec
		WriteBurst:      60,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimiterConfigFromLimits は毎分リクエスト数の指定からレート制限設定を生成する。
// 0以下が指定された枠はデフォルト値を維持する。
func RateLimiterConfigFromLimits(generalPerMinute, writePerMinute int) RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	if generalPerMinute > 0 {
		cfg.GeneralRate = rate.Limit(float64(generalPerMinute) / 60.0)
		cfg.GeneralBurst = generalPerMinute
	}
	if writePerMinute > 0 {
		cfg.WriteRate = rate.Limit(float64(writePerMinute) / 60.0)
		cfg.WriteBurst = writePerMinute
	}
	return cfg
}

// userLimiter はユーザー1人分のトークンバケットと最終アクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterPool は1つの制限枠についてユーザーごとのリミッターを管理する。
type limiterPool struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*userLimiter
}

func newLimiterPool(limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*userLimiter),
	}
}

// acquire はユーザーのリミッターを返し、最終アクセス時刻を更新する。
// 初回アクセスのユーザーには満タンのバケットを新規に割り当てる。
func (p *limiterPool) acquire(userID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	ul, ok := p.entries[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.entries[userID] = ul
	}
	ul.lastAccess = time.Now()
	return ul.limiter
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// evictIdle は最終アクセスがttlより古いエントリを削除する。
func (p *limiterPool) evictIdle(now time.Time, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for userID, ul := range p.entries {
		if now.Sub(ul.lastAccess) > ttl {
			delete(p.entries, userID)
		}
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般と書き込み操作の2つの制限枠を独立したプールとして持つ。
type RateLimiter struct {
	cleanupInterval time.Duration
	general         *limiterPool
	write           *limiterPool
	stopCh          chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成し、
// 遊休エントリを回収するバックグラウンドゴルーチンを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		cleanupInterval: config.CleanupInterval,
		general:         newLimiterPool(config.GeneralRate, config.GeneralBurst),
		write:           newLimiterPool(config.WriteRate, config.WriteBurst),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// SessionMiddlewareの後段に配置し、コンテキストのユーザーIDを制限キーとする。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.limitBy(rl.general, "general")
}

// WriteMiddleware は書き込み操作（トグル・一括置換・Webhook登録）専用の
// レート制限ミドルウェアを返す。API全般の制限枠とは独立に消費される。
func (rl *RateLimiter) WriteMiddleware() func(next http.Handler) http.Handler {
	return rl.limitBy(rl.write, "write")
}

// limitBy は指定プールでリクエストを制限するミドルウェアを構築する。
func (rl *RateLimiter) limitBy(pool *limiterPool, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteUnauthorized(w)
				return
			}

			if !pool.acquire(userID).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", limitType),
				)
				writeRateLimited(w, pool.limit)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在保持しているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.size()
}

// WriteLimiterCount は現在保持している書き込みリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) WriteLimiterCount() int {
	return rl.write.size()
}

// cleanupLoop は定期的に遊休エントリを回収する。
// エントリのTTLはCleanupIntervalの2倍とする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			ttl := rl.cleanupInterval * 2
			rl.general.evictIdle(now, ttl)
			rl.write.evictIdle(now, ttl)
		case <-rl.stopCh:
			return
		}
	}
}

// writeRateLimited は統一エラーフォーマットで429レスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが1つ補充されるまでの秒数を設定する。
func writeRateLimited(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		if sec := int(math.Ceil(1 / float64(limit))); sec > retryAfter {
			retryAfter = sec
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
