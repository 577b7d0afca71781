package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lynkby/edge/internal/logger"
	"github.com/lynkby/edge/internal/metrics"
	"github.com/lynkby/edge/internal/middleware"
	"github.com/lynkby/edge/internal/tenant"
)

// HealthChecker はキャッシュストアの死活確認のインターフェース。
type HealthChecker interface {
	Healthy() error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Resolver *tenant.Resolver
	Origin   OriginService
	Cache    CacheService

	Purger        CachePurger
	PurgeToken    string
	HealthChecker HealthChecker

	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer
	Sampler  *logger.Sampler
	Logger   *slog.Logger

	RateLimiter *middleware.RateLimiter
}

// NewRouter は全ルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → RateLimit
//
// robots.txt、favicon.ico、運用ルート（/_edge/*、/metrics）は
// テナント解決に到達する前に短絡される。
// ルート以外のパスとGET以外のメソッドはすべて同一の404に畳み込まれる。
func NewRouter(deps *RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	page := NewPageHandler(deps.Resolver, deps.Origin, deps.Cache, deps.Metrics, deps.Sampler, log)

	// --- テナント解決前に短絡する特別パス ---
	r.Get("/robots.txt", page.ServeRobots)
	r.Get("/favicon.ico", page.ServeFavicon)

	// --- 運用ルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(log))

		r.Get("/_edge/healthz", newHealthzHandler(deps.HealthChecker))

		if deps.Purger != nil {
			purge := NewPurgeHandler(deps.Purger, deps.PurgeToken, log)
			r.Post("/_edge/purge", purge.Purge)
		}

		if deps.Gatherer != nil {
			r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
		}
	})

	// --- テナントページ ---
	r.Get("/", page.ServePage)

	// その他のパス・メソッドは汎用404
	r.NotFound(page.ServeFallback)
	r.MethodNotAllowed(page.ServeFallback)

	return r
}

// newHealthzHandler はキャッシュストアの死活を報告するハンドラーを返す。
func newHealthzHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if checker != nil {
			if err := checker.Healthy(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
