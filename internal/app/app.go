package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lynkby/edge/internal/cache"
	"github.com/lynkby/edge/internal/config"
	"github.com/lynkby/edge/internal/handler"
	"github.com/lynkby/edge/internal/logger"
	"github.com/lynkby/edge/internal/metrics"
	"github.com/lynkby/edge/internal/middleware"
	"github.com/lynkby/edge/internal/origin"
	"github.com/lynkby/edge/internal/security"
	"github.com/lynkby/edge/internal/tenant"
	"github.com/lynkby/edge/internal/worker/janitor"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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

	slog.Info("starting edge server",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("tenant_domain", cfg.TenantDomain),
		slog.String("api_base", cfg.APIBase),
	)

	return runServe(cfg)
}

// runServe はエッジサーバーモードで起動する。
// キャッシュストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. キャッシュストア
	store, err := cache.OpenLevelStore(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}

	manager := cache.NewManager(store, cfg.CacheTTL, slog.Default())
	defer manager.Close()

	slog.Info("cache store opened", slog.String("dir", cfg.CacheDir))

	// 2. テナントリゾルバー
	resolver := tenant.NewResolver(cfg.TenantDomain, cfg.Reserved)

	// 3. オリジンフェッチャー（SSRF防止機能付きクライアント）
	guard := security.NewOutboundGuard()
	fetcher := origin.NewFetcher(
		guard.NewSafeClient(cfg.FetchTimeout),
		cfg.APIBase,
		cfg.FetchTimeout,
		cfg.FetchDeadline,
		slog.Default(),
	)

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 診断ログのサンプラー
	sampler := logger.NewSampler(cfg.LogSampleRate)

	// 6. レート制限
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitPerClient))
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Resolver:      resolver,
		Origin:        fetcher,
		Cache:         manager,
		Purger:        manager,
		PurgeToken:    cfg.PurgeToken,
		HealthChecker: manager,
		Metrics:       collector,
		Gatherer:      registry,
		Sampler:       sampler,
		Logger:        slog.Default(),
		RateLimiter:   rateLimiter,
	})

	// 8. バックグラウンドジョブとシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	janitorJob := janitor.NewJanitor(store, slog.Default(), cfg.StaleRetention)
	go janitorJob.Start(ctx, cfg.JanitorInterval)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("edge server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down edge server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("edge server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /_edge/healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/_edge/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
