package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Origin
	APIBase       string        // オリジンAPIのベースURL
	FetchTimeout  time.Duration // 1試行あたりのHTTPタイムアウト
	FetchDeadline time.Duration // リトライを含むフェッチ全体のデッドライン

	// Tenant
	TenantDomain string // ワイルドカードサブドメインの親ドメイン（例: lynkby.com）
	Reserved     string // 追加の予約サブドメイン（カンマ区切り）

	// Cache
	CacheDir        string        // LevelDBストアのディレクトリ
	CacheTTL        time.Duration // エッジキャッシュエントリのフレッシュ期間
	StaleRetention  time.Duration // 期限切れエントリをステイルフォールバック用に保持する期間
	JanitorInterval time.Duration // キャッシュ掃除ジョブの実行間隔

	// Logging
	LogSampleRate float64 // 診断ログのサンプリング率（0.0〜1.0）

	// Rate Limit
	RateLimitPerClient int // クライアントIPごとの req/min

	// Server
	ServerPort string

	// Purge
	PurgeToken string // /_edge/purge のベアラートークン。空の場合はパージ無効。
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBase = os.Getenv("API_BASE")
	if cfg.APIBase == "" {
		missing = append(missing, "API_BASE")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchDeadline = getEnvDuration("FETCH_DEADLINE", 15*time.Second)
	cfg.TenantDomain = getEnvString("TENANT_DOMAIN", "lynkby.com")
	cfg.Reserved = getEnvString("RESERVED", "")
	cfg.CacheDir = getEnvString("CACHE_DIR", "./data/cache")
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.StaleRetention = getEnvDuration("STALE_RETENTION", 24*time.Hour)
	cfg.JanitorInterval = getEnvDuration("JANITOR_INTERVAL", 1*time.Hour)
	cfg.LogSampleRate = getEnvFloat("LOG_SAMPLE_RATE", 0.10)
	cfg.RateLimitPerClient = getEnvInt("RATE_LIMIT_PER_CLIENT", 300)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.PurgeToken = getEnvString("PURGE_TOKEN", "")

	if cfg.LogSampleRate < 0 || cfg.LogSampleRate > 1 {
		return nil, fmt.Errorf("LOG_SAMPLE_RATE must be between 0.0 and 1.0, got %v", cfg.LogSampleRate)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
