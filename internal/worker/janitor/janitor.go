// Package janitor は期限切れキャッシュエントリの定期削除ジョブを提供する。
// ステイルフォールバック用の保持期間を過ぎたエントリをストアから削除し、
// ディスク使用量を抑える。削除は冪等で、対象がなくてもエラーにならない。
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lynkby/edge/internal/cache"
)

// Janitor はキャッシュストアの掃除ジョブ。
// フレッシュ期間を過ぎてもエントリはステイルフォールバックのために残すが、
// Retentionを超えたものは配信価値がないため削除する。
type Janitor struct {
	store     cache.Store
	logger    *slog.Logger
	Retention time.Duration // エントリをStoredAtから保持する期間
}

// NewJanitor は新しいJanitorを生成する。
// retentionが0以下の場合はデフォルトの24時間を使用する。
func NewJanitor(store cache.Store, logger *slog.Logger, retention time.Duration) *Janitor {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:     store,
		logger:    logger,
		Retention: retention,
	}
}

// Run は保持期間を超過したエントリを1回走査して削除する。
// デコードできない破損エントリも削除対象とする。
func (j *Janitor) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := start.Add(-j.Retention)

	var expired []string
	err := j.store.ForEach(func(key string, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := cache.DecodeResponse(value)
		if err != nil {
			expired = append(expired, key)
			return nil
		}
		if resp.StoredAt.Before(cutoff) {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache sweep failed: %w", err)
	}

	deleted := 0
	for _, key := range expired {
		if err := j.store.Delete(key); err != nil {
			j.logger.Error("failed to delete expired cache entry",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	j.logger.Info("cache janitor completed",
		slog.Int("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cache janitor failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cache janitor failed", slog.String("error", err.Error()))
			}
		}
	}
}
