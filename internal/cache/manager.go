package cache

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// healthKey はヘルスチェック用の番兵キー。通常のキー形式と衝突しない。
const healthKey = "__health__"

// Key は(ホスト名, パス)から決定的なキャッシュキーを導出する。
// クエリ文字列はキーに参加しない（クエリ依存コンテンツは配信しないため）。
func Key(host, path string) string {
	return strings.ToLower(host) + "|" + path
}

// Manager はエッジキャッシュのルックアップ・格納・パージを提供する。
// 格納はレスポンス返却をブロックしないfire-and-forgetで行い、
// WaitGroupでバックグラウンド書き込みの完了を追跡する。
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewManager はManagerを生成する。ttlはエントリのフレッシュ期間。
func NewManager(store Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Lookup はフレッシュなキャッシュエントリを返す。
// 期限切れエントリはミス扱いとなる（削除はしない — ステイルフォールバックと
// ジャニターに委ねる）。
func (m *Manager) Lookup(host, path string) (*CachedResponse, bool) {
	resp, ok := m.lookup(host, path)
	if !ok {
		return nil, false
	}
	if !resp.Fresh(time.Now()) {
		return nil, false
	}
	return resp, true
}

// LookupStale はTTLを無視してキャッシュエントリを返す。
// オリジン障害時のステイルフォールバック専用。
func (m *Manager) LookupStale(host, path string) (*CachedResponse, bool) {
	return m.lookup(host, path)
}

func (m *Manager) lookup(host, path string) (*CachedResponse, bool) {
	data, err := m.store.Get(Key(host, path))
	if err != nil {
		if err != ErrNotFound {
			m.logger.Error("cache lookup failed",
				slog.String("host", host),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	resp, err := DecodeResponse(data)
	if err != nil {
		// 破損エントリはミス扱いにして上書きに任せる
		m.logger.Warn("corrupt cache entry",
			slog.String("host", host),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return resp, true
}

// StoreResponse はレンダリング済みレスポンスを非同期でキャッシュに書き込む。
// 成功レスポンス(200)以外は決して格納しない。
// 呼び出し元をブロックせず、書き込み完了はCloseで待機される。
func (m *Manager) StoreResponse(host, path string, resp *CachedResponse) {
	if resp == nil || resp.Status != http.StatusOK {
		return
	}
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now()
	}
	if resp.TTL == 0 {
		resp.TTL = m.ttl
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		data, err := resp.Encode()
		if err != nil {
			m.logger.Error("cache encode failed",
				slog.String("host", host),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := m.store.Put(Key(host, path), data); err != nil {
			m.logger.Error("cache store failed",
				slog.String("host", host),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Purge はキャッシュエントリを削除する。
// ストアが真の削除を提供するため、ゼロTTL上書きによる近似は不要。
func (m *Manager) Purge(host, path string) error {
	return m.store.Delete(Key(host, path))
}

// Healthy はストアへの読み取りが可能かを検査する。
func (m *Manager) Healthy() error {
	if _, err := m.store.Get(healthKey); err != nil && err != ErrNotFound {
		return err
	}
	return nil
}

// Wait は進行中のバックグラウンド書き込みの完了を待つ。テスト用。
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close はバックグラウンド書き込みの完了を待ってからストアを閉じる。
func (m *Manager) Close() error {
	m.wg.Wait()
	return m.store.Close()
}
