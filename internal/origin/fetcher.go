package origin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lynkby/edge/internal/model"
)

// pagePathFormat はオリジンAPIの公開ページ取得パス。
const pagePathFormat = "/v1/public/page/by-username/%s"

// maxBodySize はオリジンレスポンスボディの最大読み取りサイズ（1MiB）。
const maxBodySize = 1 << 20

// userAgent はオリジンへのリクエストに付与するUser-Agent。
const userAgent = "Lynkby-Edge/1.0"

// Binding はオリジンAPIへのインプロセス呼び出しパスを抽象化する。
// 同一プロセスまたは低レイテンシの内部経路でデプロイされる場合に設定され、
// 公開ネットワーク経由のHTTPラウンドトリップを回避する。
// ページ不存在はmodel.ErrUpstreamNotFoundで表現する。
type Binding interface {
	FetchPage(ctx context.Context, username string) (*model.PublicPageData, error)
}

// FetchInfo は1回のフェッチ操作の診断情報。
// オーケストレーターはこれをレスポンスヘッダーとサンプリングログに使用する。
type FetchInfo struct {
	Status     int           // オリジンのHTTPステータス。トランスポート失敗時は0。
	Attempts   int           // 実際に行われたHTTP試行回数。
	Duration   time.Duration // フェッチ全体の所要時間。
	ViaBinding bool          // サービスバインディング経由で解決されたか。
}

// Fetcher は公開ページデータをオリジンから取得する。
// バインディングが設定されていればそれを優先し、
// 失敗または未設定の場合はHTTPSフォールバックにリトライ付きで切り替える。
type Fetcher struct {
	binding  Binding
	client   *http.Client
	apiBase  string
	timeout  time.Duration // 1試行あたりのタイムアウト
	deadline time.Duration // リトライを含むフェッチ全体のデッドライン
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// Option はFetcherの構成オプション。
type Option func(*Fetcher)

// WithBinding はサービスバインディングを設定する。
func WithBinding(b Binding) Option {
	return func(f *Fetcher) { f.binding = b }
}

// WithSleep はバックオフ待機関数を差し替える。テスト用。
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// NewFetcher はFetcherを生成する。
// clientにはSSRF防止機能付きのHTTPクライアントを渡すことを想定している。
func NewFetcher(client *http.Client, apiBase string, timeout, deadline time.Duration, logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		client:   client,
		apiBase:  apiBase,
		timeout:  timeout,
		deadline: deadline,
		sleep:    sleepContext,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPage はユーザー名から公開ページデータを取得する。
// 戻り値のエラー分類:
//   - nil: dataとinfoが有効
//   - model.ErrUpstreamNotFound: オリジンがページ不存在を確定
//   - それ以外: UpstreamError（リトライ枯渇、不正ボディ、非404エラーステータス）
//
// infoはエラー時にも診断用に返される。
func (f *Fetcher) FetchPage(ctx context.Context, username string) (*model.PublicPageData, *FetchInfo, error) {
	start := time.Now()
	info := &FetchInfo{}

	// 高速パス: サービスバインディング
	if f.binding != nil {
		data, err := f.binding.FetchPage(ctx, username)
		if err == nil {
			info.ViaBinding = true
			info.Status = http.StatusOK
			info.Duration = time.Since(start)
			if verr := data.Validate(); verr != nil {
				return nil, info, fmt.Errorf("service binding returned invalid document: %w", verr)
			}
			return data, info, nil
		}
		if errors.Is(err, model.ErrUpstreamNotFound) {
			info.ViaBinding = true
			info.Status = http.StatusNotFound
			info.Duration = time.Since(start)
			return nil, info, model.ErrUpstreamNotFound
		}
		// バインディング障害はHTTPSフォールバックへ
		f.logger.Warn("service binding failed, falling back to https",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
	}

	// フォールバック全体を外側デッドラインで束ねる。
	// リトライ遅延とタイムアウトの総和が無制限に伸びるのを防ぐ。
	ctx, cancel := context.WithTimeout(ctx, f.deadline)
	defer cancel()

	requestURL := f.apiBase + fmt.Sprintf(pagePathFormat, url.PathEscape(username))

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, BackoffDelay(attempt-1)); err != nil {
				// 外側デッドライン到達: リトライを打ち切る
				lastErr = err
				break
			}
		}

		info.Attempts++
		data, status, gotResponse, err := f.doAttempt(ctx, requestURL)
		if gotResponse {
			info.Status = status
		}
		if err == nil {
			info.Duration = time.Since(start)
			return data, info, nil
		}

		if !Retryable(gotResponse) {
			// HTTPレスポンスは受信済み: 404/エラーステータス/不正ボディは確定
			info.Duration = time.Since(start)
			if errors.Is(err, model.ErrUpstreamNotFound) {
				return nil, info, model.ErrUpstreamNotFound
			}
			return nil, info, err
		}

		lastErr = err
		f.logger.Warn("origin fetch attempt failed",
			slog.String("username", username),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	info.Duration = time.Since(start)
	return nil, info, fmt.Errorf("origin fetch failed after %d attempts: %w", info.Attempts, lastErr)
}

// doAttempt は1回のHTTP試行を行う。
// gotResponseはHTTPレスポンスを受信したか（＝リトライ不可か）を示す。
func (f *Fetcher) doAttempt(ctx context.Context, requestURL string) (data *model.PublicPageData, status int, gotResponse bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, true, fmt.Errorf("failed to build origin request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	// 中間キャッシュをバイパスし、常にオリジンの最新を取得する
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, false, fmt.Errorf("origin request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var doc model.PublicPageData
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, resp.StatusCode, true, fmt.Errorf("failed to read origin response: %w", err)
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, resp.StatusCode, true, fmt.Errorf("%w: %v", model.ErrMalformedPageData, err)
		}
		if err := doc.Validate(); err != nil {
			return nil, resp.StatusCode, true, err
		}
		return &doc, resp.StatusCode, true, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, resp.StatusCode, true, model.ErrUpstreamNotFound

	default:
		return nil, resp.StatusCode, true, &model.UpstreamStatusError{Status: resp.StatusCode}
	}
}

// sleepContext はコンテキストのキャンセルを尊重して待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
