package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lynkby/edge/internal/cache"
	"github.com/lynkby/edge/internal/logger"
	"github.com/lynkby/edge/internal/metrics"
	"github.com/lynkby/edge/internal/model"
	"github.com/lynkby/edge/internal/origin"
	"github.com/lynkby/edge/internal/render"
	"github.com/lynkby/edge/internal/tenant"
)

// 診断ヘッダー。ボディには出さない情報をここに載せる。
const (
	HeaderCache     = "X-Lynkby-Cache"
	HeaderUsername  = "X-Lynkby-Username"
	HeaderAPIStatus = "X-Api-Status"
)

// rootPath はテナントに対して配信する唯一のパス。
const rootPath = "/"

// OriginService はオーケストレーターが必要とするフェッチャーのインターフェース。
type OriginService interface {
	FetchPage(ctx context.Context, username string) (*model.PublicPageData, *origin.FetchInfo, error)
}

// CacheService はオーケストレーターが必要とするキャッシュのインターフェース。
type CacheService interface {
	Lookup(host, path string) (*cache.CachedResponse, bool)
	LookupStale(host, path string) (*cache.CachedResponse, bool)
	StoreResponse(host, path string, resp *cache.CachedResponse)
}

// PageHandler は公開ページリクエストのオーケストレーター。
// 解決 → キャッシュ照会 → (ミス時) フェッチ → レンダリング → 格納 の
// パイプラインを1リクエストスコープで実行する。
// 同一キーへの同時ミスはsingleflightで合流させ、オリジンへの重複フェッチを防ぐ。
type PageHandler struct {
	resolver *tenant.Resolver
	origin   OriginService
	cache    CacheService
	metrics  metrics.MetricsCollector
	sampler  *logger.Sampler
	logger   *slog.Logger
	group    singleflight.Group
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(
	resolver *tenant.Resolver,
	originSvc OriginService,
	cacheSvc CacheService,
	collector metrics.MetricsCollector,
	sampler *logger.Sampler,
	log *slog.Logger,
) *PageHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PageHandler{
		resolver: resolver,
		origin:   originSvc,
		cache:    cacheSvc,
		metrics:  collector,
		sampler:  sampler,
		logger:   log,
	}
}

// flightResult は合流フェッチ+レンダリングの成功結果。
type flightResult struct {
	resp      *cache.CachedResponse
	info      *origin.FetchInfo
	fetchDur  time.Duration
	renderDur time.Duration
}

// fetchError は失敗したフェッチの診断情報付きエラー。
type fetchError struct {
	info *origin.FetchInfo
	err  error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// ServePage はGET /を処理する。
func (h *PageHandler) ServePage(w http.ResponseWriter, r *http.Request) {
	// キャッシュキーとテナント解決が同じ正規形を共有するよう、
	// ホスト名はここで1回だけ正規化する
	host := tenant.NormalizeHost(r.Host)

	username, err := h.resolver.Resolve(host)
	if err != nil {
		// 不正ホスト名と予約語は同一の404に畳み込む
		h.metrics.RecordRequestResult(metrics.ResultNotFound)
		h.writeNotFound(w, "", 0)
		h.logDiagnostics(host, "", "MISS", 0, 0, 0)
		return
	}

	if cached, ok := h.cache.Lookup(host, rootPath); ok {
		h.metrics.RecordCacheHit()
		h.metrics.RecordRequestResult(metrics.ResultHit)
		h.writeCached(w, cached, username, "HIT")
		h.logDiagnostics(host, username, "HIT", 0, 0, 0)
		return
	}
	h.metrics.RecordCacheMiss()

	// singleflightで同一キーの同時フェッチを1本に合流させる。
	// 先頭リクエストのキャンセルが合流待ちの全員を道連れにしないよう、
	// フライト内部ではリクエストのキャンセルを切り離したコンテキストを使う。
	flightCtx := context.WithoutCancel(r.Context())
	v, err, _ := h.group.Do(cache.Key(host, rootPath), func() (any, error) {
		return h.fetchAndRender(flightCtx, host, username)
	})

	if err != nil {
		h.handleFetchFailure(w, host, username, err)
		return
	}

	result := v.(*flightResult)
	h.metrics.RecordOriginStatus(result.info.Status)
	h.metrics.RecordFetchLatency(result.fetchDur)
	h.metrics.RecordRenderLatency(result.renderDur)
	h.metrics.RecordRequestResult(metrics.ResultMiss)

	h.writeMiss(w, result, username)
	h.logDiagnostics(host, username, "MISS", result.info.Status, result.fetchDur, result.renderDur)
}

// fetchAndRender はオリジンフェッチとレンダリングを行い、
// 成功時はキャッシュ格納をバックグラウンドで開始する。
// singleflightのDo内で1キーにつき1回だけ実行される。
func (h *PageHandler) fetchAndRender(ctx context.Context, host, username string) (*flightResult, error) {
	fetchStart := time.Now()
	data, info, err := h.origin.FetchPage(ctx, username)
	fetchDur := time.Since(fetchStart)
	if err != nil {
		return nil, &fetchError{info: info, err: err}
	}

	// 非公開ページはオリジンの404と同じ扱いにする
	if !data.Page.Published {
		return nil, &fetchError{info: info, err: model.ErrUpstreamNotFound}
	}

	renderStart := time.Now()
	rendered, err := render.Render(data, render.Options{RequestHost: host})
	renderDur := time.Since(renderStart)
	if err != nil {
		// レンダリング失敗はUpstreamErrorとして扱う（純粋関数契約上
		// 発生しないはずだが、ガードする）
		h.logger.Error("render failed",
			slog.String("host", host),
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, &fetchError{info: info, err: err}
	}

	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	for k, v := range rendered.SecurityHeaders {
		header.Set(k, v)
	}
	for k, v := range rendered.CacheHeaders {
		header.Set(k, v)
	}
	if data.Page.UpdatedAt != "" {
		header.Set(cache.HeaderPageVer, data.Page.UpdatedAt)
	}

	resp := &cache.CachedResponse{
		Status: http.StatusOK,
		Header: header,
		Body:   []byte(rendered.HTML),
	}

	// 格納はレスポンス返却をブロックしない
	h.cache.StoreResponse(host, rootPath, resp)

	return &flightResult{
		resp:      resp,
		info:      info,
		fetchDur:  fetchDur,
		renderDur: renderDur,
	}, nil
}

// handleFetchFailure はフェッチ失敗時の分岐を処理する。
// オリジンの404は404ページ、それ以外はステイルフォールバックを試み、
// 何もなければ汎用502を返す。
func (h *PageHandler) handleFetchFailure(w http.ResponseWriter, host, username string, err error) {
	var fe *fetchError
	info := &origin.FetchInfo{}
	if errors.As(err, &fe) && fe.info != nil {
		info = fe.info
	}
	if info.Status != 0 {
		h.metrics.RecordOriginStatus(info.Status)
	}

	if errors.Is(err, model.ErrUpstreamNotFound) {
		h.metrics.RecordRequestResult(metrics.ResultNotFound)
		h.writeNotFound(w, username, info.Status)
		h.logDiagnostics(host, username, "MISS", info.Status, info.Duration, 0)
		return
	}

	// ステイルフォールバック: 期限切れでもキャッシュがあればそれを配信する
	if stale, ok := h.cache.LookupStale(host, rootPath); ok {
		h.metrics.RecordRequestResult(metrics.ResultStale)
		h.logger.Warn("serving stale cache after origin failure",
			slog.String("host", host),
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		h.writeCached(w, stale, username, "HIT")
		h.logDiagnostics(host, username, "HIT", info.Status, info.Duration, 0)
		return
	}

	h.metrics.RecordRequestResult(metrics.ResultError)
	h.logger.Error("origin fetch failed with no cached fallback",
		slog.String("host", host),
		slog.String("username", username),
		slog.Int("api_status", info.Status),
		slog.String("error", err.Error()),
	)
	h.writeBadGateway(w, username)
	h.logDiagnostics(host, username, "MISS", info.Status, info.Duration, 0)
}

// ServeFallback は未対応パスおよびGET以外のメソッドを処理する。
// ルーティング構造を漏らさないため、メソッド不一致も同一の404に畳み込む。
func (h *PageHandler) ServeFallback(w http.ResponseWriter, r *http.Request) {
	username, err := h.resolver.Resolve(r.Host)
	if err != nil {
		username = ""
	}
	h.metrics.RecordRequestResult(metrics.ResultNotFound)
	h.writeNotFound(w, username, 0)
}

// writeCached はキャッシュ済みレスポンスを書き出す。
func (h *PageHandler) writeCached(w http.ResponseWriter, resp *cache.CachedResponse, username, cacheState string) {
	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderCache, cacheState)
	if username != "" {
		w.Header().Set(HeaderUsername, username)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// writeMiss はフェッチ+レンダリング直後のレスポンスを書き出す。
func (h *PageHandler) writeMiss(w http.ResponseWriter, result *flightResult, username string) {
	for k, values := range result.resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderCache, "MISS")
	w.Header().Set(HeaderUsername, username)
	w.Header().Set(HeaderAPIStatus, strconv.Itoa(result.info.Status))
	w.WriteHeader(result.resp.Status)
	w.Write(result.resp.Body)
}

// writeNotFound は汎用404を書き出す。
// ペイロードは原因によらず同一。テナント名とオリジンステータスは
// 診断ヘッダーにのみ載せる。
func (h *PageHandler) writeNotFound(w http.ResponseWriter, username string, apiStatus int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	if username != "" {
		w.Header().Set(HeaderUsername, username)
	}
	if apiStatus != 0 {
		w.Header().Set(HeaderAPIStatus, strconv.Itoa(apiStatus))
	}
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(notFoundHTML))
}

// writeBadGateway は汎用502を書き出す。
func (h *PageHandler) writeBadGateway(w http.ResponseWriter, username string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	if username != "" {
		w.Header().Set(HeaderUsername, username)
	}
	w.Header().Set(HeaderCache, "MISS")
	w.WriteHeader(http.StatusBadGateway)
	w.Write([]byte(badGatewayHTML))
}

// logDiagnostics は終端遷移ごとの診断レコードをサンプリング付きで出力する。
func (h *PageHandler) logDiagnostics(host, username, cacheState string, apiStatus int, fetchDur, renderDur time.Duration) {
	if h.sampler != nil && !h.sampler.Sample() {
		return
	}
	h.logger.Info("page_request",
		slog.String("host", host),
		slog.String("username", username),
		slog.String("cache", cacheState),
		slog.Int("api_status", apiStatus),
		slog.Float64("fetch_duration_ms", float64(fetchDur.Milliseconds())),
		slog.Float64("render_duration_ms", float64(renderDur.Milliseconds())),
	)
}
