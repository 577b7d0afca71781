package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lynkby/edge/internal/cache"
	"github.com/lynkby/edge/internal/logger"
	"github.com/lynkby/edge/internal/metrics"
	"github.com/lynkby/edge/internal/model"
	"github.com/lynkby/edge/internal/origin"
	"github.com/lynkby/edge/internal/tenant"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fixturePage() *model.PublicPageData {
	return &model.PublicPageData{
		Username:    "testuser",
		DisplayName: "Test User",
		Bio:         "hi",
		Page: model.PageSettings{
			Layout:    model.PageLayoutLinksList,
			Theme:     "classic",
			Published: true,
			UpdatedAt: "2025-01-01T00:00:00Z",
		},
		Links: []model.Link{
			{Title: "Site", URL: "https://example.com", Active: true, Position: 1},
		},
	}
}

// stubOrigin は呼び出し回数を記録するOriginService。
// startedを設定すると初回呼び出し時にcloseされ、
// gateを設定すると呼び出しはgateがcloseされるまでブロックする。
type stubOrigin struct {
	mu      sync.Mutex
	calls   int
	data    *model.PublicPageData
	info    *origin.FetchInfo
	err     error
	started chan struct{}
	gate    chan struct{}
}

func (s *stubOrigin) FetchPage(ctx context.Context, username string) (*model.PublicPageData, *origin.FetchInfo, error) {
	s.mu.Lock()
	s.calls++
	if s.calls == 1 && s.started != nil {
		close(s.started)
	}
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	// 本物のフェッチャーと同様、キャンセル済みコンテキストでは失敗する
	if err := ctx.Err(); err != nil {
		return nil, s.info, err
	}
	return s.data, s.info, s.err
}

func (s *stubOrigin) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type env struct {
	router  http.Handler
	origin  *stubOrigin
	manager *cache.Manager
	store   *cache.MemoryStore
}

func newTestEnv(t *testing.T, org *stubOrigin) *env {
	t.Helper()
	store := cache.NewMemoryStore()
	manager := cache.NewManager(store, 5*time.Minute, discardLogger())
	t.Cleanup(func() { manager.Close() })

	deps := &RouterDeps{
		Resolver:      tenant.NewResolver("lynkby.com", ""),
		Origin:        org,
		Cache:         manager,
		Purger:        manager,
		PurgeToken:    "test-purge-token",
		HealthChecker: manager,
		Metrics:       metrics.NewCollector(prometheus.NewRegistry()),
		Sampler:       logger.NewSampler(0),
		Logger:        discardLogger(),
	}
	return &env{
		router:  NewRouter(deps),
		origin:  org,
		manager: manager,
		store:   store,
	}
}

func doRequest(router http.Handler, method, host, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestServePage_MissRendersAndReturnsPage(t *testing.T) {
	org := &stubOrigin{
		data: fixturePage(),
		info: &origin.FetchInfo{Status: 200, Attempts: 1},
	}
	e := newTestEnv(t, org)

	rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Header().Get(HeaderCache); got != "MISS" {
		t.Errorf("%s = %q, want MISS", HeaderCache, got)
	}
	if got := rec.Header().Get(HeaderUsername); got != "testuser" {
		t.Errorf("%s = %q, want testuser", HeaderUsername, got)
	}
	if got := rec.Header().Get(HeaderAPIStatus); got != "200" {
		t.Errorf("%s = %q, want 200", HeaderAPIStatus, got)
	}
	if got := rec.Header().Get(cache.HeaderPageVer); got != "2025-01-01T00:00:00Z" {
		t.Errorf("%s = %q, ページバージョンはupdatedAtをミラーすべき", cache.HeaderPageVer, got)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "Test User") {
		t.Error("表示名がボディに含まれるべき")
	}
	if !strings.Contains(body, "hi") {
		t.Error("Bioがボディに含まれるべき")
	}
	if !strings.Contains(body, `href="https://example.com"`) || !strings.Contains(body, "Site") {
		t.Error("アクティブリンクがボディに含まれるべき")
	}
}

func TestServePage_SecurityHeadersOnMiss(t *testing.T) {
	org := &stubOrigin{data: fixturePage(), info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=60, s-maxage=300, stale-while-revalidate=86400" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestServePage_SecondRequestHitsCache(t *testing.T) {
	org := &stubOrigin{data: fixturePage(), info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	first := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	e.manager.Wait()

	second := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d", second.Code)
	}
	if got := second.Header().Get(HeaderCache); got != "HIT" {
		t.Errorf("%s = %q, want HIT", HeaderCache, got)
	}
	if e.origin.callCount() != 1 {
		t.Errorf("キャッシュヒットはオリジンフェッチを短絡すべき: calls = %d", e.origin.callCount())
	}
	if first.Body.String() != second.Body.String() {
		t.Error("ヒットはミスと同一のボディを返すべき")
	}
}

func TestServePage_ReservedSubdomainIs404WithoutFetch(t *testing.T) {
	org := &stubOrigin{data: fixturePage(), info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	rec := doRequest(e.router, http.MethodGet, "www.lynkby.com", "/")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if e.origin.callCount() != 0 {
		t.Error("予約サブドメインではオリジンに到達しないべき")
	}
}

func TestServePage_InvalidHostnameIs404(t *testing.T) {
	org := &stubOrigin{data: fixturePage(), info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	rec := doRequest(e.router, http.MethodGet, "other-domain.example", "/")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if e.origin.callCount() != 0 {
		t.Error("テナント外ホストではオリジンに到達しないべき")
	}
}

func TestServePage_OriginNotFoundIsGeneric404(t *testing.T) {
	org := &stubOrigin{
		info: &origin.FetchInfo{Status: 404, Attempts: 1},
		err:  model.ErrUpstreamNotFound,
	}
	e := newTestEnv(t, org)

	rec := doRequest(e.router, http.MethodGet, "nouser.lynkby.com", "/")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Body.String() != notFoundHTML {
		t.Error("404ボディは原因によらず同一であるべき")
	}
	if got := rec.Header().Get(HeaderAPIStatus); got != "404" {
		t.Errorf("%s = %q, want 404", HeaderAPIStatus, got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("404はno-storeであるべき: %q", got)
	}
}

func TestServePage_UnpublishedPageIs404(t *testing.T) {
	data := fixturePage()
	data.Page.Published = false
	org := &stubOrigin{data: data, info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")

	if rec.Code != http.StatusNotFound {
		t.Errorf("非公開ページは404になるべき: status = %d", rec.Code)
	}
	if rec.Body.String() != notFoundHTML {
		t.Error("非公開とオリジン404のボディは区別不能であるべき")
	}
}

func TestServePage_OriginFailureWithoutCacheIs502(t *testing.T) {
	org := &stubOrigin{
		info: &origin.FetchInfo{Status: 0, Attempts: 3},
		err:  errors.New("connection refused"),
	}
	e := newTestEnv(t, org)

	rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if rec.Body.String() != badGatewayHTML {
		t.Error("502ボディは汎用ペイロードであるべき")
	}
	if strings.Contains(rec.Body.String(), "testuser") {
		t.Error("502ボディにテナント情報を含めないべき")
	}
}

func TestServePage_StaleFallbackOnOriginFailure(t *testing.T) {
	org := &stubOrigin{data: fixturePage(), info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	// 一度フェッチしてキャッシュを作る
	doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")
	e.manager.Wait()

	// エントリを期限切れに書き換える
	key := cache.Key("testuser.lynkby.com", "/")
	data, err := e.store.Get(key)
	if err != nil {
		t.Fatalf("cached entry missing: %v", err)
	}
	resp, err := cache.DecodeResponse(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.StoredAt = time.Now().Add(-1 * time.Hour)
	resp.TTL = time.Minute
	expired, _ := resp.Encode()
	e.store.Put(key, expired)

	// 以降のフェッチを失敗させる
	e.origin.mu.Lock()
	e.origin.data = nil
	e.origin.err = errors.New("origin down")
	e.origin.info = &origin.FetchInfo{Status: 0, Attempts: 3}
	e.origin.mu.Unlock()

	rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("ステイルフォールバックは200を返すべき: status = %d", rec.Code)
	}
	if got := rec.Header().Get(HeaderCache); got != "HIT" {
		t.Errorf("%s = %q, ステイル配信はHITとして報告されるべき", HeaderCache, got)
	}
	if !strings.Contains(rec.Body.String(), "Test User") {
		t.Error("ステイルボディは元のレンダリング結果であるべき")
	}
}

func TestServeFallback_OtherPathsAre404(t *testing.T) {
	org := &stubOrigin{data: fixturePage(), info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	for _, path := range []string{"/about", "/links/1", "/.env"} {
		rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", path)
		if rec.Code != http.StatusNotFound {
			t.Errorf("path %s: status = %d, want 404", path, rec.Code)
		}
	}
	if e.origin.callCount() != 0 {
		t.Error("ルート以外のパスではオリジンに到達しないべき")
	}
}

func TestServeFallback_NonGETMethodsAre404(t *testing.T) {
	org := &stubOrigin{data: fixturePage(), info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := doRequest(e.router, method, "testuser.lynkby.com", "/")
		if rec.Code != http.StatusNotFound {
			t.Errorf("method %s: status = %d, want 404", method, rec.Code)
		}
	}
}

func TestServeRobots(t *testing.T) {
	org := &stubOrigin{}
	e := newTestEnv(t, org)

	rec := doRequest(e.router, http.MethodGet, "anything.example", "/robots.txt")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "User-agent: *\nAllow: /" {
		t.Errorf("robots body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if e.origin.callCount() != 0 {
		t.Error("robots.txtはテナント解決前に短絡されるべき")
	}
}

func TestServeFavicon(t *testing.T) {
	e := newTestEnv(t, &stubOrigin{})

	rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/favicon.ico")

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Error("faviconレスポンスはボディを持たないべき")
	}
}

func TestServePage_PortQualifiedHostSharesCacheKey(t *testing.T) {
	org := &stubOrigin{data: fixturePage(), info: &origin.FetchInfo{Status: 200}}
	e := newTestEnv(t, org)

	// ポート付きHostヘッダーでキャッシュを作る
	first := doRequest(e.router, http.MethodGet, "testuser.lynkby.com:8080", "/")
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	e.manager.Wait()

	// 素のホスト名でも同一エントリにヒットする
	second := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")
	if got := second.Header().Get(HeaderCache); got != "HIT" {
		t.Errorf("ポート付きと素のホスト名は同一キャッシュキーを共有すべき: %s = %q", HeaderCache, got)
	}
	if e.origin.callCount() != 1 {
		t.Errorf("calls = %d, want 1", e.origin.callCount())
	}

	// 素のホスト名によるパージがポート付きエントリも無効化する
	if err := e.manager.Purge("testuser.lynkby.com", "/"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	third := doRequest(e.router, http.MethodGet, "testuser.lynkby.com:8080", "/")
	if got := third.Header().Get(HeaderCache); got != "MISS" {
		t.Errorf("パージ後はポート付きリクエストもミスになるべき: %s = %q", HeaderCache, got)
	}
	if e.origin.callCount() != 2 {
		t.Errorf("calls = %d, want 2", e.origin.callCount())
	}
}

func TestServePage_ConcurrentMissesShareOneFetch(t *testing.T) {
	org := &stubOrigin{
		data:    fixturePage(),
		info:    &origin.FetchInfo{Status: 200},
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	e := newTestEnv(t, org)

	const concurrency = 8
	codes := make([]int, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")
			codes[i] = rec.Code
		}(i)
	}

	// 先頭リクエストがフェッチに入ってから残りをフライトに合流させる
	<-org.started
	time.Sleep(100 * time.Millisecond)
	close(org.gate)
	wg.Wait()

	if got := org.callCount(); got != 1 {
		t.Errorf("同一キーの同時ミスは1回のフェッチに合流すべき: calls = %d", got)
	}
	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, code)
		}
	}
}

func TestServePage_InitiatorCancelDoesNotFailSharers(t *testing.T) {
	org := &stubOrigin{
		data:    fixturePage(),
		info:    &origin.FetchInfo{Status: 200},
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	e := newTestEnv(t, org)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// 先頭リクエスト（後でキャンセルする）
	wg.Add(1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		req.Host = "testuser.lynkby.com"
		e.router.ServeHTTP(httptest.NewRecorder(), req)
	}()
	<-org.started

	// 合流リクエスト
	var sharerCode int
	var sharerCache string
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/")
		sharerCode = rec.Code
		sharerCache = rec.Header().Get(HeaderCache)
	}()
	time.Sleep(100 * time.Millisecond)

	cancel()
	close(org.gate)
	wg.Wait()

	if sharerCode != http.StatusOK {
		t.Errorf("先頭リクエストのキャンセルは合流者を道連れにしないべき: status = %d", sharerCode)
	}
	if sharerCache != "MISS" {
		t.Errorf("%s = %q, want MISS", HeaderCache, sharerCache)
	}
	if got := org.callCount(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestHealthz_OK(t *testing.T) {
	e := newTestEnv(t, &stubOrigin{})

	rec := doRequest(e.router, http.MethodGet, "testuser.lynkby.com", "/_edge/healthz")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz body = %q", rec.Body.String())
	}
}
