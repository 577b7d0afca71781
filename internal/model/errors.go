package model

import (
	"errors"
	"fmt"
)

// エッジのエラー分類。オーケストレーターはこれらを用いて
// 404 / 502 / ステイルフォールバックの分岐を決定する。
var (
	// ErrInvalidHostname はテナントドメインに一致しない、
	// または許可文字セットを満たさないホスト名を表す。
	ErrInvalidHostname = errors.New("invalid hostname")

	// ErrReservedSubdomain は予約語サブドメインへのアクセスを表す。
	// 呼び出し側はErrInvalidHostnameと同一の404を返し、理由を漏らさない。
	ErrReservedSubdomain = errors.New("reserved subdomain")

	// ErrUpstreamNotFound はオリジンがページの不存在を確定させたことを表す。
	// トランスポート障害と異なりリトライしてはならない。
	ErrUpstreamNotFound = errors.New("upstream page not found")

	// ErrMalformedPageData はオリジンのレスポンスボディが
	// PublicPageDataの形状を満たさないことを表す。UpstreamErrorとして扱う。
	ErrMalformedPageData = errors.New("malformed page data")
)

// UpstreamStatusError はオリジンが404以外の非2xxステータスを返したことを表す。
// ステータスコードは診断ヘッダーとログにのみ使用し、HTMLボディには露出しない。
type UpstreamStatusError struct {
	Status int
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}
