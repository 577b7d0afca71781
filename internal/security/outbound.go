// Package security はエッジのセキュリティ機能を提供する。
//
// OutboundGuard はオリジンAPIへのフォールバックHTTPSリクエストに使用する
// SSRF防止機能付きHTTPクライアントを生成する。API_BASEは運用者設定だが、
// 設定ミスや注入によって内部ネットワークへ到達しないよう、
// safeurlライブラリでプライベートIP・ループバック・リンクローカル・
// メタデータIPへのリクエストをdialerレベルでブロックする。
package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes はアウトバウンドリクエストで許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// OutboundGuardService はアウトバウンドHTTPクライアント生成のインターフェース。
type OutboundGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
	// DNS再バインディング攻撃にも対応している。
	NewSafeClient(timeout time.Duration) *http.Client
}

// outboundGuard はOutboundGuardServiceの実装。
type outboundGuard struct{}

// NewOutboundGuard はOutboundGuardServiceの新しいインスタンスを生成する。
func NewOutboundGuard() *outboundGuard {
	return &outboundGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// タイムアウトは1試行あたりの上限であり、リトライ制御は呼び出し側が行う。
func (g *outboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}
