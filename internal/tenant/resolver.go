// Package tenant はリクエストホスト名からテナント（ユーザー名）を解決する。
// 解決は純粋関数であり、同一入力に対して常に同一結果を返す。
package tenant

import (
	"net"
	"regexp"
	"strings"

	"github.com/lynkby/edge/internal/model"
)

// usernamePattern はサブドメインとして許可されるユーザー名のパターン。
// 小文字英数字とアンダースコアのみ、最大24文字。ハイフンは許可しない。
var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{1,24}$`)

// defaultReserved はテナントとして使用できない静的な予約サブドメイン。
var defaultReserved = []string{
	"www", "app", "api", "admin", "static", "cdn",
	"help", "docs", "status", "dashboard", "mail",
	"blog", "support", "assets", "dev", "staging",
}

// Resolver はホスト名をテナントのユーザー名に解決する。
// 予約語リストは起動時に確定し、以後変更されない。
type Resolver struct {
	suffix   string // "." + テナントドメイン（小文字）
	reserved map[string]struct{}
}

// NewResolver はResolverを生成する。
// extraReservedには環境変数由来のカンマ区切り予約語リストを渡す。
// 静的な予約語リストに追記され、重複は無害。
func NewResolver(tenantDomain, extraReserved string) *Resolver {
	reserved := make(map[string]struct{}, len(defaultReserved))
	for _, name := range defaultReserved {
		reserved[name] = struct{}{}
	}
	for _, name := range strings.Split(extraReserved, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			reserved[name] = struct{}{}
		}
	}
	return &Resolver{
		suffix:   "." + strings.ToLower(strings.TrimSpace(tenantDomain)),
		reserved: reserved,
	}
}

// NormalizeHost はホスト名を正規化する。小文字化し、前後の空白と
// Hostヘッダーに付くことのあるポート部を取り除く。
// テナント解決とキャッシュキー導出は同一の正規形を共有しなければならない。
// ポート付きホストが別キーになると、素のホスト名によるパージが
// ポート付きエントリを無効化できなくなるため。
func NormalizeHost(hostname string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// Resolve はホスト名からユーザー名を解決する。
// 正規化し、テナントドメインのサフィックス一致を要求し、
// 残ったサブドメインを文字セットと予約語リストで検証する。
// 失敗理由はエラー種別で区別されるが、呼び出し側は
// いずれの場合も同一の404を返すこと（情報漏洩防止）。
func (r *Resolver) Resolve(hostname string) (string, error) {
	host := NormalizeHost(hostname)
	if host == "" {
		return "", model.ErrInvalidHostname
	}

	if !strings.HasSuffix(host, r.suffix) {
		return "", model.ErrInvalidHostname
	}

	candidate := strings.TrimSuffix(host, r.suffix)
	if candidate == "" || strings.Contains(candidate, ".") {
		// 裸ドメインおよび多段サブドメインはテナントではない
		return "", model.ErrInvalidHostname
	}

	if !usernamePattern.MatchString(candidate) {
		return "", model.ErrInvalidHostname
	}

	if _, ok := r.reserved[candidate]; ok {
		return "", model.ErrReservedSubdomain
	}

	return candidate, nil
}
