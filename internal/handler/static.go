// Package handler はエッジのHTTPルーティングとリクエストオーケストレーションを提供する。
package handler

import "net/http"

// robotsBody は全ホスト共通のrobots.txt本文。
const robotsBody = "User-agent: *\nAllow: /"

// notFoundHTML は404レスポンスの汎用ボディ。
// テナント列挙やキャッシュ/オリジン状態の漏洩を防ぐため、
// 原因によらず完全に同一のペイロードを返す。
const notFoundHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Page not found</title>
<style>body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;color:#18181b}main{text-align:center}h1{font-size:1.5rem}p{color:#71717a}</style>
</head>
<body><main><h1>404</h1><p>This page doesn&#39;t exist.</p></main></body>
</html>
`

// badGatewayHTML はオリジン障害時の汎用502ボディ。
// テナント固有のコンテンツを一切含めない（エラーパスでの情報漏洩防止と、
// 部分的・未検証データのレンダリング回避のため）。
const badGatewayHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Temporarily unavailable</title>
<style>body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;color:#18181b}main{text-align:center}h1{font-size:1.5rem}p{color:#71717a}</style>
</head>
<body><main><h1>Temporarily unavailable</h1><p>Please try again in a moment.</p></main></body>
</html>
`

// ServeRobots はrobots.txtを返す。テナント解決の前に短絡される。
func (h *PageHandler) ServeRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(robotsBody))
}

// ServeFavicon はfaviconリクエストに204を返す。
func (h *PageHandler) ServeFavicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
