// Package render は公開ページデータをテーマ適用済みのHTMLドキュメントに変換する。
// レンダリングは純粋関数であり、I/Oを行わない。
// 自由テキストのエスケープはhtml/templateのコンテキストエスケープに委ね、
// 制御文字の除去と切り詰めは事前に行う。
package render

import (
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/lynkby/edge/internal/model"
	"github.com/lynkby/edge/internal/security"
)

const (
	// bioMaxRunes はページ本文に表示するbioの最大ルーン数。
	bioMaxRunes = 280
	// metaDescriptionMaxRunes はmeta descriptionに使用するbioの最大ルーン数。
	metaDescriptionMaxRunes = 160
)

// allowedLinkSchemes はリンクURLとして描画を許可するスキームプレフィックス。
// javascript:等のスクリプトスキーム注入を防ぐため、許可リスト方式をとる。
var allowedLinkSchemes = []string{"https:", "mailto:", "tel:"}

// Options はレンダリングのリクエスト依存パラメータ。
type Options struct {
	// RequestHost はcanonical URLとog:urlの生成に使用するホスト名。
	RequestHost string
}

// Result はレンダリング結果。HTMLドキュメントと、
// レスポンスに必ず付与すべきヘッダーセットを保持する。
type Result struct {
	HTML            string
	SecurityHeaders map[string]string
	CacheHeaders    map[string]string
}

type linkView struct {
	Title string
	// URLはスキーム許可リストで検証済みのためtemplate.URLとして扱う。
	// html/templateの既定URLフィルタはtel:を通さないため、
	// 検証をバイパスしない生文字列のままでは描画できない。
	URL template.URL
}

type pageView struct {
	Title           string
	DisplayName     string
	Bio             string
	MetaDescription string
	AvatarURL       string
	CanonicalURL    string
	Palette         Palette
	Links           []linkView
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<meta name="description" content="{{.MetaDescription}}">
<meta property="og:title" content="{{.Title}}">
<meta property="og:description" content="{{.MetaDescription}}">
<meta property="og:type" content="profile">
<meta property="og:url" content="{{.CanonicalURL}}">
{{- if .AvatarURL}}
<meta property="og:image" content="{{.AvatarURL}}">
{{- end}}
<style>
:root{--bg:{{.Palette.Background}};--fg:{{.Palette.Foreground}};--muted:{{.Palette.Muted}};--btn:{{.Palette.Button}};--btn-fg:{{.Palette.ButtonText}};--radius:{{.Palette.Radius}}}
*{box-sizing:border-box;margin:0;padding:0}
body{background:var(--bg);color:var(--fg);font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,sans-serif;min-height:100vh}
main{max-width:480px;margin:0 auto;padding:48px 16px;text-align:center}
.avatar{width:96px;height:96px;border-radius:50%;object-fit:cover;margin-bottom:16px}
h1{font-size:1.25rem;font-weight:700;margin-bottom:8px}
.bio{color:var(--muted);font-size:.9rem;margin-bottom:24px;overflow-wrap:break-word}
.links{display:flex;flex-direction:column;gap:12px}
.link{display:block;background:var(--btn);color:var(--btn-fg);text-decoration:none;padding:14px 16px;border-radius:var(--radius);font-weight:600;overflow-wrap:break-word}
.link:hover{opacity:.85}
footer{margin-top:40px;font-size:.75rem;color:var(--muted)}
footer a{color:var(--muted)}
</style>
</head>
<body>
<main>
{{- if .AvatarURL}}
<img class="avatar" src="{{.AvatarURL}}" alt="">
{{- end}}
<h1>{{.DisplayName}}</h1>
{{- if .Bio}}
<p class="bio">{{.Bio}}</p>
{{- end}}
<nav class="links">
{{- range .Links}}
<a class="link" href="{{.URL}}" rel="noopener">{{.Title}}</a>
{{- end}}
</nav>
<footer><a href="https://lynkby.com">lynkby</a></footer>
</main>
</body>
</html>
`))

// Render は公開ページデータからHTMLドキュメントとヘッダーセットを生成する。
// 純粋関数: 同一入力に対して常に同一出力を返し、副作用を持たない。
func Render(data *model.PublicPageData, opts Options) (*Result, error) {
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	displayName := security.CleanText(data.DisplayName)
	if displayName == "" {
		displayName = "@" + data.Username
	}

	bio := security.CleanText(data.Bio)

	view := pageView{
		Title:           displayName + " | Lynkby",
		DisplayName:     displayName,
		Bio:             security.TruncateRunes(bio, bioMaxRunes),
		MetaDescription: security.TruncateRunes(bio, metaDescriptionMaxRunes),
		AvatarURL:       safeAvatarURL(data.AvatarURL),
		CanonicalURL:    "https://" + strings.ToLower(opts.RequestHost) + "/",
		Palette:         ParseTheme(data.Page.Theme).Palette(),
		Links:           renderableLinks(data.Links),
	}

	var sb strings.Builder
	if err := pageTemplate.Execute(&sb, view); err != nil {
		return nil, fmt.Errorf("render: template execution failed: %w", err)
	}

	return &Result{
		HTML:            sb.String(),
		SecurityHeaders: newSecurityHeaders(),
		CacheHeaders:    newCacheHeaders(),
	}, nil
}

// renderableLinks は描画対象のリンクを選別して整列する。
// activeなリンクのみを残し、position昇順に並べ、
// 許可スキーム以外のURLを持つリンクは黙って除外する。
func renderableLinks(links []model.Link) []linkView {
	kept := make([]model.Link, 0, len(links))
	for _, l := range links {
		if !l.Active {
			continue
		}
		if !isAllowedLinkURL(l.URL) {
			continue
		}
		kept = append(kept, l)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Position < kept[j].Position
	})

	views := make([]linkView, 0, len(kept))
	for _, l := range kept {
		title := security.CleanText(l.Title)
		if title == "" {
			title = l.URL
		}
		views = append(views, linkView{Title: title, URL: template.URL(l.URL)})
	}
	return views
}

// isAllowedLinkURL はリンクURLが許可スキームで始まるかを検証する。
func isAllowedLinkURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	for _, scheme := range allowedLinkSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// safeAvatarURL はアバターURLを検証し、https以外は空文字を返す。
// アバターはimg srcとして埋め込まれるため、リンクより厳しくhttpsのみ許可する。
func safeAvatarURL(rawURL string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(rawURL)), "https:") {
		return strings.TrimSpace(rawURL)
	}
	return ""
}

// newSecurityHeaders は公開ページに必ず付与するセキュリティヘッダーを返す。
// 公開モードは常にフレーミングを拒否する（埋め込みモードは提供しない）。
func newSecurityHeaders() map[string]string {
	return map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"Referrer-Policy":           "no-referrer",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'none'; style-src 'unsafe-inline'; img-src https: data:; frame-ancestors 'none'",
	}
}

// newCacheHeaders は公開ページのキャッシュ制御ヘッダーを返す。
// ブラウザ(max-age)よりエッジ(s-maxage)を長くし、
// フレッシュネス制御の主体をエッジキャッシュ側に置く。
func newCacheHeaders() map[string]string {
	return map[string]string{
		"Cache-Control": "public, max-age=60, s-maxage=300, stale-while-revalidate=86400",
	}
}
