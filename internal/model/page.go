// Package model はエッジ配信のドメインモデルを定義する。
package model

// PageLayoutLinksList は現在サポートされる唯一のページレイアウト。
const PageLayoutLinksList = "LINKS_LIST"

// PublicPageData はオリジンAPIが返す公開ページドキュメント。
// エッジ側では読み取り専用として扱い、変更しない。
type PublicPageData struct {
	Username    string       `json:"username"`
	DisplayName string       `json:"displayName,omitempty"`
	AvatarURL   string       `json:"avatarUrl,omitempty"`
	Bio         string       `json:"bio,omitempty"`
	Page        PageSettings `json:"page"`
	Links       []Link       `json:"links"`
}

// PageSettings はページのレイアウト・テーマ・公開状態を保持する。
type PageSettings struct {
	Layout    string `json:"layout"`
	Theme     string `json:"theme"`
	Published bool   `json:"published"`
	UpdatedAt string `json:"updatedAt,omitempty"` // ISO-8601。キャッシュバージョン比較に使用する。
}

// Link はプロフィールページ上の1リンク。
type Link struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
	Position int    `json:"position"`
}

// Validate はオリジンから受信したドキュメントが最低限の形状を満たすかを検証する。
// usernameが空のドキュメントは不正とみなす。
func (d *PublicPageData) Validate() error {
	if d == nil {
		return ErrMalformedPageData
	}
	if d.Username == "" {
		return ErrMalformedPageData
	}
	return nil
}
