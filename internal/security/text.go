package security

import "strings"

// CleanText はユーザー由来の自由テキストから制御文字を除去する。
// NUL・C0・C1制御文字（U+0000〜U+001F、U+007F〜U+009F）を削除する。
// HTMLエンティティのエスケープ自体はレンダラーのテンプレートが行うため、
// ここでは文字の除去のみを担当する。冪等。
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return -1
		}
		return r
	}, text)
}

// TruncateRunes はテキストをルーン単位でmaxに切り詰める。
// 切り詰めが発生した場合は末尾に省略記号を付与する。
// バイト単位ではなくルーン単位で数えることで、マルチバイト文字の破壊を防ぐ。
func TruncateRunes(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
