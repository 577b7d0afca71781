package render

// Theme はページの配色テーマ。閉じた列挙型として扱い、
// 未知のテーマ値はParseThemeでThemeClassicにフォールバックする。
type Theme int

const (
	// ThemeClassic はデフォルトの白背景テーマ。
	ThemeClassic Theme = iota
	// ThemeContrast は黒背景の高コントラストテーマ。
	ThemeContrast
	// ThemeWarm は暖色系テーマ。
	ThemeWarm
)

// Palette はテーマごとの固定配色とコーナー半径。
// 値はそのままCSSカスタムプロパティに埋め込まれる。
type Palette struct {
	Background string
	Foreground string
	Muted      string
	Button     string
	ButtonText string
	Radius     string
}

// ParseTheme はオリジンのtheme文字列をThemeに変換する。
// 未知の値はclassicにフォールバックする。
func ParseTheme(s string) Theme {
	switch s {
	case "contrast":
		return ThemeContrast
	case "warm":
		return ThemeWarm
	case "classic":
		return ThemeClassic
	default:
		return ThemeClassic
	}
}

// String はテーマ名を返す。
func (t Theme) String() string {
	switch t {
	case ThemeContrast:
		return "contrast"
	case ThemeWarm:
		return "warm"
	default:
		return "classic"
	}
}

// Palette はテーマの配色を返す。switchは全テーマを網羅する。
func (t Theme) Palette() Palette {
	switch t {
	case ThemeContrast:
		return Palette{
			Background: "#0a0a0a",
			Foreground: "#fafafa",
			Muted:      "#a3a3a3",
			Button:     "#fafafa",
			ButtonText: "#0a0a0a",
			Radius:     "9999px",
		}
	case ThemeWarm:
		return Palette{
			Background: "#fff7ed",
			Foreground: "#431407",
			Muted:      "#9a3412",
			Button:     "#ea580c",
			ButtonText: "#ffffff",
			Radius:     "14px",
		}
	default:
		return Palette{
			Background: "#ffffff",
			Foreground: "#18181b",
			Muted:      "#71717a",
			Button:     "#18181b",
			ButtonText: "#ffffff",
			Radius:     "12px",
		}
	}
}
