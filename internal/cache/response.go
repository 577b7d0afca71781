package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net/http"
	"time"
)

// HeaderPageVer はキャッシュされたページのバージョンを運ぶヘッダー。
// オリジンのpage.updatedAtをミラーし、鮮度の出所を示す。
const HeaderPageVer = "X-Page-Ver"

// CachedResponse はキャッシュに保存する完全なHTTPレスポンス。
// gobエンコードしてストアに書き込む。
type CachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
	TTL      time.Duration
}

// Fresh はエントリがまだフレッシュ期間内かを返す。
func (r *CachedResponse) Fresh(now time.Time) bool {
	return now.Before(r.StoredAt.Add(r.TTL))
}

// Age はエントリの経過時間を返す。
func (r *CachedResponse) Age(now time.Time) time.Duration {
	return now.Sub(r.StoredAt)
}

// PageVer は保存されているページバージョンを返す。未設定の場合は空文字。
func (r *CachedResponse) PageVer() string {
	return r.Header.Get(HeaderPageVer)
}

// Encode はCachedResponseをgobバイト列に変換する。
func (r *CachedResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("cache: encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse はgobバイト列からCachedResponseを復元する。
func DecodeResponse(data []byte) (*CachedResponse, error) {
	var resp CachedResponse
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("cache: decode failed: %w", err)
	}
	return &resp, nil
}
