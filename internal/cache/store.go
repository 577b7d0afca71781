// Package cache はエッジキャッシュのストア抽象とマネージャーを提供する。
// ストアはホスト+パスをキーとするバイト列のKVであり、
// 本番ではLevelDB、テストではインメモリ実装を使用する。
package cache

import "errors"

// ErrNotFound はキーに対応するエントリが存在しないことを表す。
var ErrNotFound = errors.New("cache: entry not found")

// Store はキャッシュエントリの永続化を抽象化する。
// 実装は並行アクセスに対して安全でなければならない。
// トランザクションは提供せず、last-write-winsセマンティクスとする。
type Store interface {
	// Get はキーに対応する値を返す。存在しない場合はErrNotFound。
	Get(key string) ([]byte, error)
	// Put はキーに値を書き込む。既存の値は上書きされる。
	Put(key string, value []byte) error
	// Delete はキーを削除する。存在しないキーの削除はエラーにならない。
	Delete(key string) error
	// ForEach は全エントリを走査する。fnがエラーを返すと走査を中断する。
	ForEach(fn func(key string, value []byte) error) error
	// Close はストアを閉じる。
	Close() error
}
