// Package origin はオリジンAPIからの公開ページデータ取得を提供する。
// サービスバインディングによるインプロセス高速パスと、
// 指数バックオフ付きリトライを行うHTTPSフォールバックを含む。
package origin

import "time"

const (
	// maxAttempts はHTTPSフォールバックの最大試行回数。
	maxAttempts = 3
	// baseBackoff は指数バックオフの初回遅延（1秒）。以後2倍ずつ増加する。
	baseBackoff = 1 * time.Second
	// maxBackoffDelay は1回の待機の上限。
	maxBackoffDelay = 8 * time.Second
)

// BackoffDelay はリトライ回数（0始まり）に対する待機時間を計算する。
// 1秒、2秒、4秒と2倍ずつ増加し、上限で頭打ちになる。
func BackoffDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := baseBackoff
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= maxBackoffDelay {
			return maxBackoffDelay
		}
	}
	return delay
}

// Retryable はHTTP試行の失敗がリトライ対象かを返す。
// リトライはトランスポート層の失敗（タイムアウト、接続エラー）のみを対象とし、
// HTTPレスポンスが返った場合は4xx/5xxであっても即座に結果を確定させる。
// オリジンの決定的な404をリトライしてはならないため。
func Retryable(gotResponse bool) bool {
	return !gotResponse
}
