package logger

import "math/rand/v2"

// Sampler はリクエスト診断ログのサンプリング判定を行う。
// サンプリング率は起動時に注入し、実行中は変更しない。
// rate 0.0で全て破棄、1.0で全て採用となる。
type Sampler struct {
	rate float64
	rng  func() float64
}

// NewSampler は指定サンプリング率のSamplerを生成する。
// rateは[0.0, 1.0]にクランプされる。
func NewSampler(rate float64) *Sampler {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &Sampler{
		rate: rate,
		rng:  rand.Float64,
	}
}

// Sample はこのリクエストの診断ログを出力すべきかを返す。
func (s *Sampler) Sample() bool {
	if s.rate >= 1 {
		return true
	}
	if s.rate <= 0 {
		return false
	}
	return s.rng() < s.rate
}

// Rate は設定されたサンプリング率を返す。
func (s *Sampler) Rate() float64 {
	return s.rate
}
