package handler

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lynkby/edge/internal/tenant"
)

// CachePurger はキャッシュ無効化のインターフェース。
type CachePurger interface {
	Purge(host, path string) error
}

// PurgeHandler はダッシュボード（外部コラボレーター）がプロフィール更新時に
// 呼び出すキャッシュパージエンドポイント。ベアラートークンで保護する。
type PurgeHandler struct {
	purger CachePurger
	token  string
	logger *slog.Logger
}

// NewPurgeHandler はPurgeHandlerを生成する。
// tokenが空の場合、パージエンドポイントは無効化され常に404を返す。
func NewPurgeHandler(purger CachePurger, token string, log *slog.Logger) *PurgeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PurgeHandler{
		purger: purger,
		token:  token,
		logger: log,
	}
}

// purgeRequest はパージリクエストのボディ。
type purgeRequest struct {
	Hostname string `json:"hostname"`
	Path     string `json:"path"`
}

// Purge はPOST /_edge/purgeを処理する。
func (h *PurgeHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if h.token == "" {
		http.NotFound(w, r)
		return
	}

	authz := r.Header.Get("Authorization")
	provided, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(h.token)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// 配信パスと同じ正規形でキーを導出する
	req.Hostname = tenant.NormalizeHost(req.Hostname)
	if req.Hostname == "" {
		http.Error(w, "hostname is required", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		req.Path = "/"
	}

	if err := h.purger.Purge(req.Hostname, req.Path); err != nil {
		h.logger.Error("cache purge failed",
			slog.String("hostname", req.Hostname),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, "purge failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("cache purged",
		slog.String("hostname", req.Hostname),
		slog.String("path", req.Path),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
