package handler

import (
	"net/http"
	"time"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
	"github.com/vemikrs/mirelplatform-sub001/internal/middleware"
	"github.com/vemikrs/mirelplatform-sub001/internal/token"
	"github.com/vemikrs/mirelplatform-sub001/internal/usecase"
	"github.com/vemikrs/mirelplatform-sub001/pkg/httputil"
)

// KeyAdminHandler は署名鍵の管理系HTTPハンドラを提供する。
type KeyAdminHandler struct {
	service *usecase.KeyService
	cache   *token.KeyCache
}

// NewKeyAdminHandler は新しいKeyAdminHandlerを生成する。
func NewKeyAdminHandler(service *usecase.KeyService, cache *token.KeyCache) *KeyAdminHandler {
	return &KeyAdminHandler{service: service, cache: cache}
}

// KeyMetadataResponse は鍵メタデータのレスポンス形式。
type KeyMetadataResponse struct {
	KeyID       string `json:"key_id"`
	Algorithm   string `json:"algorithm"`
	UsePurpose  string `json:"use_purpose"`
	Status      string `json:"status"`
	ActivatedAt string `json:"activated_at"`
	RetiredAt   string `json:"retired_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// KeyListResponse は鍵一覧のレスポンス形式。
type KeyListResponse struct {
	Keys []KeyMetadataResponse `json:"keys"`
}

func toKeyMetadataResponse(m *domain.SigningKeyMetadata) KeyMetadataResponse {
	resp := KeyMetadataResponse{
		KeyID:       m.KeyID,
		Algorithm:   m.Algorithm,
		UsePurpose:  m.UsePurpose,
		Status:      string(m.Status),
		ActivatedAt: m.ActivatedAt.Format(time.RFC3339),
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
	}
	if m.RetiredAt != nil {
		resp.RetiredAt = m.RetiredAt.Format(time.RFC3339)
	}
	return resp
}

// ListKeys は全世代の鍵メタデータ一覧を返す。秘密鍵材料は含まない。
func (h *KeyAdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.ListKeys(r.Context())
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "LIST_KEYS", "", "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "LIST_KEYS", "", "SUCCESS")
	response := KeyListResponse{Keys: make([]KeyMetadataResponse, len(keys))}
	for i, k := range keys {
		response.Keys[i] = toKeyMetadataResponse(k)
	}
	httputil.JSON(w, http.StatusOK, response)
}

// ForceRotate は即時ローテーションを実行する（インシデント対応用）。
func (h *KeyAdminHandler) ForceRotate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ForceRotate(r.Context(), time.Now()); err != nil {
		middleware.WriteAuditLog(r.Context(), "FORCE_ROTATE", "", "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "FORCE_ROTATE", "", "SUCCESS")
	w.WriteHeader(http.StatusAccepted)
}

// JWKS は検証可能な鍵の公開鍵セットを返す（外部検証者向け）。
func (h *KeyAdminHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.cache.JWKS())
}
