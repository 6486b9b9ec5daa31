// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
	"github.com/vemikrs/mirelplatform-sub001/internal/middleware"
	"github.com/vemikrs/mirelplatform-sub001/internal/usecase"
	"github.com/vemikrs/mirelplatform-sub001/pkg/httputil"
)

// DeviceAuthHandler はデバイス認可グラントのHTTPハンドラを提供する。
// プロトコル上の結果はすべて機械可読なエラーコード付きのJSONで返し、
// スタックトレースや内部エラーの詳細をCLIへ漏らさない。
type DeviceAuthHandler struct {
	service *usecase.DeviceAuthService
}

// NewDeviceAuthHandler は新しいDeviceAuthHandlerを生成する。
func NewDeviceAuthHandler(service *usecase.DeviceAuthService) *DeviceAuthHandler {
	return &DeviceAuthHandler{service: service}
}

// DeviceCodeRequest はデバイスコード発行のリクエスト形式。
type DeviceCodeRequest struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// DeviceCodeResponse はデバイスコード発行のレスポンス形式。
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
}

// TokenPollRequest はトークンポーリングのリクエスト形式。
type TokenPollRequest struct {
	DeviceCode string `json:"device_code"`
	ClientID   string `json:"client_id"`
}

// TokenResponse はトークン発行成功時のレスポンス形式。
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	UserName    string `json:"user_name,omitempty"`
	UserEmail   string `json:"user_email,omitempty"`
}

// UserCodeVerifyResponse はユーザーコード照会のレスポンス形式。
type UserCodeVerifyResponse struct {
	Valid    bool   `json:"valid"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// ResolveRequest は承認/拒否のリクエスト形式。
type ResolveRequest struct {
	UserCode string `json:"user_code"`
}

// ResolveResponse は承認/拒否のレスポンス形式。
type ResolveResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreateDeviceCode はデバイスコードを発行する。
func (h *DeviceAuthHandler) CreateDeviceCode(w http.ResponseWriter, r *http.Request) {
	var req DeviceCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	grant, err := h.service.CreateDeviceCode(r.Context(), req.ClientID, req.Scope)
	if err != nil {
		if errors.Is(err, domain.ErrClientIDRequired) {
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "client_id is required")
			return
		}
		if errors.Is(err, domain.ErrCodeSpaceExhausted) {
			httputil.Error(w, http.StatusServiceUnavailable, "CODE_SPACE_EXHAUSTED", "could not allocate a user code, try again")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, DeviceCodeResponse{
		DeviceCode:      grant.DeviceCode,
		UserCode:        grant.UserCode,
		VerificationURI: grant.VerificationURI,
		ExpiresIn:       grant.ExpiresIn,
		Interval:        grant.Interval,
	})
}

// PollToken はトークンポーリングを処理する。
// slow_downは429へ対応付け、CLI側のバックオフ指示として機能させる。
func (h *DeviceAuthHandler) PollToken(w http.ResponseWriter, r *http.Request) {
	var req TokenPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	result, err := h.service.PollToken(r.Context(), req.DeviceCode, req.ClientID)
	if err != nil {
		// ストアやディレクトリの一時障害。偽のexpired/deniedへ潰さず、
		// 再試行可能な失敗としてそのまま返す。
		httputil.Error(w, http.StatusServiceUnavailable, "RETRYABLE", "temporary failure, retry later")
		return
	}

	switch result.Status {
	case domain.PollStatusIssued:
		httputil.JSON(w, http.StatusOK, TokenResponse{
			AccessToken: result.AccessToken,
			TokenType:   result.TokenType,
			ExpiresIn:   result.ExpiresIn,
			UserName:    result.UserName,
			UserEmail:   result.UserEmail,
		})
	case domain.PollStatusSlowDown:
		httputil.Error(w, http.StatusTooManyRequests, string(result.Status), "polling too fast")
	case domain.PollStatusInvalidClient:
		httputil.Error(w, http.StatusUnauthorized, string(result.Status), "client_id does not match")
	default:
		// authorization_pending / expired_token / access_denied
		httputil.Error(w, http.StatusBadRequest, string(result.Status), "")
	}
}

// VerifyUserCode はユーザーコードの有効性を照会する（閲覧専用）。
func (h *DeviceAuthHandler) VerifyUserCode(w http.ResponseWriter, r *http.Request) {
	userCode := r.URL.Query().Get("user_code")
	if userCode == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_code is required")
		return
	}

	info := h.service.VerifyUserCode(r.Context(), userCode)
	httputil.JSON(w, http.StatusOK, UserCodeVerifyResponse{
		Valid:    info.Valid,
		ClientID: info.ClientID,
		Scope:    info.Scope,
	})
}

// Authorize はユーザーコードに対応するセッションを承認する。
// 認証ミドルウェアを通過した呼び出しのみが到達する。
func (h *DeviceAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserCode == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_code is required")
		return
	}

	err := h.service.Authorize(r.Context(), req.UserCode, caller.UserID, caller.Name, caller.Email)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "DEVICE_AUTHORIZE", req.UserCode, "FAILED")
		httputil.JSON(w, http.StatusOK, ResolveResponse{Success: false, Error: resolveErrorCode(err)})
		return
	}

	middleware.WriteAuditLog(r.Context(), "DEVICE_AUTHORIZE", req.UserCode, "SUCCESS")
	httputil.JSON(w, http.StatusOK, ResolveResponse{Success: true})
}

// Deny はユーザーコードに対応するセッションを拒否する。
func (h *DeviceAuthHandler) Deny(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CallerFrom(r.Context()); !ok {
		httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserCode == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_code is required")
		return
	}

	err := h.service.Deny(r.Context(), req.UserCode)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "DEVICE_DENY", req.UserCode, "FAILED")
		httputil.JSON(w, http.StatusOK, ResolveResponse{Success: false, Error: resolveErrorCode(err)})
		return
	}

	middleware.WriteAuditLog(r.Context(), "DEVICE_DENY", req.UserCode, "SUCCESS")
	httputil.JSON(w, http.StatusOK, ResolveResponse{Success: true})
}

// resolveErrorCode は承認/拒否の失敗理由を短い機械可読コードへ対応付ける。
func resolveErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "unknown_code"
	case errors.Is(err, domain.ErrSessionExpired):
		return "expired_code"
	case errors.Is(err, domain.ErrSessionResolved):
		return "already_resolved"
	default:
		return "internal_error"
	}
}
