package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
	"github.com/vemikrs/mirelplatform-sub001/internal/token"
	"github.com/vemikrs/mirelplatform-sub001/pkg/httputil"
)

type contextKey string

const callerKey contextKey = "auth.caller"

// Caller は認証済み呼び出し元の識別情報。
type Caller struct {
	UserID string
	Name   string
	Email  string
	Roles  []string
}

// TokenVerifier はベアラートークン検証のインターフェース。
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// RequireAuth はAuthorizationヘッダのベアラートークンを検証し、
// 呼び出し元の識別情報をコンテキストへ載せるミドルウェアを返す。
// 未認証の呼び出しはコーディネータへ到達する前に拒否される。
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "bearer token required")
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				// 不明kidは期限切れより不審度が高い。検証失敗の種別ごとに
				// ログを分け、攻撃パターンの検知に使えるようにする。
				switch {
				case errors.Is(err, domain.ErrUnknownKeyID):
					slog.WarnContext(r.Context(), "token with unknown kid rejected",
						"operation", "require_auth",
						"remote_addr", r.RemoteAddr,
					)
				case errors.Is(err, domain.ErrTokenExpired):
					slog.InfoContext(r.Context(), "expired token rejected",
						"operation", "require_auth",
					)
				default:
					slog.WarnContext(r.Context(), "token verification failed",
						"operation", "require_auth",
						"error", err,
					)
				}
				httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			caller := &Caller{
				UserID: claims.Subject,
				Name:   claims.Name,
				Email:  claims.Email,
				Roles:  claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
		})
	}
}

// CallerFrom はコンテキストから認証済み呼び出し元を取り出す。
func CallerFrom(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(callerKey).(*Caller)
	return caller, ok
}
