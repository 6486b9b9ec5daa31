package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vemikrs/mirelplatform-sub001/config"
	"github.com/vemikrs/mirelplatform-sub001/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(deviceAuth *DeviceAuthHandler, keyAdmin *KeyAdminHandler, verifier middleware.TokenVerifier, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// デバイス認可グラント（RFC 8628相当のプロトコル面）
	r.Route("/v1/oauth/device", func(r chi.Router) {
		r.Post("/code", deviceAuth.CreateDeviceCode)
		r.Post("/token", deviceAuth.PollToken)
		r.Get("/verify", deviceAuth.VerifyUserCode)

		// 承認/拒否は認証済みの呼び出し元のみ
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(verifier))
			r.Post("/authorize", deviceAuth.Authorize)
			r.Post("/deny", deviceAuth.Deny)
		})
	})

	// 署名鍵の管理面
	r.Route("/v1/keys", func(r chi.Router) {
		r.Use(middleware.RequireAuth(verifier))
		r.Get("/", keyAdmin.ListKeys)
		r.Post("/rotate", keyAdmin.ForceRotate)
	})

	// 外部検証者向けの公開鍵セット
	r.Get("/.well-known/jwks.json", keyAdmin.JWKS)

	if cfg.OtelEnabled {
		return otelhttp.NewHandler(r, "http.server")
	}
	return r
}
