// Package main は認可APIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vemikrs/mirelplatform-sub001/config"
	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
	"github.com/vemikrs/mirelplatform-sub001/internal/handler"
	"github.com/vemikrs/mirelplatform-sub001/internal/infra"
	"github.com/vemikrs/mirelplatform-sub001/internal/repository"
	"github.com/vemikrs/mirelplatform-sub001/internal/scheduler"
	"github.com/vemikrs/mirelplatform-sub001/internal/session"
	"github.com/vemikrs/mirelplatform-sub001/internal/token"
	"github.com/vemikrs/mirelplatform-sub001/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// ログレベル設定
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, logLevel)

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg.DatabaseURL, cfg.OtelEnabled)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	keyRepo := repository.NewSigningKeyRepository(db)
	userRepo := repository.NewUserRoleRepository(db)

	// 署名モードの決定。KMSが使えればRS256、使えなければ共有シークレットの
	// HS256へフォールバックする（平文の秘密鍵を永続化するくらいなら機能を
	// 落とす）。モードは起動時に一度だけ決まる。
	var crypto usecase.CryptoClient = infra.DisabledCrypto{}
	var kmsClient *infra.KMSClient
	if cfg.KMSKeyName != "" {
		kmsClient, err = infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			slog.Warn("failed to init KMS client, falling back to HS256", "error", err)
		} else if probeErr := kmsClient.Probe(ctx); probeErr != nil {
			slog.Warn("KMS unavailable, falling back to HS256", "error", probeErr)
			_ = kmsClient.Close()
			kmsClient = nil
		} else {
			crypto = kmsClient
			defer func() {
				if closeErr := kmsClient.Close(); closeErr != nil {
					slog.Error("failed to close KMS client", "error", closeErr)
				}
			}()
		}
	}
	rs256 := kmsClient != nil

	keyCache := token.NewKeyCache(keyRepo, crypto, domain.UsePurposeAccessTokenSign)
	keyService := usecase.NewKeyService(keyRepo, crypto, keyCache, cfg.KeyRotationPeriod, cfg.KeyGracePeriod)

	var signer *token.Signer
	if rs256 {
		if err := keyService.EnsureCurrentKey(ctx, time.Now()); err != nil {
			slog.Error("failed to ensure current signing key", "error", err)
			os.Exit(1)
		}
		signer = token.NewRS256Signer(keyCache, cfg.TokenIssuer, cfg.SessionTokenTTL, cfg.DeviceTokenTTL)
	} else {
		// HS256の設定不備は起動時に弾く
		signer, err = token.NewHS256Signer([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.SessionTokenTTL, cfg.DeviceTokenTTL)
		if err != nil {
			slog.Error("invalid TOKEN_SECRET for HS256 fallback", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("token signing mode selected", "algorithm", signer.Algorithm())

	// DI
	store := session.NewMemoryStore()
	deviceAuth := usecase.NewDeviceAuthService(store, signer, userRepo,
		cfg.DeviceSessionTTL, cfg.DevicePollInterval, cfg.VerificationURIBase)
	deviceAuthHandler := handler.NewDeviceAuthHandler(deviceAuth)
	keyAdminHandler := handler.NewKeyAdminHandler(keyService, keyCache)
	router := handler.NewRouter(deviceAuthHandler, keyAdminHandler, signer, cfg)

	// 周期ジョブ起動
	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	go scheduler.NewSessionReaper(store, cfg.SessionReapInterval).Run(jobCtx)
	if rs256 {
		go scheduler.NewRotationScheduler(keyService, cfg.KeyRotationInterval).Run(jobCtx)
	}

	// サーバー起動
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		stopJobs()
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
