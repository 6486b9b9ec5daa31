// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	KMSKeyName         string
	GoogleCloudProject string
	LogLevel           string

	// トークン関連設定
	TokenIssuer     string
	TokenSecret     string // HS256フォールバック用の共有シークレット（32バイト以上）
	SessionTokenTTL time.Duration
	DeviceTokenTTL  time.Duration

	// 署名鍵ローテーション設定
	KeyRotationPeriod   time.Duration
	KeyGracePeriod      time.Duration
	KeyRotationInterval time.Duration

	// デバイス認可フロー設定
	DeviceSessionTTL    time.Duration
	DevicePollInterval  time.Duration
	SessionReapInterval time.Duration
	VerificationURIBase string

	// OpenTelemetry設定
	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),

		TokenIssuer:     getEnv("TOKEN_ISSUER", "mirelplatform"),
		TokenSecret:     os.Getenv("TOKEN_SECRET"),
		SessionTokenTTL: getDuration("SESSION_TOKEN_TTL", time.Hour),
		DeviceTokenTTL:  getDuration("DEVICE_TOKEN_TTL", 24*time.Hour),

		KeyRotationPeriod:   getDuration("KEY_ROTATION_PERIOD", 90*24*time.Hour),
		KeyGracePeriod:      getDuration("KEY_GRACE_PERIOD", 30*24*time.Hour),
		KeyRotationInterval: getDuration("KEY_ROTATION_INTERVAL", 24*time.Hour),

		DeviceSessionTTL:    getDuration("DEVICE_SESSION_TTL", 15*time.Minute),
		DevicePollInterval:  getDuration("DEVICE_POLL_INTERVAL", 5*time.Second),
		SessionReapInterval: getDuration("SESSION_REAP_INTERVAL", time.Minute),
		VerificationURIBase: getEnv("VERIFICATION_URI_BASE", "http://localhost:8080"),

		OtelEnabled:      getBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "mirel-auth"),
		OtelSamplingRate: getFloat("OTEL_SAMPLING_RATE", 0.1),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
