package domain

import "errors"

var (
	// ErrKeyNotFound は現用の署名鍵が存在しない場合のエラー。
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrUnknownKeyID はトークンヘッダのkidに対応する鍵が存在しない場合のエラー。
	// 不明kidの繰り返しは攻撃の兆候であり、期限切れとは区別してログに残す。
	ErrUnknownKeyID = errors.New("unknown key id")

	// ErrInvalidSignature はトークンの署名検証に失敗した場合のエラー。
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrTokenExpired はトークンの有効期限が切れている場合のエラー。
	ErrTokenExpired = errors.New("token expired")

	// ErrMalformedToken はトークンの構造デコードに失敗した場合のエラー。
	ErrMalformedToken = errors.New("malformed token")

	// ErrSessionNotFound は指定されたコードに対応するセッションが存在しない場合のエラー。
	ErrSessionNotFound = errors.New("device auth session not found")

	// ErrSessionResolved はセッションが既に終端状態に達している場合のエラー。
	ErrSessionResolved = errors.New("device auth session already resolved")

	// ErrSessionExpired はセッションの有効期限が切れている場合のエラー。
	ErrSessionExpired = errors.New("device auth session expired")

	// ErrCodeSpaceExhausted はユーザーコードの衝突回避が規定回数で収束しなかった場合のエラー。
	ErrCodeSpaceExhausted = errors.New("user code space exhausted")

	// ErrClientIDRequired はclient_idが空の場合のエラー。
	ErrClientIDRequired = errors.New("client_id is required")

	// ErrCryptoUnavailable は外部暗号サービスが利用できない場合のエラー。
	ErrCryptoUnavailable = errors.New("crypto service unavailable")

	// ErrSecretTooShort はHS256共有シークレットが短すぎる場合のエラー。
	ErrSecretTooShort = errors.New("shared secret must be at least 32 bytes")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
