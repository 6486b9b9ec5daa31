package token

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

// Claims はアクセストークンのクレームセット。
// 有効期限と発行者は常にクレームとして埋め込み、検証時に外部状態から
// 推測することはない。
type Claims struct {
	jwt.RegisteredClaims
	Roles    []string `json:"roles,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
}

// Signer はアクセストークンの署名と検証を提供する。
// モードは起動時に一度だけ決まる:
//   - RS256モード: KeyCacheの現用鍵で署名し、kidヘッダを付与する。
//     検証はkidをKeyCacheで解決する（退役済みvalid鍵も猶予期間中は解決可能）。
//   - HS256フォールバックモード: 暗号サービスが使えない環境向けの単一共有
//     シークレット。鍵ローテーションは行えない。
type Signer struct {
	method     jwt.SigningMethod
	cache      *KeyCache
	secret     []byte
	issuer     string
	sessionTTL time.Duration
	deviceTTL  time.Duration
	now        func() time.Time
}

// NewRS256Signer はKeyCacheを使うRS256モードのSignerを生成する。
func NewRS256Signer(cache *KeyCache, issuer string, sessionTTL, deviceTTL time.Duration) *Signer {
	return &Signer{
		method:     jwt.SigningMethodRS256,
		cache:      cache,
		issuer:     issuer,
		sessionTTL: sessionTTL,
		deviceTTL:  deviceTTL,
		now:        time.Now,
	}
}

// NewHS256Signer は共有シークレットを使うフォールバックモードのSignerを生成する。
// シークレットが32バイト未満の場合は起動を拒否する。
func NewHS256Signer(secret []byte, issuer string, sessionTTL, deviceTTL time.Duration) (*Signer, error) {
	if len(secret) < 32 {
		return nil, domain.ErrSecretTooShort
	}
	return &Signer{
		method:     jwt.SigningMethodHS256,
		secret:     secret,
		issuer:     issuer,
		sessionTTL: sessionTTL,
		deviceTTL:  deviceTTL,
		now:        time.Now,
	}, nil
}

// Algorithm は選択されている署名アルゴリズム名を返す。
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// IssueSessionToken はセッションアクセストークンを発行する。
// 表示用の氏名・メールアドレスもクレームに埋め込み、承認UIが
// 再参照なしで呼び出し元の身元を表示できるようにする。
func (s *Signer) IssueSessionToken(userID, name, email string, roles []string) (string, error) {
	claims := s.claims(userID, roles, "", "", s.sessionTTL)
	claims.Name = name
	claims.Email = email
	return s.sign(claims)
}

// IssueDeviceToken はCLI向けデバイストークンを発行する。
// セッショントークンとは独立した固定TTL（既定24時間）を持つ。
func (s *Signer) IssueDeviceToken(userID string, roles []string, scope, clientID string) (string, time.Duration, error) {
	signed, err := s.sign(s.claims(userID, roles, scope, clientID, s.deviceTTL))
	if err != nil {
		return "", 0, err
	}
	return signed, s.deviceTTL, nil
}

func (s *Signer) claims(userID string, roles []string, scope, clientID string, ttl time.Duration) *Claims {
	now := s.now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:    roles,
		Scope:    scope,
		ClientID: clientID,
	}
}

func (s *Signer) sign(claims *Claims) (string, error) {
	tok := jwt.NewWithClaims(s.method, claims)

	if s.method == jwt.SigningMethodHS256 {
		return tok.SignedString(s.secret)
	}

	current, err := s.cache.CurrentSigningKey()
	if err != nil {
		return "", fmt.Errorf("resolving current signing key: %w", err)
	}
	tok.Header["kid"] = current.Metadata.KeyID
	return tok.SignedString(current.PrivateKey)
}

// Verify はトークンを検証してクレームを返す。検証結果は以下の4種に区別される:
// 構造デコード失敗（ErrMalformedToken）、不明kid（ErrUnknownKeyID）、
// 署名不一致（ErrInvalidSignature）、期限切れ（ErrTokenExpired）。
// kidが不明な場合に既定鍵へフォールバックすることは決してない。
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, s.classify(err)
	}
	return claims, nil
}

// keyFunc はトークンヘッダから検証鍵を解決する。
func (s *Signer) keyFunc(tok *jwt.Token) (interface{}, error) {
	if s.method == jwt.SigningMethodHS256 {
		return s.secret, nil
	}

	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return nil, domain.ErrUnknownKeyID
	}
	publicKey, ok := s.cache.PublicKeyFor(kid)
	if !ok {
		// トークン本体はログに残さない
		slog.Warn("token verification with unknown kid",
			"operation", "token_verify",
			"kid", kid,
		)
		return nil, domain.ErrUnknownKeyID
	}
	return publicKey, nil
}

// classify はjwtライブラリのエラーをドメインエラーに対応付ける。
func (s *Signer) classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnknownKeyID):
		return domain.ErrUnknownKeyID
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return domain.ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.ErrInvalidSignature
	default:
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
}
