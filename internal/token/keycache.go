// Package token はアクセストークンの署名・検証と署名鍵のインメモリキャッシュを提供する。
package token

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

// KeySource は検証可能な鍵の読み出しインターフェース。
type KeySource interface {
	FindValidForVerification(ctx context.Context, usePurpose string) ([]*domain.SigningKey, error)
}

// KeyDecrypter は暗号化済み秘密鍵の復号インターフェース。
type KeyDecrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// CachedKey は復号済みの署名鍵1本ぶんのインメモリ表現。
type CachedKey struct {
	Metadata   *domain.SigningKeyMetadata
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// JWK は公開鍵のJWK表現（RFC 7517、RSA公開鍵のみ）。
type JWK struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet は外部検証者向けの公開鍵セット。
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// keySet はキャッシュの1世代ぶんのスナップショット。
// 再読込のたびに丸ごと作り直して原子的に差し替えるため、
// 読み手が新旧の混ざった状態を観測することはない。
type keySet struct {
	current *CachedKey
	byKID   map[string]*CachedKey
	jwks    JWKSet
}

// KeyCache は検証可能な署名鍵のインメモリキャッシュ。
// ストアが真実の源であり、キャッシュは再読込で全置換されるレプリカに徹する。
type KeyCache struct {
	source     KeySource
	decrypter  KeyDecrypter
	usePurpose string
	set        atomic.Pointer[keySet]
}

// NewKeyCache は新しいKeyCacheを生成する。Reloadを呼ぶまでは空である。
func NewKeyCache(source KeySource, decrypter KeyDecrypter, usePurpose string) *KeyCache {
	c := &KeyCache{
		source:     source,
		decrypter:  decrypter,
		usePurpose: usePurpose,
	}
	c.set.Store(&keySet{byKID: map[string]*CachedKey{}})
	return c
}

// Reload はストアからcurrent/validの全鍵を読み直し、秘密鍵を復号して
// キャッシュを原子的に差し替える。復号はローテーション・コールドスタート経路
// でのみ発生し、署名・検証のリクエスト経路では復号済みの鍵を使う。
func (c *KeyCache) Reload(ctx context.Context) error {
	keys, err := c.source.FindValidForVerification(ctx, c.usePurpose)
	if err != nil {
		return fmt.Errorf("loading verifiable keys: %w", err)
	}

	next := &keySet{byKID: make(map[string]*CachedKey, len(keys))}
	for _, key := range keys {
		cached, err := c.decryptKey(ctx, key)
		if err != nil {
			// 1本の鍵の復号失敗で他の鍵の読込を止めない
			slog.ErrorContext(ctx, "failed to load signing key into cache",
				"operation", "key_cache_reload",
				"key_id", key.KeyID,
				"error", err,
			)
			continue
		}
		next.byKID[key.KeyID] = cached
		if key.Status == domain.KeyStatusCurrent {
			next.current = cached
		}
		next.jwks.Keys = append(next.jwks.Keys, publicJWK(key.KeyID, cached.PublicKey))
	}

	c.set.Store(next)
	slog.InfoContext(ctx, "key cache reloaded",
		"operation", "key_cache_reload",
		"key_count", len(next.byKID),
		"has_current", next.current != nil,
	)
	return nil
}

// decryptKey は永続化された鍵1本をインメモリ表現に変換する。
func (c *KeyCache) decryptKey(ctx context.Context, key *domain.SigningKey) (*CachedKey, error) {
	publicKey, err := parsePublicKeyPEM(key.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	der, err := c.decrypter.Decrypt(ctx, key.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 private key: %w", err)
	}
	privateKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", parsed)
	}

	return &CachedKey{
		Metadata:   key.Metadata(),
		PrivateKey: privateKey,
		PublicKey:  publicKey,
	}, nil
}

// CurrentSigningKey は新規署名に使用する現用鍵を返す。
func (c *KeyCache) CurrentSigningKey() (*CachedKey, error) {
	set := c.set.Load()
	if set.current == nil {
		return nil, domain.ErrKeyNotFound
	}
	return set.current, nil
}

// PublicKeyFor はkidに対応する検証用公開鍵を返す。
// 退役済み（valid）の鍵も猶予期間中はここで解決できる。
func (c *KeyCache) PublicKeyFor(kid string) (*rsa.PublicKey, bool) {
	set := c.set.Load()
	key, ok := set.byKID[kid]
	if !ok {
		return nil, false
	}
	return key.PublicKey, true
}

// JWKS は公開鍵のみのJWKセットを返す。
func (c *KeyCache) JWKS() JWKSet {
	return c.set.Load().jwks
}

func parsePublicKeyPEM(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	publicKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", parsed)
	}
	return publicKey, nil
}

func publicJWK(kid string, key *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Alg: domain.AlgorithmRS256,
		Use: "sig",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
