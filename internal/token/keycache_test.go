package token

import (
	"context"
	"testing"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

func TestKeyCache_EmptyBeforeReload(t *testing.T) {
	cache := NewKeyCache(&memKeySource{}, passthroughDecrypter{}, domain.UsePurposeAccessTokenSign)

	if _, err := cache.CurrentSigningKey(); err == nil {
		t.Error("empty cache must not yield a signing key")
	}
	if _, ok := cache.PublicKeyFor("anything"); ok {
		t.Error("empty cache must not resolve kids")
	}
	if got := len(cache.JWKS().Keys); got != 0 {
		t.Errorf("empty cache JWKS must be empty, got %d keys", got)
	}
}

func TestKeyCache_ReloadReplacesWholeSet(t *testing.T) {
	keyA := newTestKey(t, "kid-a", domain.KeyStatusCurrent)
	source := &memKeySource{keys: []*domain.SigningKey{keyA}}
	cache := newTestCache(t, source)

	if _, ok := cache.PublicKeyFor("kid-a"); !ok {
		t.Fatal("kid-a must resolve after reload")
	}
	current, err := cache.CurrentSigningKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current.Metadata.KeyID != "kid-a" {
		t.Errorf("want current kid-a, got %s", current.Metadata.KeyID)
	}

	// ストア側が入れ替わればキャッシュも丸ごと入れ替わる
	keyA.Status = domain.KeyStatusExpired
	source.keys = append(source.keys, newTestKey(t, "kid-b", domain.KeyStatusCurrent))
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if _, ok := cache.PublicKeyFor("kid-a"); ok {
		t.Error("expired key must not survive reload")
	}
	current, err = cache.CurrentSigningKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current.Metadata.KeyID != "kid-b" {
		t.Errorf("want current kid-b, got %s", current.Metadata.KeyID)
	}
}

func TestKeyCache_RetiredKeyStaysResolvable(t *testing.T) {
	retired := newTestKey(t, "kid-retired", domain.KeyStatusValid)
	source := &memKeySource{keys: []*domain.SigningKey{
		retired,
		newTestKey(t, "kid-current", domain.KeyStatusCurrent),
	}}
	cache := newTestCache(t, source)

	if _, ok := cache.PublicKeyFor("kid-retired"); !ok {
		t.Error("valid (retired) key must resolve for verification")
	}
	current, err := cache.CurrentSigningKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current.Metadata.KeyID != "kid-current" {
		t.Errorf("retired key must never be the signing key, got %s", current.Metadata.KeyID)
	}
}

func TestKeyCache_CorruptKeySkipped(t *testing.T) {
	good := newTestKey(t, "kid-good", domain.KeyStatusCurrent)
	corrupt := newTestKey(t, "kid-corrupt", domain.KeyStatusValid)
	corrupt.EncryptedPrivateKey = []byte("not a private key")
	source := &memKeySource{keys: []*domain.SigningKey{corrupt, good}}

	cache := NewKeyCache(source, passthroughDecrypter{}, domain.UsePurposeAccessTokenSign)
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload must not fail on a single corrupt key: %v", err)
	}

	if _, ok := cache.PublicKeyFor("kid-corrupt"); ok {
		t.Error("corrupt key must be skipped")
	}
	if _, ok := cache.PublicKeyFor("kid-good"); !ok {
		t.Error("healthy key must still load")
	}
}

func TestKeyCache_JWKSPublicOnly(t *testing.T) {
	source := &memKeySource{keys: []*domain.SigningKey{
		newTestKey(t, "kid-1", domain.KeyStatusCurrent),
		newTestKey(t, "kid-2", domain.KeyStatusValid),
	}}
	cache := newTestCache(t, source)

	jwks := cache.JWKS()
	if len(jwks.Keys) != 2 {
		t.Fatalf("want 2 JWKs, got %d", len(jwks.Keys))
	}
	for _, jwk := range jwks.Keys {
		if jwk.Kty != "RSA" || jwk.Use != "sig" || jwk.Alg != domain.AlgorithmRS256 {
			t.Errorf("unexpected JWK attributes: %+v", jwk)
		}
		if jwk.N == "" || jwk.E == "" {
			t.Errorf("JWK %s missing modulus or exponent", jwk.Kid)
		}
	}
}
