// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"time"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

// RSA鍵のモジュラスサイズ。2048ビット未満の鍵は生成しない。
const rsaKeyBits = 2048

// SigningKeyRepository は署名鍵のデータアクセスのインターフェース。
type SigningKeyRepository interface {
	FindCurrent(ctx context.Context, usePurpose string) (*domain.SigningKey, error)
	FindValidForVerification(ctx context.Context, usePurpose string) ([]*domain.SigningKey, error)
	FindAll(ctx context.Context, usePurpose string) ([]*domain.SigningKey, error)
	Create(ctx context.Context, key *domain.SigningKey) error
	Retire(ctx context.Context, keyID string, now time.Time) error
	Expire(ctx context.Context, keyID string) error
}

// CryptoClient は秘密鍵材料の暗号化/復号のインターフェース。
type CryptoClient interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KeyCacheReloader は鍵キャッシュの再読込インターフェース。
type KeyCacheReloader interface {
	Reload(ctx context.Context) error
}

// KeyService は署名鍵のライフサイクル管理を提供する。
// 状態遷移は current --(活性期間超過)--> valid --(退役からの猶予期間超過)--> expired。
// 猶予期間はすべてのトークンTTLの最大値以上でなければならない。さもなくば
// 正当に発行されたトークンが鍵の失効により検証不能になる。
type KeyService struct {
	repo           SigningKeyRepository
	crypto         CryptoClient
	cache          KeyCacheReloader
	rotationPeriod time.Duration
	gracePeriod    time.Duration
}

// NewKeyService は新しいKeyServiceを生成する。
func NewKeyService(repo SigningKeyRepository, crypto CryptoClient, cache KeyCacheReloader, rotationPeriod, gracePeriod time.Duration) *KeyService {
	return &KeyService{
		repo:           repo,
		crypto:         crypto,
		cache:          cache,
		rotationPeriod: rotationPeriod,
		gracePeriod:    gracePeriod,
	}
}

// generateKey はRSA鍵ペアを生成し、秘密鍵を暗号化した状態の署名鍵を返す。
// 平文の秘密鍵材料がこの関数の外に出ることはない。
func (s *KeyService) generateKey(ctx context.Context, now time.Time) (*domain.SigningKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key pair: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	privateDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	encrypted, err := s.crypto.Encrypt(ctx, privateDER)
	if err != nil {
		return nil, fmt.Errorf("encrypting private key: %w", err)
	}

	return &domain.SigningKey{
		Algorithm:           domain.AlgorithmRS256,
		UsePurpose:          domain.UsePurposeAccessTokenSign,
		PublicKeyPEM:        string(publicPEM),
		EncryptedPrivateKey: encrypted,
		Status:              domain.KeyStatusCurrent,
		ActivatedAt:         now,
	}, nil
}

// EnsureCurrentKey はコールドスタート時に現用鍵の存在を保証する。
// 鍵が1本も無ければ生成してキャッシュを再読込する。
func (s *KeyService) EnsureCurrentKey(ctx context.Context, now time.Time) error {
	current, err := s.repo.FindCurrent(ctx, domain.UsePurposeAccessTokenSign)
	if err != nil {
		return fmt.Errorf("finding current key: %w", err)
	}
	if current == nil {
		key, err := s.generateKey(ctx, now)
		if err != nil {
			return err
		}
		if err := s.repo.Create(ctx, key); err != nil {
			return fmt.Errorf("creating initial key: %w", err)
		}
		slog.InfoContext(ctx, "generated initial signing key",
			"operation", "ensure_current_key",
			"key_id", key.KeyID,
		)
	}
	if err := s.cache.Reload(ctx); err != nil {
		return fmt.Errorf("reloading key cache: %w", err)
	}
	return nil
}

// Rotate はローテーション1回ぶんを実行する。
//  1. 現用鍵が無ければ即座に生成する（コールドスタート）。
//  2. 現用鍵の活性期間がローテーション期間を超えていれば退役させ、新しい現用鍵を生成する。
//  3. 退役からの経過が猶予期間を超えたvalid鍵をexpiredへ遷移させる。
//  4. 最後に鍵キャッシュを再読込し、新しい状態を署名・検証側へ即時反映する。
//
// ローテーションは逐次的（retireしてからpromote）に行い、
// 「currentは高々1つ」の不変条件を維持する。
func (s *KeyService) Rotate(ctx context.Context, now time.Time) error {
	return s.rotate(ctx, now, false)
}

// ForceRotate は鍵の活性期間に関わらず即時ローテーションを実行する。
// 鍵の危殆化が疑われる場合のインシデント対応用。
func (s *KeyService) ForceRotate(ctx context.Context, now time.Time) error {
	return s.rotate(ctx, now, true)
}

func (s *KeyService) rotate(ctx context.Context, now time.Time, force bool) error {
	current, err := s.repo.FindCurrent(ctx, domain.UsePurposeAccessTokenSign)
	if err != nil {
		return fmt.Errorf("finding current key: %w", err)
	}

	switch {
	case current == nil:
		if err := s.promoteNewKey(ctx, now); err != nil {
			return err
		}
	case force || now.Sub(current.ActivatedAt) > s.rotationPeriod:
		if err := s.repo.Retire(ctx, current.KeyID, now); err != nil {
			return fmt.Errorf("retiring key %s: %w", current.KeyID, err)
		}
		slog.InfoContext(ctx, "retired signing key",
			"operation", "rotate",
			"key_id", current.KeyID,
			"forced", force,
		)
		if err := s.promoteNewKey(ctx, now); err != nil {
			return err
		}
	}

	// 猶予期間を過ぎたvalid鍵の失効。1本の失敗で残りの処理を止めない。
	s.expireStaleKeys(ctx, now)

	if err := s.cache.Reload(ctx); err != nil {
		return fmt.Errorf("reloading key cache: %w", err)
	}
	return nil
}

func (s *KeyService) promoteNewKey(ctx context.Context, now time.Time) error {
	key, err := s.generateKey(ctx, now)
	if err != nil {
		return err
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return fmt.Errorf("creating new current key: %w", err)
	}
	slog.InfoContext(ctx, "promoted new signing key",
		"operation", "rotate",
		"key_id", key.KeyID,
	)
	return nil
}

func (s *KeyService) expireStaleKeys(ctx context.Context, now time.Time) {
	keys, err := s.repo.FindValidForVerification(ctx, domain.UsePurposeAccessTokenSign)
	if err != nil {
		slog.ErrorContext(ctx, "failed to scan keys for expiry",
			"operation", "rotate",
			"error", err,
		)
		return
	}
	threshold := now.Add(-s.gracePeriod)
	for _, key := range keys {
		if key.Status != domain.KeyStatusValid || key.RetiredAt == nil {
			continue
		}
		if key.RetiredAt.After(threshold) {
			continue
		}
		if err := s.repo.Expire(ctx, key.KeyID); err != nil {
			slog.ErrorContext(ctx, "failed to expire signing key",
				"operation", "rotate",
				"key_id", key.KeyID,
				"error", err,
			)
			continue
		}
		slog.InfoContext(ctx, "expired signing key",
			"operation", "rotate",
			"key_id", key.KeyID,
		)
	}
}

// ListKeys は全世代の鍵メタデータを取得する（監査・管理向け）。
func (s *KeyService) ListKeys(ctx context.Context) ([]*domain.SigningKeyMetadata, error) {
	keys, err := s.repo.FindAll(ctx, domain.UsePurposeAccessTokenSign)
	if err != nil {
		return nil, fmt.Errorf("finding keys: %w", err)
	}

	metadata := make([]*domain.SigningKeyMetadata, len(keys))
	for i, k := range keys {
		metadata[i] = k.Metadata()
	}
	return metadata, nil
}
