package infra

import (
	"context"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

// DisabledCrypto は暗号サービスが利用できない環境向けのCryptoClient実装。
// HS256フォールバックモードで鍵管理系の操作が誤って走った場合に、
// 平文の鍵材料を永続化する代わりに明確なエラーで拒否する。
type DisabledCrypto struct{}

// Encrypt は常にErrCryptoUnavailableを返す。
func (DisabledCrypto) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return nil, domain.ErrCryptoUnavailable
}

// Decrypt は常にErrCryptoUnavailableを返す。
func (DisabledCrypto) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return nil, domain.ErrCryptoUnavailable
}
