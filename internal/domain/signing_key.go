// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// KeyStatus は署名鍵のライフサイクルステータスを表す。
type KeyStatus string

const (
	// KeyStatusCurrent は新規署名に使用される現用鍵を表す。
	KeyStatusCurrent KeyStatus = "current"
	// KeyStatusValid は退役済みだが検証には引き続き使用できる鍵を表す。
	KeyStatusValid KeyStatus = "valid"
	// KeyStatusExpired は監査用に保持されるだけで検証にも使用されない鍵を表す。
	KeyStatusExpired KeyStatus = "expired"
)

// 署名アルゴリズム識別子。
const (
	AlgorithmRS256 = "RS256"
	AlgorithmHS256 = "HS256"
)

// UsePurposeAccessTokenSign はアクセストークン署名用の鍵用途タグ。
const UsePurposeAccessTokenSign = "ACCESS_TOKEN_SIGN"

// SigningKey はトークン署名鍵エンティティを表す。
// 秘密鍵は外部暗号サービスで暗号化された状態でのみ保持され、
// 平文の秘密鍵材料をこのサブシステムが永続化することはない。
type SigningKey struct {
	KeyID               string
	Algorithm           string
	UsePurpose          string
	PublicKeyPEM        string
	EncryptedPrivateKey []byte
	Status              KeyStatus
	ActivatedAt         time.Time
	RetiredAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// VerifiableAt は指定時刻において検証に使用可能かどうかを返す。
// current と valid の鍵のみが検証に使用できる。
func (k *SigningKey) VerifiableAt(now time.Time) bool {
	switch k.Status {
	case KeyStatusCurrent:
		return true
	case KeyStatusValid:
		return true
	default:
		return false
	}
}

// SigningKeyMetadata は署名鍵のメタデータを表す（秘密鍵材料を含まない）。
type SigningKeyMetadata struct {
	KeyID       string
	Algorithm   string
	UsePurpose  string
	Status      KeyStatus
	ActivatedAt time.Time
	RetiredAt   *time.Time
	CreatedAt   time.Time
}

// Metadata は公開可能なメタデータ表現を返す。
func (k *SigningKey) Metadata() *SigningKeyMetadata {
	return &SigningKeyMetadata{
		KeyID:       k.KeyID,
		Algorithm:   k.Algorithm,
		UsePurpose:  k.UsePurpose,
		Status:      k.Status,
		ActivatedAt: k.ActivatedAt,
		RetiredAt:   k.RetiredAt,
		CreatedAt:   k.CreatedAt,
	}
}
