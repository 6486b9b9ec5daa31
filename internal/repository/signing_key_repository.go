// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

// SigningKeyModel はgorm用のモデル定義。
// 鍵は物理削除されず、status / retired_at 以外のカラムは更新されない。
type SigningKeyModel struct {
	KeyID               string     `gorm:"column:key_id;type:char(36);primaryKey"`
	Algorithm           string     `gorm:"type:varchar(16);not null"`
	UsePurpose          string     `gorm:"type:varchar(64);not null;index:idx_purpose_status"`
	PublicKeyPEM        string     `gorm:"column:public_key_pem;type:text;not null"`
	EncryptedPrivateKey []byte     `gorm:"type:blob;not null"`
	Status              string     `gorm:"type:varchar(16);not null;default:'current';index:idx_purpose_status"`
	ActivatedAt         time.Time  `gorm:"type:datetime(6);not null"`
	RetiredAt           *time.Time `gorm:"type:datetime(6)"`
	CreatedAt           time.Time  `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (SigningKeyModel) TableName() string {
	return "signing_keys"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *SigningKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.KeyID == "" {
		m.KeyID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *SigningKeyModel) toDomain() *domain.SigningKey {
	return &domain.SigningKey{
		KeyID:               m.KeyID,
		Algorithm:           m.Algorithm,
		UsePurpose:          m.UsePurpose,
		PublicKeyPEM:        m.PublicKeyPEM,
		EncryptedPrivateKey: m.EncryptedPrivateKey,
		Status:              domain.KeyStatus(m.Status),
		ActivatedAt:         m.ActivatedAt,
		RetiredAt:           m.RetiredAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// SigningKeyRepository は署名鍵のデータアクセスを提供する。
type SigningKeyRepository struct {
	db *gorm.DB
}

// NewSigningKeyRepository は新しいSigningKeyRepositoryを生成する。
func NewSigningKeyRepository(db *gorm.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

// FindCurrent は指定用途の現用鍵を取得する。存在しない場合はnilを返す。
func (r *SigningKeyRepository) FindCurrent(ctx context.Context, usePurpose string) (*domain.SigningKey, error) {
	var model SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("use_purpose = ? AND status = ?", usePurpose, string(domain.KeyStatusCurrent)).
		Order("activated_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find current signing key",
			"operation", "find_current",
			"use_purpose", usePurpose,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindValidForVerification は検証に使用可能な鍵（current + valid）を取得する。
// expired の鍵は監査用に残るだけで検証には含めない。
func (r *SigningKeyRepository) FindValidForVerification(ctx context.Context, usePurpose string) ([]*domain.SigningKey, error) {
	var models []SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("use_purpose = ? AND status IN ?", usePurpose,
			[]string{string(domain.KeyStatusCurrent), string(domain.KeyStatusValid)}).
		Order("activated_at DESC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find verifiable signing keys",
			"operation", "find_valid_for_verification",
			"use_purpose", usePurpose,
			"error", err,
		)
		return nil, err
	}

	keys := make([]*domain.SigningKey, len(models))
	for i, m := range models {
		keys[i] = m.toDomain()
	}
	return keys, nil
}

// FindAll は指定用途の全鍵を取得する（expired を含む、監査・一覧用）。
func (r *SigningKeyRepository) FindAll(ctx context.Context, usePurpose string) ([]*domain.SigningKey, error) {
	var models []SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("use_purpose = ?", usePurpose).
		Order("activated_at DESC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find all signing keys",
			"operation", "find_all",
			"use_purpose", usePurpose,
			"error", err,
		)
		return nil, err
	}

	keys := make([]*domain.SigningKey, len(models))
	for i, m := range models {
		keys[i] = m.toDomain()
	}
	return keys, nil
}

// Create は新しい署名鍵を保存する。
func (r *SigningKeyRepository) Create(ctx context.Context, key *domain.SigningKey) error {
	model := &SigningKeyModel{
		KeyID:               key.KeyID,
		Algorithm:           key.Algorithm,
		UsePurpose:          key.UsePurpose,
		PublicKeyPEM:        key.PublicKeyPEM,
		EncryptedPrivateKey: key.EncryptedPrivateKey,
		Status:              string(key.Status),
		ActivatedAt:         key.ActivatedAt,
		RetiredAt:           key.RetiredAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create signing key",
			"operation", "create",
			"use_purpose", key.UsePurpose,
			"error", err,
		)
		return err
	}
	// gormで設定された値をドメインエンティティに反映
	key.KeyID = model.KeyID
	key.CreatedAt = model.CreatedAt
	key.UpdatedAt = model.UpdatedAt
	return nil
}

// Retire は鍵を退役させる（current→valid、retired_atを刻印）。
// 1行の原子的更新であり、「currentは高々1つ」の不変条件は
// 呼び出し側の逐次的なローテーション手順（retireしてからpromote）で維持する。
func (r *SigningKeyRepository) Retire(ctx context.Context, keyID string, now time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("key_id = ?", keyID).
		Updates(map[string]interface{}{
			"status":     string(domain.KeyStatusValid),
			"retired_at": now,
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to retire signing key",
			"operation", "retire",
			"key_id", keyID,
			"error", err,
		)
		return err
	}
	return nil
}

// Expire は鍵を失効させる（valid→expired）。
func (r *SigningKeyRepository) Expire(ctx context.Context, keyID string) error {
	err := r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("key_id = ?", keyID).
		Update("status", string(domain.KeyStatusExpired)).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to expire signing key",
			"operation", "expire",
			"key_id", keyID,
			"error", err,
		)
		return err
	}
	return nil
}
