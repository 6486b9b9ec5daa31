package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// UserRoleModel はuser_rolesテーブルのモデル。
// ユーザーディレクトリ本体は別サブシステムの管轄であり、
// ここではトークンクレーム生成に必要なロール一覧のみを参照する。
type UserRoleModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"type:varchar(64);not null;index:idx_user_id"`
	Role      string    `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (UserRoleModel) TableName() string {
	return "user_roles"
}

// UserRoleRepository はユーザーのロール参照を提供する。
type UserRoleRepository struct {
	db *gorm.DB
}

// NewUserRoleRepository は新しいUserRoleRepositoryを生成する。
func NewUserRoleRepository(db *gorm.DB) *UserRoleRepository {
	return &UserRoleRepository{db: db}
}

// FindRolesByUserID は指定ユーザーのロール一覧を取得する。
// ロール未登録のユーザーは空のリストを返す（エラーではない）。
func (r *UserRoleRepository) FindRolesByUserID(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := r.db.WithContext(ctx).
		Model(&UserRoleModel{}).
		Where("user_id = ?", userID).
		Order("role ASC").
		Pluck("role", &roles).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find roles by user_id",
			"operation", "find_roles_by_user_id",
			"user_id", userID,
			"error", err,
		)
		return nil, err
	}
	return roles, nil
}
