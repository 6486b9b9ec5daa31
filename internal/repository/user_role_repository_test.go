package repository

import (
	"context"
	"testing"
)

func TestUserRoleRepository_FindRolesByUserID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewUserRoleRepository(db)

	// テストデータを挿入
	for _, role := range []string{"developer", "admin"} {
		if err := db.Exec("INSERT INTO user_roles (user_id, role) VALUES (?, ?)", "user-1", role).Error; err != nil {
			t.Fatalf("failed to insert test data: %v", err)
		}
	}

	// ロールが存在する場合（role昇順）
	roles, err := repo.FindRolesByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("FindRolesByUserID failed: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if roles[0] != "admin" || roles[1] != "developer" {
		t.Errorf("unexpected order: %v", roles)
	}

	// ロール未登録のユーザーは空リスト（エラーではない）
	roles, err = repo.FindRolesByUserID(ctx, "user-2")
	if err != nil {
		t.Fatalf("FindRolesByUserID failed: %v", err)
	}
	if len(roles) != 0 {
		t.Errorf("expected empty slice, got %v", roles)
	}
}
