package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

func newSession(deviceCode, userCode string, expiresAt time.Time) domain.DeviceAuthSession {
	return domain.DeviceAuthSession{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   "cli-client",
		Status:     domain.DeviceAuthStatusPending,
		CreatedAt:  expiresAt.Add(-15 * time.Minute),
		ExpiresAt:  expiresAt,
	}
}

func TestMemoryStore_InsertAndFind(t *testing.T) {
	store := NewMemoryStore()
	sess := newSession("dev-1", "AAAA-BBBB", time.Now().Add(15*time.Minute))

	if err := store.Insert(sess); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, ok := store.FindByDeviceCode("dev-1")
	if !ok || got.UserCode != "AAAA-BBBB" {
		t.Fatalf("FindByDeviceCode: got %+v, ok=%v", got, ok)
	}
	got, ok = store.FindByUserCode("AAAA-BBBB")
	if !ok || got.DeviceCode != "dev-1" {
		t.Fatalf("FindByUserCode: got %+v, ok=%v", got, ok)
	}
}

func TestMemoryStore_InsertDuplicateUserCode(t *testing.T) {
	store := NewMemoryStore()
	expiry := time.Now().Add(15 * time.Minute)

	if err := store.Insert(newSession("dev-1", "AAAA-BBBB", expiry)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.Insert(newSession("dev-2", "AAAA-BBBB", expiry)); !errors.Is(err, ErrUserCodeTaken) {
		t.Fatalf("want ErrUserCodeTaken, got %v", err)
	}

	// 失敗した挿入が片方のインデックスだけ汚していないこと
	if _, ok := store.FindByDeviceCode("dev-2"); ok {
		t.Error("rejected session must not be visible by device code")
	}
}

func TestMemoryStore_ResolveMutates(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Insert(newSession("dev-1", "AAAA-BBBB", time.Now().Add(15*time.Minute))); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err := store.Resolve("AAAA-BBBB", func(sess domain.DeviceAuthSession) (domain.DeviceAuthSession, error) {
		sess.Status = domain.DeviceAuthStatusAuthorized
		sess.UserID = "user-1"
		return sess, nil
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	got, _ := store.FindByDeviceCode("dev-1")
	if got.Status != domain.DeviceAuthStatusAuthorized || got.UserID != "user-1" {
		t.Errorf("mutation not applied: %+v", got)
	}
}

func TestMemoryStore_ResolveErrorLeavesSessionUntouched(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Insert(newSession("dev-1", "AAAA-BBBB", time.Now().Add(15*time.Minute))); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	wantErr := errors.New("rejected")
	err := store.Resolve("AAAA-BBBB", func(sess domain.DeviceAuthSession) (domain.DeviceAuthSession, error) {
		sess.Status = domain.DeviceAuthStatusAuthorized
		return sess, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("want mutate error, got %v", err)
	}

	got, _ := store.FindByDeviceCode("dev-1")
	if got.Status != domain.DeviceAuthStatusPending {
		t.Errorf("failed resolve must not mutate, got status %s", got.Status)
	}
}

func TestMemoryStore_ResolveUnknownCode(t *testing.T) {
	store := NewMemoryStore()
	err := store.Resolve("ZZZZ-ZZZZ", func(sess domain.DeviceAuthSession) (domain.DeviceAuthSession, error) {
		return sess, nil
	})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStore_TouchPollReturnsPrevious(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Insert(newSession("dev-1", "AAAA-BBBB", time.Now().Add(15*time.Minute))); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	first := time.Now()
	prev, ok := store.TouchPoll("dev-1", first)
	if !ok {
		t.Fatal("touch failed")
	}
	if prev.LastPolledAt != nil {
		t.Errorf("first touch must observe nil LastPolledAt, got %v", prev.LastPolledAt)
	}

	second := first.Add(time.Second)
	prev, ok = store.TouchPoll("dev-1", second)
	if !ok {
		t.Fatal("touch failed")
	}
	if prev.LastPolledAt == nil || !prev.LastPolledAt.Equal(first) {
		t.Errorf("second touch must observe first timestamp, got %v", prev.LastPolledAt)
	}
}

func TestMemoryStore_TakeIsExclusive(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Insert(newSession("dev-1", "AAAA-BBBB", time.Now().Add(15*time.Minute))); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	const takers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, takers)
	for i := 0; i < takers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := store.Take("dev-1"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("want exactly 1 winner, got %d", won)
	}
	if _, ok := store.FindByUserCode("AAAA-BBBB"); ok {
		t.Error("user code index must be cleared by Take")
	}
}

func TestMemoryStore_RemoveClearsBothIndexes(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Insert(newSession("dev-1", "AAAA-BBBB", time.Now().Add(15*time.Minute))); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	store.Remove("dev-1")

	if _, ok := store.FindByDeviceCode("dev-1"); ok {
		t.Error("device index not cleared")
	}
	if _, ok := store.FindByUserCode("AAAA-BBBB"); ok {
		t.Error("user code index not cleared")
	}
	// 消えたユーザーコードは再利用できる
	if err := store.Insert(newSession("dev-2", "AAAA-BBBB", time.Now().Add(15*time.Minute))); err != nil {
		t.Errorf("freed user code must be reusable: %v", err)
	}
}

func TestMemoryStore_RemoveExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		expiry := now.Add(-time.Minute)
		if i >= 3 {
			expiry = now.Add(time.Minute)
		}
		sess := newSession(fmt.Sprintf("dev-%d", i), fmt.Sprintf("CODE-%04d", i), expiry)
		if err := store.Insert(sess); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	removed := store.RemoveExpired(now)
	if removed != 3 {
		t.Errorf("want 3 removed, got %d", removed)
	}
	for i := 3; i < 5; i++ {
		if _, ok := store.FindByDeviceCode(fmt.Sprintf("dev-%d", i)); !ok {
			t.Errorf("live session dev-%d must survive the sweep", i)
		}
	}
}
