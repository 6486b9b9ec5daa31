package session

import (
	"sync"
	"time"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

// MemoryStore はStoreのインメモリ実装。
// デバイスコードを主キーとするマップと、ユーザーコードからデバイスコードへの
// 二次インデックスを単一のミューテックスで保護する。両インデックスの更新は
// 常に同じクリティカルセクション内で行い、片方だけが見える状態を作らない。
type MemoryStore struct {
	mu       sync.Mutex
	byDevice map[string]domain.DeviceAuthSession
	byUser   map[string]string // user code → device code
}

// NewMemoryStore は新しいMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byDevice: make(map[string]domain.DeviceAuthSession),
		byUser:   make(map[string]string),
	}
}

// Insert はセッションを登録する。
func (s *MemoryStore) Insert(sess domain.DeviceAuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUser[sess.UserCode]; taken {
		return ErrUserCodeTaken
	}
	if _, taken := s.byDevice[sess.DeviceCode]; taken {
		return ErrUserCodeTaken
	}
	s.byDevice[sess.DeviceCode] = sess
	s.byUser[sess.UserCode] = sess.DeviceCode
	return nil
}

// FindByDeviceCode はデバイスコードでセッションを参照する。
func (s *MemoryStore) FindByDeviceCode(deviceCode string) (domain.DeviceAuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byDevice[deviceCode]
	return sess, ok
}

// FindByUserCode はユーザーコードでセッションを参照する。
func (s *MemoryStore) FindByUserCode(userCode string) (domain.DeviceAuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.byUser[userCode]
	if !ok {
		return domain.DeviceAuthSession{}, false
	}
	sess, ok := s.byDevice[deviceCode]
	return sess, ok
}

// Resolve はユーザーコードに対応するセッションへmutateを適用する。
func (s *MemoryStore) Resolve(userCode string, mutate func(domain.DeviceAuthSession) (domain.DeviceAuthSession, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.byUser[userCode]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess, ok := s.byDevice[deviceCode]
	if !ok {
		return domain.ErrSessionNotFound
	}

	next, err := mutate(sess)
	if err != nil {
		return err
	}
	s.byDevice[deviceCode] = next
	return nil
}

// TouchPoll はLastPolledAtを更新し、更新前の値を返す。
func (s *MemoryStore) TouchPoll(deviceCode string, now time.Time) (domain.DeviceAuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byDevice[deviceCode]
	if !ok {
		return domain.DeviceAuthSession{}, false
	}
	next := sess
	polled := now
	next.LastPolledAt = &polled
	s.byDevice[deviceCode] = next
	return sess, true
}

// Take はセッションを原子的に取り除いて返す。
func (s *MemoryStore) Take(deviceCode string) (domain.DeviceAuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byDevice[deviceCode]
	if !ok {
		return domain.DeviceAuthSession{}, false
	}
	delete(s.byUser, sess.UserCode)
	delete(s.byDevice, deviceCode)
	return sess, true
}

// Remove はセッションを取り除く。
func (s *MemoryStore) Remove(deviceCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byDevice[deviceCode]
	if !ok {
		return
	}
	delete(s.byUser, sess.UserCode)
	delete(s.byDevice, deviceCode)
}

// RemoveExpired は期限切れセッションを一掃する。
func (s *MemoryStore) RemoveExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for deviceCode, sess := range s.byDevice {
		if sess.Expired(now) {
			delete(s.byUser, sess.UserCode)
			delete(s.byDevice, deviceCode)
			removed++
		}
	}
	return removed
}
