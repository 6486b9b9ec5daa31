package domain

import "time"

// DeviceAuthStatus はデバイス認可セッションのステータスを表す。
type DeviceAuthStatus string

const (
	// DeviceAuthStatusPending はユーザーによる承認待ちの状態を表す。
	DeviceAuthStatusPending DeviceAuthStatus = "pending"
	// DeviceAuthStatusAuthorized はユーザーが承認した状態を表す。
	DeviceAuthStatusAuthorized DeviceAuthStatus = "authorized"
	// DeviceAuthStatusDenied はユーザーが拒否した状態を表す。
	DeviceAuthStatusDenied DeviceAuthStatus = "denied"
)

// DeviceAuthSession はOAuth 2.0デバイス認可グラント（RFC 8628）の
// 1フローぶんの状態を表す。メモリ上にのみ存在し永続化されない。
// 値として扱い、状態遷移はストアのクリティカルセクション内で
// 新しい値を発行することで行う。
type DeviceAuthSession struct {
	DeviceCode   string
	UserCode     string
	ClientID     string
	Scope        string
	Status       DeviceAuthStatus
	UserID       string
	UserName     string
	UserEmail    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastPolledAt *time.Time
}

// Expired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *DeviceAuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Resolved はセッションが終端状態（authorized / denied）に達したかどうかを返す。
func (s *DeviceAuthSession) Resolved() bool {
	return s.Status != DeviceAuthStatusPending
}
