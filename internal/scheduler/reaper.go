package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredRemover は期限切れセッションの一掃インターフェース。
type ExpiredRemover interface {
	RemoveExpired(now time.Time) int
}

// SessionReaper は期限切れデバイス認可セッションの周期的な一掃を行う。
// 放置されたpendingセッションと、完了までポーリングされなかった終端
// セッションによるメモリ増加を抑えるための掃除役。
type SessionReaper struct {
	store    ExpiredRemover
	interval time.Duration
}

// NewSessionReaper は新しいSessionReaperを生成する。
func NewSessionReaper(store ExpiredRemover, interval time.Duration) *SessionReaper {
	return &SessionReaper{store: store, interval: interval}
}

// Run はctxがキャンセルされるまで周期的に一掃を実行する。
func (r *SessionReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := r.store.RemoveExpired(now); removed > 0 {
				slog.InfoContext(ctx, "reaped expired device auth sessions",
					"operation", "session_reaper",
					"removed", removed,
				)
			}
		}
	}
}
