// Package scheduler は周期ジョブの薄い起動アダプタを提供する。
// ジョブ本体は「現在時刻」を引数に取る通常の関数であり、周期起動の
// 配線だけをこのパッケージが担う（決定的なテストのための分離）。
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Rotator は鍵ローテーション1回ぶんの実行インターフェース。
type Rotator interface {
	Rotate(ctx context.Context, now time.Time) error
}

// RotationScheduler は署名鍵ローテーションの周期実行を行う。
type RotationScheduler struct {
	rotator  Rotator
	interval time.Duration
}

// NewRotationScheduler は新しいRotationSchedulerを生成する。
func NewRotationScheduler(rotator Rotator, interval time.Duration) *RotationScheduler {
	return &RotationScheduler{rotator: rotator, interval: interval}
}

// Run はctxがキャンセルされるまで周期的にローテーションを実行する。
// リクエスト処理とは独立したゴルーチンで動かすこと。
// 1回の実行が失敗しても次回の周期で再試行する。
func (s *RotationScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.rotator.Rotate(ctx, now); err != nil {
				slog.ErrorContext(ctx, "key rotation run failed",
					"operation", "rotation_scheduler",
					"error", err,
				)
			}
		}
	}
}
