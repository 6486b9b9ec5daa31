// Package session はデバイス認可セッションのインメモリストアを提供する。
package session

import (
	"errors"
	"time"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
)

// ErrUserCodeTaken は生成したユーザーコードが使用中セッションと衝突した場合のエラー。
var ErrUserCodeTaken = errors.New("user code already in use")

// Store はデバイス認可セッションの保管インターフェース。
// セッションはこのストアが排他的に所有し、コーディネータはアクセサ経由でのみ
// 状態を変更する。実装を差し替えれば分散ストア化できるよう、状態機械の
// ロジックはこのインターフェースの外に置く。
//
// セッションは値として受け渡しされる。呼び出し側が受け取った値を書き換えても
// ストア内の状態には影響しない。
type Store interface {
	// Insert はセッションを登録する。ユーザーコードが使用中セッションと
	// 衝突する場合はErrUserCodeTakenを返す。
	Insert(sess domain.DeviceAuthSession) error

	// FindByDeviceCode はデバイスコードでセッションを参照する。
	FindByDeviceCode(deviceCode string) (domain.DeviceAuthSession, bool)

	// FindByUserCode はユーザーコードでセッションを参照する。
	FindByUserCode(userCode string) (domain.DeviceAuthSession, bool)

	// Resolve はユーザーコードに対応するセッションへ、クリティカルセクション内で
	// mutateを適用する。mutateがエラーを返した場合は状態を変更しない。
	// 同一セッションへ競合するauthorize/denyは相互排他され、一方だけが勝つ。
	Resolve(userCode string, mutate func(domain.DeviceAuthSession) (domain.DeviceAuthSession, error)) error

	// TouchPoll はLastPolledAtをnowに更新し、更新前のセッション値を返す。
	// レート制限の判定と更新を単一のクリティカルセクションで行うための操作。
	TouchPoll(deviceCode string, now time.Time) (domain.DeviceAuthSession, bool)

	// Take はセッションを原子的に取り除いて返す。トークンの単一発行は
	// この操作で勝者を決めることで保証される（敗者は不在を観測する）。
	Take(deviceCode string) (domain.DeviceAuthSession, bool)

	// Remove はセッションを取り除く。
	Remove(deviceCode string)

	// RemoveExpired は期限切れセッションをステータスに関わらず一掃し、
	// 削除した件数を返す。
	RemoveExpired(now time.Time) int
}
