package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
	"github.com/vemikrs/mirelplatform-sub001/internal/session"
)

// ユーザーコードの文字集合。視認で紛らわしい文字（0/O、1/I/L）を除外している。
const userCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	userCodeLength = 8
	// ユーザーコード衝突時の再生成上限。無制限の再帰はさせない。
	maxUserCodeAttempts = 5
)

// TokenIssuer はデバイストークン発行のインターフェース。
type TokenIssuer interface {
	IssueDeviceToken(userID string, roles []string, scope, clientID string) (string, time.Duration, error)
}

// RoleDirectory はユーザーのロール参照のインターフェース（外部ユーザーディレクトリ）。
type RoleDirectory interface {
	FindRolesByUserID(ctx context.Context, userID string) ([]string, error)
}

// UserCodeInfo はユーザーコード照会（閲覧専用）の結果。
type UserCodeInfo struct {
	Valid    bool
	ClientID string
	Scope    string
}

// DeviceAuthService はOAuth 2.0デバイス認可グラント（RFC 8628）の
// プロトコル状態機械を調停する。セッションの状態は
// pending →（authorized | denied）の一方向で、終端状態からの復帰はない。
type DeviceAuthService struct {
	store               session.Store
	signer              TokenIssuer
	directory           RoleDirectory
	sessionTTL          time.Duration
	pollInterval        time.Duration
	verificationURIBase string
	now                 func() time.Time
}

// NewDeviceAuthService は新しいDeviceAuthServiceを生成する。
func NewDeviceAuthService(store session.Store, signer TokenIssuer, directory RoleDirectory, sessionTTL, pollInterval time.Duration, verificationURIBase string) *DeviceAuthService {
	return &DeviceAuthService{
		store:               store,
		signer:              signer,
		directory:           directory,
		sessionTTL:          sessionTTL,
		pollInterval:        pollInterval,
		verificationURIBase: verificationURIBase,
		now:                 time.Now,
	}
}

// generateUserCode は XXXX-XXXX 形式のユーザーコードを生成する。
func generateUserCode() (string, error) {
	chars := make([]byte, userCodeLength)
	max := big.NewInt(int64(len(userCodeAlphabet)))
	for i := range chars {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating user code: %w", err)
		}
		chars[i] = userCodeAlphabet[n.Int64()]
	}
	half := userCodeLength / 2
	return string(chars[:half]) + "-" + string(chars[half:]), nil
}

// CreateDeviceCode は新しいデバイス認可セッションを開始する。
// ユーザーコードの一意性は使用中セッションに対してのみ検査する
// （期限切れで退役したコードは再利用されうる）。
func (s *DeviceAuthService) CreateDeviceCode(ctx context.Context, clientID, scope string) (*domain.DeviceCodeGrant, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, domain.ErrClientIDRequired
	}

	now := s.now()
	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		userCode, err := generateUserCode()
		if err != nil {
			return nil, err
		}

		sess := domain.DeviceAuthSession{
			DeviceCode: uuid.New().String(),
			UserCode:   userCode,
			ClientID:   clientID,
			Scope:      scope,
			Status:     domain.DeviceAuthStatusPending,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.sessionTTL),
		}
		if err := s.store.Insert(sess); err != nil {
			continue
		}

		slog.InfoContext(ctx, "device authorization started",
			"operation", "create_device_code",
			"client_id", clientID,
			"user_code", userCode,
		)
		return &domain.DeviceCodeGrant{
			DeviceCode:      sess.DeviceCode,
			UserCode:        sess.UserCode,
			VerificationURI: s.verificationURIBase + "/cli/auth",
			ExpiresIn:       int64(s.sessionTTL.Seconds()),
			Interval:        int64(s.pollInterval.Seconds()),
		}, nil
	}
	return nil, domain.ErrCodeSpaceExhausted
}

// VerifyUserCode はユーザーコードの有効性を照会する（状態を変更しない）。
func (s *DeviceAuthService) VerifyUserCode(ctx context.Context, userCode string) *UserCodeInfo {
	sess, ok := s.store.FindByUserCode(userCode)
	if !ok || sess.Expired(s.now()) || sess.Resolved() {
		return &UserCodeInfo{Valid: false}
	}
	return &UserCodeInfo{
		Valid:    true,
		ClientID: sess.ClientID,
		Scope:    sess.Scope,
	}
}

// Authorize はユーザーコードに対応するセッションを承認する。
// pending以外・期限切れ・未知のコードに対しては失敗を返し、状態は変更しない。
// 同一コードへの競合するAuthorize/Denyは一方だけが勝つ。
func (s *DeviceAuthService) Authorize(ctx context.Context, userCode, userID, userName, userEmail string) error {
	now := s.now()
	err := s.store.Resolve(userCode, func(sess domain.DeviceAuthSession) (domain.DeviceAuthSession, error) {
		if sess.Expired(now) {
			return sess, domain.ErrSessionExpired
		}
		if sess.Resolved() {
			return sess, domain.ErrSessionResolved
		}
		sess.Status = domain.DeviceAuthStatusAuthorized
		sess.UserID = userID
		sess.UserName = userName
		sess.UserEmail = userEmail
		return sess, nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "device authorization approved",
		"operation", "authorize",
		"user_code", userCode,
		"user_id", userID,
	)
	return nil
}

// Deny はユーザーコードに対応するセッションを拒否する。
// 拒否がユーザー主導の明示的なキャンセル経路である。
func (s *DeviceAuthService) Deny(ctx context.Context, userCode string) error {
	now := s.now()
	err := s.store.Resolve(userCode, func(sess domain.DeviceAuthSession) (domain.DeviceAuthSession, error) {
		if sess.Expired(now) {
			return sess, domain.ErrSessionExpired
		}
		if sess.Resolved() {
			return sess, domain.ErrSessionResolved
		}
		sess.Status = domain.DeviceAuthStatusDenied
		return sess, nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "device authorization denied",
		"operation", "deny",
		"user_code", userCode,
	)
	return nil
}

// PollToken はデバイスコードに対するトークンポーリング1回ぶんを処理する。
// 判定順序: 未知コード→expired、client_id不一致→invalid_client、
// TTL超過→セッション削除のうえexpired、間隔違反→slow_down（状態は変更しない）、
// その後ステータスで分岐する。発行成功時はセッションを削除し、トークンは
// 単一発行となる（競合したポーラーの敗者はセッション不在を観測してexpiredを得る）。
func (s *DeviceAuthService) PollToken(ctx context.Context, deviceCode, clientID string) (*domain.PollResult, error) {
	now := s.now()

	sess, ok := s.store.FindByDeviceCode(deviceCode)
	if !ok {
		return &domain.PollResult{Status: domain.PollStatusExpired}, nil
	}
	// 不一致のクライアントへは「コードが未知」ではなく明確な失敗を返す。
	// トークンを渡さないことは当然として、デバッグ可能性のために区別する。
	if sess.ClientID != clientID {
		return &domain.PollResult{Status: domain.PollStatusInvalidClient}, nil
	}
	if sess.Expired(now) {
		s.store.Remove(deviceCode)
		return &domain.PollResult{Status: domain.PollStatusExpired}, nil
	}

	// レート制限の判定と更新は単一のクリティカルセクションで行う。
	prev, ok := s.store.TouchPoll(deviceCode, now)
	if !ok {
		return &domain.PollResult{Status: domain.PollStatusExpired}, nil
	}
	if prev.LastPolledAt != nil && now.Sub(*prev.LastPolledAt) < s.pollInterval {
		return &domain.PollResult{Status: domain.PollStatusSlowDown}, nil
	}

	switch prev.Status {
	case domain.DeviceAuthStatusPending:
		return &domain.PollResult{Status: domain.PollStatusPending}, nil

	case domain.DeviceAuthStatusDenied:
		s.store.Remove(deviceCode)
		return &domain.PollResult{Status: domain.PollStatusDenied}, nil

	case domain.DeviceAuthStatusAuthorized:
		// Takeの勝者だけが発行に進む。2回目のポーリングはexpiredを観測する。
		taken, ok := s.store.Take(deviceCode)
		if !ok {
			return &domain.PollResult{Status: domain.PollStatusExpired}, nil
		}
		return s.issueToken(ctx, &taken)

	default:
		return &domain.PollResult{Status: domain.PollStatusExpired}, nil
	}
}

// issueToken は承認済みセッションからデバイストークンを発行する。
// ロール参照や署名の失敗はプロトコル結果ではなく再試行可能なエラーとして
// 呼び出し側へ伝播する（偽のexpired/deniedに潰さない）。
func (s *DeviceAuthService) issueToken(ctx context.Context, sess *domain.DeviceAuthSession) (*domain.PollResult, error) {
	roles, err := s.directory.FindRolesByUserID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading roles for user %s: %w", sess.UserID, err)
	}

	accessToken, ttl, err := s.signer.IssueDeviceToken(sess.UserID, roles, sess.Scope, sess.ClientID)
	if err != nil {
		return nil, fmt.Errorf("signing device token: %w", err)
	}

	slog.InfoContext(ctx, "device token issued",
		"operation", "poll_token",
		"client_id", sess.ClientID,
		"user_id", sess.UserID,
	)
	return &domain.PollResult{
		Status:      domain.PollStatusIssued,
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		UserName:    sess.UserName,
		UserEmail:   sess.UserEmail,
	}, nil
}
