package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
	"github.com/vemikrs/mirelplatform-sub001/internal/session"
)

// mockTokenIssuer はテスト用のモックトークン発行器。
type mockTokenIssuer struct {
	mu       sync.Mutex
	issued   int
	issueErr error
}

func (m *mockTokenIssuer) IssueDeviceToken(userID string, roles []string, scope, clientID string) (string, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.issueErr != nil {
		return "", 0, m.issueErr
	}
	m.issued++
	return "token-for-" + userID, 24 * time.Hour, nil
}

func (m *mockTokenIssuer) issuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issued
}

// mockRoleDirectory はテスト用のモックロールディレクトリ。
type mockRoleDirectory struct {
	roles   []string
	findErr error
}

func (m *mockRoleDirectory) FindRolesByUserID(ctx context.Context, userID string) ([]string, error) {
	return m.roles, m.findErr
}

func newTestService(issuer *mockTokenIssuer, pollInterval time.Duration) (*DeviceAuthService, *session.MemoryStore) {
	store := session.NewMemoryStore()
	svc := NewDeviceAuthService(store, issuer, &mockRoleDirectory{roles: []string{"developer"}}, 15*time.Minute, pollInterval, "https://auth.example.com")
	return svc, store
}

func TestGenerateUserCode_Format(t *testing.T) {
	for i := 0; i < 10000; i++ {
		code, err := generateUserCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != 9 || code[4] != '-' {
			t.Fatalf("want XXXX-XXXX format, got %q", code)
		}
		for _, c := range strings.ReplaceAll(code, "-", "") {
			if strings.ContainsRune("0O1IL", c) {
				t.Fatalf("code %q contains confusable character %q", code, c)
			}
			if !strings.ContainsRune(userCodeAlphabet, c) {
				t.Fatalf("code %q contains character %q outside the alphabet", code, c)
			}
		}
	}
}

func TestDeviceAuthService_CreateDeviceCode(t *testing.T) {
	svc, _ := newTestService(&mockTokenIssuer{}, 5*time.Second)

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "openid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.DeviceCode == "" {
		t.Error("device code must not be empty")
	}
	if grant.VerificationURI != "https://auth.example.com/cli/auth" {
		t.Errorf("unexpected verification URI: %s", grant.VerificationURI)
	}
	if grant.ExpiresIn != 900 {
		t.Errorf("want expires_in 900, got %d", grant.ExpiresIn)
	}
	if grant.Interval != 5 {
		t.Errorf("want interval 5, got %d", grant.Interval)
	}
}

func TestDeviceAuthService_CreateDeviceCode_BlankClientID(t *testing.T) {
	svc, _ := newTestService(&mockTokenIssuer{}, 5*time.Second)

	for _, clientID := range []string{"", "   "} {
		if _, err := svc.CreateDeviceCode(context.Background(), clientID, ""); !errors.Is(err, domain.ErrClientIDRequired) {
			t.Errorf("clientID %q: want ErrClientIDRequired, got %v", clientID, err)
		}
	}
}

func TestDeviceAuthService_CreateDeviceCode_UniqueUserCodes(t *testing.T) {
	svc, _ := newTestService(&mockTokenIssuer{}, 5*time.Second)

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
		if err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
		if seen[grant.UserCode] {
			t.Fatalf("duplicate user code issued to live sessions: %s", grant.UserCode)
		}
		seen[grant.UserCode] = true
	}
}

func TestDeviceAuthService_HappyPath(t *testing.T) {
	svc, _ := newTestService(&mockTokenIssuer{}, 5*time.Second)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "openid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 承認前のポーリングは authorization_pending
	result, err := svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.PollStatusPending {
		t.Fatalf("want pending, got %s", result.Status)
	}

	info := svc.VerifyUserCode(context.Background(), grant.UserCode)
	if !info.Valid || info.ClientID != "cli-client" || info.Scope != "openid" {
		t.Fatalf("unexpected user code info: %+v", info)
	}

	if err := svc.Authorize(context.Background(), grant.UserCode, "user-1", "Dev User", "dev@example.com"); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}

	clock = clock.Add(6 * time.Second)
	result, err = svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.PollStatusIssued {
		t.Fatalf("want issued, got %s", result.Status)
	}
	if result.AccessToken != "token-for-user-1" {
		t.Errorf("unexpected access token: %s", result.AccessToken)
	}
	if result.TokenType != "Bearer" {
		t.Errorf("want Bearer, got %s", result.TokenType)
	}
	if result.UserName != "Dev User" || result.UserEmail != "dev@example.com" {
		t.Errorf("user identity not carried: %+v", result)
	}

	// トークンは単一発行。再ポーリングはexpiredを観測する。
	clock = clock.Add(6 * time.Second)
	result, err = svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.PollStatusExpired {
		t.Fatalf("second poll after issuance: want expired, got %s", result.Status)
	}
}

func TestDeviceAuthService_Deny(t *testing.T) {
	svc, store := newTestService(&mockTokenIssuer{}, 0)

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Deny(context.Background(), grant.UserCode); err != nil {
		t.Fatalf("deny failed: %v", err)
	}

	result, err := svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.PollStatusDenied {
		t.Fatalf("want access_denied, got %s", result.Status)
	}

	// 拒否を伝えたあとはセッションが掃除され、以後はexpired
	if _, ok := store.FindByDeviceCode(grant.DeviceCode); ok {
		t.Error("denied session should be removed after delivery")
	}
	result, _ = svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if result.Status != domain.PollStatusExpired {
		t.Fatalf("want expired after denied delivery, got %s", result.Status)
	}
}

func TestDeviceAuthService_ClientIDMismatch(t *testing.T) {
	svc, store := newTestService(&mockTokenIssuer{}, 5*time.Second)

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := svc.PollToken(context.Background(), grant.DeviceCode, "other-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.PollStatusInvalidClient {
		t.Fatalf("want invalid_client, got %s", result.Status)
	}

	// 不一致のポーリングはセッションに一切触れない
	sess, ok := store.FindByDeviceCode(grant.DeviceCode)
	if !ok {
		t.Fatal("session must survive a mismatched poll")
	}
	if sess.Status != domain.DeviceAuthStatusPending || sess.LastPolledAt != nil {
		t.Errorf("session must be unaffected by a mismatched poll: %+v", sess)
	}
}

func TestDeviceAuthService_SlowDown(t *testing.T) {
	svc, _ := newTestService(&mockTokenIssuer{}, 5*time.Second)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, _ := svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if result.Status != domain.PollStatusPending {
		t.Fatalf("first poll: want pending, got %s", result.Status)
	}

	// 間隔未満の再ポーリングは slow_down
	clock = clock.Add(2 * time.Second)
	result, _ = svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if result.Status != domain.PollStatusSlowDown {
		t.Fatalf("want slow_down, got %s", result.Status)
	}

	// slow_down自体もlastPolledAtを更新する。さらに2秒では足りない。
	clock = clock.Add(4 * time.Second)
	result, _ = svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if result.Status != domain.PollStatusSlowDown {
		t.Fatalf("want slow_down after early retry, got %s", result.Status)
	}

	clock = clock.Add(6 * time.Second)
	result, _ = svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if result.Status != domain.PollStatusPending {
		t.Fatalf("want pending after waiting out interval, got %s", result.Status)
	}
}

func TestDeviceAuthService_SessionTTLExpiry(t *testing.T) {
	svc, store := newTestService(&mockTokenIssuer{}, 0)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock = clock.Add(16 * time.Minute)
	result, _ := svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if result.Status != domain.PollStatusExpired {
		t.Fatalf("want expired, got %s", result.Status)
	}
	if _, ok := store.FindByDeviceCode(grant.DeviceCode); ok {
		t.Error("TTL-expired session should be removed on observation")
	}

	// 期限切れコードの承認も失敗する
	clock = clock.Add(time.Minute)
	grant2, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock = clock.Add(16 * time.Minute)
	if err := svc.Authorize(context.Background(), grant2.UserCode, "user-1", "", ""); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("want ErrSessionExpired, got %v", err)
	}
}

func TestDeviceAuthService_AuthorizeUnknownCode(t *testing.T) {
	svc, _ := newTestService(&mockTokenIssuer{}, 0)

	if err := svc.Authorize(context.Background(), "ZZZZ-ZZZZ", "user-1", "", ""); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("want ErrSessionNotFound, got %v", err)
	}
}

func TestDeviceAuthService_ResolveIsOneShot(t *testing.T) {
	svc, _ := newTestService(&mockTokenIssuer{}, 0)

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Authorize(context.Background(), grant.UserCode, "user-1", "", ""); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	// 承認済みセッションへの拒否は一方向性により失敗する
	if err := svc.Deny(context.Background(), grant.UserCode); !errors.Is(err, domain.ErrSessionResolved) {
		t.Errorf("want ErrSessionResolved, got %v", err)
	}
	if err := svc.Authorize(context.Background(), grant.UserCode, "user-2", "", ""); !errors.Is(err, domain.ErrSessionResolved) {
		t.Errorf("repeat authorize: want ErrSessionResolved, got %v", err)
	}
}

func TestDeviceAuthService_ConcurrentPollSingleIssuance(t *testing.T) {
	issuer := &mockTokenIssuer{}
	svc, _ := newTestService(issuer, 0)

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Authorize(context.Background(), grant.UserCode, "user-1", "", ""); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}

	const pollers = 32
	results := make(chan *domain.PollResult, pollers)
	var wg sync.WaitGroup
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	var issued, expired int
	for result := range results {
		switch result.Status {
		case domain.PollStatusIssued:
			issued++
		case domain.PollStatusExpired:
			expired++
		default:
			t.Errorf("unexpected status %s", result.Status)
		}
	}
	if issued != 1 {
		t.Errorf("want exactly 1 issued result, got %d", issued)
	}
	if expired != pollers-1 {
		t.Errorf("want %d expired results, got %d", pollers-1, expired)
	}
	if issuer.issuedCount() != 1 {
		t.Errorf("signer invoked %d times, want 1", issuer.issuedCount())
	}
}

func TestDeviceAuthService_IssueFailureIsRetryable(t *testing.T) {
	issuer := &mockTokenIssuer{issueErr: errors.New("kms unreachable")}
	svc, _ := newTestService(issuer, 0)

	grant, err := svc.CreateDeviceCode(context.Background(), "cli-client", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Authorize(context.Background(), grant.UserCode, "user-1", "", ""); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}

	// 署名失敗は偽のプロトコル結果ではなくエラーとして返る
	result, err := svc.PollToken(context.Background(), grant.DeviceCode, "cli-client")
	if err == nil {
		t.Fatalf("want error, got result %+v", result)
	}
}
