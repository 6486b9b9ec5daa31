package domain

// PollStatus はトークンポーリングの結果種別を表す。
// プロトコル上の結果は頻出する正常系であり、エラーではなく値として扱う。
type PollStatus string

const (
	// PollStatusPending はユーザーの承認待ちを表す。
	PollStatusPending PollStatus = "authorization_pending"
	// PollStatusSlowDown はポーリング間隔の下限違反を表す（バックオフ指示）。
	PollStatusSlowDown PollStatus = "slow_down"
	// PollStatusInvalidClient はclient_idの不一致を表す。
	PollStatusInvalidClient PollStatus = "invalid_client"
	// PollStatusExpired はデバイスコードが無効または期限切れであることを表す。
	PollStatusExpired PollStatus = "expired_token"
	// PollStatusDenied はユーザーが承認を拒否したことを表す。
	PollStatusDenied PollStatus = "access_denied"
	// PollStatusIssued はトークン発行成功を表す。
	PollStatusIssued PollStatus = "issued"
)

// PollResult はトークンポーリング1回ぶんの結果を表す。
// StatusがPollStatusIssuedの場合のみトークン関連フィールドが設定される。
type PollResult struct {
	Status      PollStatus
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	UserName    string
	UserEmail   string
}

// DeviceCodeGrant はデバイスコード発行の結果を表す。
type DeviceCodeGrant struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresIn       int64
	Interval        int64
}
