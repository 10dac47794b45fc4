package api

import "time"

type ServerConfig struct {
	// ID 用於區分多個服務實例的日誌
	ID        string
	Ledger    LedgerConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Scheduler SchedulerConfig
	Bids      BidsConfig
	SSE       SSEConfig
}

// LedgerConfig 決定帳本的儲存方式
//   - postgres: 使用 DB 設定連線到 PostgreSQL
//   - sqlite: 使用 SQLitePath 指定的檔案，適合本機開發
//   - memory: 保存在記憶體中，重啟後資料消失
type LedgerConfig struct {
	Driver      string
	SQLitePath  string
	AutoMigrate bool
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

// RedisConfig 為空的 Addr 表示單節點模式：事件在行程內分派，鎖只在行程內有效
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	StreamMaxLen int64

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Events string
}

type AuthConfig struct {
	// PublicKeyPEM 是用於驗證 EdDSA 簽章的公鑰
	PublicKeyPEM []byte
	// OIDC 設定 IssuerURL 時改用 issuer 的 JWKS 驗證，忽略 PublicKeyPEM
	OIDC OIDCConfig
}

type OIDCConfig struct {
	IssuerURL string
	Audience  string
	RoleClaim string
}

type SchedulerConfig struct {
	SweepInterval time.Duration
}

type BidsConfig struct {
	MaxAttempts int
	LockTimeout time.Duration
}

type SSEConfig struct {
	Heartbeat  time.Duration
	BufferSize int
}
