package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"rauction/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-id", "", "")
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.String("log-format", "text", "text or json")

	// ledger config
	pflag.String("ledger-driver", "postgres", "postgres, sqlite or memory")
	pflag.String("sqlite-path", "rauction.db", "")
	pflag.Bool("db-auto-migrate", false, "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "empty to run as a single node")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "rauction:", "")
	pflag.Int64("redis-stream-max-len", 10000, "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "auction-events", "")

	// auth config
	pflag.String("auth-public-key", "", "PEM encoded Ed25519 public key")
	pflag.String("auth-public-key-file", "", "")
	pflag.String("auth-oidc-issuer-url", "", "verify tokens with the issuer's JWKS instead of a public key")
	pflag.String("auth-oidc-audience", "", "")
	pflag.String("auth-oidc-role-claim", "role", "")

	// auction config
	pflag.Duration("scheduler-sweep-interval", 30*time.Second, "")
	pflag.Int("bid-max-attempts", 3, "")
	pflag.Duration("bid-lock-timeout", 5*time.Second, "")
	pflag.Duration("sse-heartbeat", 15*time.Second, "")
	pflag.Int("sse-buffer-size", 16, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("RAUCTION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL:     viper.GetString("server-url"),
		LogLevel:      viper.GetString("log-level"),
		LogFormat:     viper.GetString("log-format"),
		PublicKeyFile: viper.GetString("auth-public-key-file"),
		ServerConfig: api.ServerConfig{
			ID: viper.GetString("server-id"),
			Ledger: api.LedgerConfig{
				Driver:      viper.GetString("ledger-driver"),
				SQLitePath:  viper.GetString("sqlite-path"),
				AutoMigrate: viper.GetBool("db-auto-migrate"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:         viper.GetString("redis-addr"),
				Password:     viper.GetString("redis-password"),
				DB:           viper.GetInt("redis-db"),
				KeyPrefix:    viper.GetString("redis-key-prefix"),
				StreamMaxLen: viper.GetInt64("redis-stream-max-len"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
				},
			},
			Auth: api.AuthConfig{
				PublicKeyPEM: []byte(viper.GetString("auth-public-key")),
				OIDC: api.OIDCConfig{
					IssuerURL: viper.GetString("auth-oidc-issuer-url"),
					Audience:  viper.GetString("auth-oidc-audience"),
					RoleClaim: viper.GetString("auth-oidc-role-claim"),
				},
			},
			Scheduler: api.SchedulerConfig{
				SweepInterval: viper.GetDuration("scheduler-sweep-interval"),
			},
			Bids: api.BidsConfig{
				MaxAttempts: viper.GetInt("bid-max-attempts"),
				LockTimeout: viper.GetDuration("bid-lock-timeout"),
			},
			SSE: api.SSEConfig{
				Heartbeat:  viper.GetDuration("sse-heartbeat"),
				BufferSize: viper.GetInt("sse-buffer-size"),
			},
		},
	}
}

type Args struct {
	ServerURL     string
	LogLevel      string
	LogFormat     string
	PublicKeyFile string
	ServerConfig  api.ServerConfig
}

// LoadPublicKey 在只提供檔案路徑時讀取公鑰
func (args *Args) LoadPublicKey() error {
	if len(args.ServerConfig.Auth.PublicKeyPEM) > 0 || args.PublicKeyFile == "" {
		return nil
	}
	raw, err := os.ReadFile(args.PublicKeyFile)
	if err != nil {
		return fmt.Errorf("fail to read public key file, err=%w", err)
	}
	args.ServerConfig.Auth.PublicKeyPEM = raw
	return nil
}

func (args Args) Validate() error {
	var errs []error
	if args.ServerURL == "" {
		errs = append(errs, errors.New("server-url is required"))
	}
	if len(args.ServerConfig.Auth.PublicKeyPEM) == 0 && args.ServerConfig.Auth.OIDC.IssuerURL == "" {
		errs = append(errs, errors.New("auth-public-key, auth-public-key-file or auth-oidc-issuer-url is required"))
	}
	switch args.ServerConfig.Ledger.Driver {
	case "memory":
	case "sqlite":
		if args.ServerConfig.Ledger.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite-path is required"))
		}
	case "postgres":
		db := args.ServerConfig.DB
		if db.Host == "" || db.User == "" || db.Database == "" {
			errs = append(errs, errors.New("db-host, db-user and db-database are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger-driver %q", args.ServerConfig.Ledger.Driver))
	}
	if args.ServerConfig.Redis.Addr != "" && args.ServerConfig.Redis.StreamKeys.Events == "" {
		errs = append(errs, errors.New("redis-stream-key-for-events is required"))
	}
	return errors.Join(errs...)
}
