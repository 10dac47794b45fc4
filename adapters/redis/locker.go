package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Locker 以 Redis 分散式鎖序列化跨節點的出價與狀態轉換。
// 鍵格式為 "<prefix>lock:<key>"。
type Locker struct {
	rs      *redsync.Redsync
	prefix  string
	logger  *slog.Logger
	options autoRenewMutexOptions
}

// NewLocker 建立一個分散式鎖工廠
func NewLocker(client *redis.Client, prefix string, logger *slog.Logger, opts ...AutoRenewMutexOption) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		rs:      redsync.New(goredis.NewPool(client)),
		prefix:  prefix,
		logger:  logger.With(slog.String("caller", "RedisLocker")),
		options: newAutoRenewMutexOptions(opts),
	}, nil
}

// Lock 取得指定鍵的鎖，回傳的函式用於釋放
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("%slock:%s", l.prefix, key)
	mutex := newAutoRenewMutex(l.rs, lockKey, l.options)
	if _, err := mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("[Locker.Lock] Fail to acquire lock %s, err=%w", lockKey, err)
	}
	return func() {
		if ok, err := mutex.Unlock(); err != nil || !ok {
			l.logger.Warn("fail to release lock",
				slog.String("key", lockKey),
				slog.Bool("released", ok),
				slog.Any("error", err))
		}
	}, nil
}
