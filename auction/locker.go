package auction

import (
	"context"
	"sync"
)

// Locker 提供以 key 為單位的互斥鎖。
// 出價時以品項為 key，狀態轉換時以拍賣為 key，不同 key 之間互不阻塞。
type Locker interface {
	// Lock 取得 key 的鎖，回傳釋放函式。ctx 取消時放棄等待並回傳錯誤。
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker 是單一行程內的 Locker，每個 key 各自持有一個 channel 作為鎖，
// 沒有人等待的 key 會被回收，避免 map 無限成長。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 建立一個新的 LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.release(key, lock)
		})
	}, nil
}

func (l *LocalLocker) release(key string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

// Size 回傳目前被持有或等待中的 key 數量
func (l *LocalLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// ChainLocker 依序取得多個 Locker 的鎖，並以相反順序釋放。
// 通常搭配 LocalLocker 與分散式鎖使用，先在行程內排隊，再競爭跨節點的鎖。
type ChainLocker []Locker

func (c ChainLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, locker := range c {
		unlock, err := locker.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}
