// Copyright 2025 Forge Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// Locker 分布式锁接口
type Locker interface {
	// TryLock attempts to acquire the lock once without blocking.
	TryLock(ctx context.Context) (bool, error)
	// Lock blocks until the lock is acquired or the wait budget is exhausted.
	Lock(ctx context.Context) error
	// Unlock releases the lock if it is still held by this instance.
	Unlock(ctx context.Context)
}

// ErrAcquireTimeout 在等待时间内未能取得锁
var ErrAcquireTimeout = errors.New("lock: acquire timeout")

// 只有持有者才能删除自己的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 Redis SETNX + TTL 的互斥锁
type RedisLock struct {
	client       redis.UniversalClient
	key          string
	value        string
	ttl          time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
}

type Option func(*RedisLock)

// WithWaitTimeout 设置 Lock 的最长等待时间
func WithWaitTimeout(d time.Duration) Option {
	return func(l *RedisLock) { l.waitTimeout = d }
}

// WithPollInterval 设置抢锁轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(l *RedisLock) { l.pollInterval = d }
}

func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration, opts ...Option) *RedisLock {
	l := &RedisLock{
		client:       client,
		key:          key,
		value:        xid.New().String(),
		ttl:          ttl,
		waitTimeout:  30 * time.Second,
		pollInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the redis key guarding this lock.
func (l *RedisLock) Key() string {
	return l.key
}

func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "try lock %s", l.key)
	}
	return ok, nil
}

func (l *RedisLock) Lock(ctx context.Context) error {
	deadline := time.Now().Add(l.waitTimeout)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrap(ErrAcquireTimeout, l.key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLock) Unlock(ctx context.Context) {
	// 锁过期后被他人持有时不能误删，比较持有值后再删除
	_, _ = unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
}

// WithLock 以作用域方式持有锁，所有退出路径都会释放
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx)
	return fn()
}
